package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// CredentialStore resolves a presented API key to its tenant.
type CredentialStore interface {
	FindActiveByKey(ctx context.Context, apiKey string) (*Credential, error)
}

type Service interface {
	CredentialStore

	// Issue creates a new active key for tenantID on db, which may be a caller transaction.
	Issue(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*SecretResponse, error)
	List(ctx context.Context, tenantID string) ([]Response, error)
	Rotate(ctx context.Context, tenantID, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, tenantID, keyID string) error
	DeactivateAllForTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByHash(ctx context.Context, db *gorm.DB, keyHash string) (*APIKey, error)
	FindByKeyID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, keyID string) (*APIKey, error)
	FindTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*TenantRef, error)
	List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]APIKey, error)
	Deactivate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, keyID string, now time.Time) (int64, error)
	DeactivateAll(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, now time.Time) (int64, error)
}

type Response struct {
	KeyID            string    `json:"key_id"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	RotatedFromKeyID *string   `json:"rotated_from_key_id,omitempty"`
}

// SecretResponse carries the plaintext key. It is returned once, at creation.
type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

var (
	ErrInvalidCredential = errors.New("invalid_credential")
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidKeyID      = errors.New("invalid_key_id")
	ErrNotFound          = errors.New("api_key_not_found")
)
