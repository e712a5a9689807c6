package domain

import (
	"context"
	"errors"
	"time"

	apikeydomain "github.com/alicialibros/loyalty/internal/apikey/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// Provision creates an active tenant together with its first API key.
	Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error)
	// Deactivate disables the tenant and every key it owns.
	Deactivate(ctx context.Context, id string) (*Tenant, error)
	Get(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error)
	List(ctx context.Context, db *gorm.DB) ([]Tenant, error)
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int64, error)
}

type ProvisionRequest struct {
	Name string `json:"name"`
}

type ProvisionResponse struct {
	Tenant Tenant                      `json:"tenant"`
	APIKey apikeydomain.SecretResponse `json:"api_key"`
}

var (
	ErrInvalidName = errors.New("invalid_name")
	ErrInvalidID   = errors.New("invalid_tenant_id")
	ErrNotFound    = errors.New("tenant_not_found")
)
