package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey is a hashed point-of-sale credential belonging to one tenant.
// Keys are deactivated on rotation or revocation and never deleted.
type APIKey struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"-"`
	TenantID         snowflake.ID `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	KeyID            string       `gorm:"column:key_id;type:varchar(64);not null;uniqueIndex" json:"key_id"`
	KeyHash          string       `gorm:"column:key_hash;type:char(64);not null;uniqueIndex" json:"-"`
	IsActive         bool         `gorm:"column:is_active;not null" json:"is_active"`
	RotatedFromKeyID *string      `gorm:"column:rotated_from_key_id;type:varchar(64)" json:"rotated_from_key_id,omitempty"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null" json:"updated_at"`
}

func (APIKey) TableName() string { return "api_keys" }

// Credential is what a valid API key resolves to.
type Credential struct {
	KeyID      string
	TenantID   snowflake.ID
	TenantName string
}

// TenantRef is the slice of a tenant row the credential store needs.
type TenantRef struct {
	ID       snowflake.ID
	Name     string
	IsActive bool
}
