package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tenant is a bookstore on the marketplace. Only active tenants can grant points.
type Tenant struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:varchar(191);not null" json:"name"`
	Slug      string       `gorm:"type:varchar(191);not null;uniqueIndex" json:"slug"`
	IsActive  bool         `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }
