package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeAdmin  ActorType = "admin"
	ActorTypeTenant ActorType = "tenant"
	ActorTypeSystem ActorType = "system"
)

const (
	ActionTenantProvisioned = "tenant.provisioned"
	ActionTenantDeactivated = "tenant.deactivated"
	ActionAPIKeyRotated     = "api_key.rotated"
	ActionAPIKeyRevoked     = "api_key.revoked"
	ActionAccountOpened     = "account.opened"
	ActionPointsGranted     = "points.granted"
)

const (
	TargetTypeTenant  = "tenant"
	TargetTypeAPIKey  = "api_key"
	TargetTypeAccount = "account"
)

// AuditLog is an append-only record of an administrative action or a committed grant.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID   *snowflake.ID     `gorm:"column:tenant_id;index" json:"tenant_id,omitempty"`
	ActorType  string            `gorm:"column:actor_type;type:varchar(32);not null" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id;type:varchar(191)" json:"actor_id,omitempty"`
	Action     string            `gorm:"column:action;type:varchar(64);not null;index" json:"action"`
	TargetType string            `gorm:"column:target_type;type:varchar(32);not null" json:"target_type"`
	TargetID   *string           `gorm:"column:target_id;type:varchar(191)" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata" json:"metadata"`
	IPAddress  *string           `gorm:"column:ip_address;type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"column:user_agent;type:text" json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Entry describes an audit row before request metadata is attached.
type Entry struct {
	TenantID   *snowflake.ID
	ActorType  ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}
