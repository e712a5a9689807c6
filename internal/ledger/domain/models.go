package domain

import (
	"strings"
	"time"

	"github.com/alicialibros/loyalty/internal/clock"
	"github.com/bwmarrin/snowflake"
)

// LedgerEntry is an immutable record of one point grant. Entries are only
// ever inserted, and a reader's balance equals the sum of their entries.
type LedgerEntry struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID      string       `gorm:"column:user_id;type:varchar(191);not null;index:ix_ledger_entries_user_created,priority:1" json:"user_id"`
	TenantID    snowflake.ID `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	Amount      int64        `gorm:"column:amount;not null" json:"amount"`
	Description string       `gorm:"column:description;type:text;not null" json:"description"`
	CreatedAt   time.Time    `gorm:"column:created_at;not null;index:ix_ledger_entries_user_created,priority:2" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// NewEntry builds a ledger entry stamped with clk. amount must be positive.
func NewEntry(clk clock.Clock, id snowflake.ID, userID string, tenantID snowflake.ID, amount int64, description string) (*LedgerEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || tenantID == 0 || id == 0 {
		return nil, ErrInvalidEntry
	}
	if amount <= 0 {
		return nil, ErrInvalidEntryAmount
	}
	return &LedgerEntry{
		ID:          id,
		UserID:      userID,
		TenantID:    tenantID,
		Amount:      amount,
		Description: strings.TrimSpace(description),
		CreatedAt:   clk.Now(),
	}, nil
}
