package domain

import (
	"context"
	"errors"
	"time"

	accountdomain "github.com/alicialibros/loyalty/internal/account/domain"
	auditdomain "github.com/alicialibros/loyalty/internal/audit/domain"
	"github.com/alicialibros/loyalty/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type GrantRequest struct {
	UserID string
	// PurchaseAmount is nil when the caller omitted it.
	PurchaseAmount *float64
	APIKey         string
}

type GrantResult struct {
	PointsGranted int64
	Message       string
	TenantID      snowflake.ID
}

type ListEntriesRequest struct {
	pagination.Pagination
	UserID string
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []LedgerEntry `json:"entries"`
}

// Reconciliation compares an account's cached balance with its ledger.
type Reconciliation struct {
	UserID      string `json:"user_id"`
	Balance     int64  `json:"balance"`
	LedgerTotal int64  `json:"ledger_total"`
	EntryCount  int64  `json:"entry_count"`
	Consistent  bool   `json:"consistent"`
}

type Service interface {
	// ValidateGrant runs the input checks GrantPoints applies before any
	// lookup. It reads nothing and writes nothing.
	ValidateGrant(req GrantRequest) error
	GrantPoints(ctx context.Context, req GrantRequest) (*GrantResult, error)
	ListEntries(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)
	Reconcile(ctx context.Context, userID string) (*Reconciliation, error)
}

// Tx is the set of writes a grant performs. Everything done through one Tx
// commits together or not at all.
type Tx interface {
	// GetAccount reads the account for update. It returns nil when the account does not exist.
	GetAccount(ctx context.Context, userID string) (*accountdomain.Account, error)
	// SetBalance writes balance if account has not changed since it was read,
	// and returns ErrWriteConflict otherwise.
	SetBalance(ctx context.Context, account *accountdomain.Account, balance int64) error
	AppendEntry(ctx context.Context, entry *LedgerEntry) error
	Audit(ctx context.Context, entry auditdomain.Entry) error
}

// Store runs fn inside a database transaction. A transaction aborted by a
// write conflict is run again from the start, up to the configured attempts.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type EntryCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error
	ListByUser(ctx context.Context, db *gorm.DB, userID string, cursor *EntryCursor, limit int) ([]LedgerEntry, error)
	Totals(ctx context.Context, db *gorm.DB, userID string) (sum int64, count int64, err error)
}

var (
	ErrMissingFields          = errors.New("missing_required_fields")
	ErrInvalidUserID          = errors.New("invalid_user_id")
	ErrInvalidPurchaseAmount  = errors.New("invalid_purchase_amount")
	ErrPurchaseAmountTooLarge = errors.New("purchase_amount_too_large")
	ErrInvalidAPIKey          = errors.New("invalid_api_key")
	ErrAccountNotFound        = errors.New("account_not_found")
	ErrWriteConflict          = errors.New("write_conflict")
	ErrInvalidEntry           = errors.New("invalid_ledger_entry")
	ErrInvalidEntryAmount     = errors.New("invalid_ledger_entry_amount")
	ErrInvalidPageToken       = errors.New("invalid_page_token")
)
