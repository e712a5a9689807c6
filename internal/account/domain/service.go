package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const MaxUserIDLength = 191

type Service interface {
	// Open creates an account with a zero balance.
	Open(ctx context.Context, userID string) (*Account, error)
	Get(ctx context.Context, userID string) (*Account, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	// FindByUserID returns nil when no account exists. forUpdate takes a row
	// lock on dialects that support it.
	FindByUserID(ctx context.Context, db *gorm.DB, userID string, forUpdate bool) (*Account, error)
	// UpdateBalance writes balance only if the row is still at expectedVersion
	// and reports how many rows changed.
	UpdateBalance(ctx context.Context, db *gorm.DB, userID string, balance, expectedVersion int64, now time.Time) (int64, error)
}

var (
	ErrInvalidUserID = errors.New("invalid_user_id")
	ErrNotFound      = errors.New("account_not_found")
	ErrConflict      = errors.New("account_already_exists")
)
