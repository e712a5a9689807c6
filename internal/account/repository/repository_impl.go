package repository

import (
	"context"
	"time"

	accountdomain "github.com/alicialibros/loyalty/internal/account/domain"
	"github.com/alicialibros/loyalty/pkg/db"
	"gorm.io/gorm"
)

const accountColumns = `user_id, points_balance, version, created_at, updated_at`

type repo struct{}

func Provide() accountdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, account *accountdomain.Account) error {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?)`,
		account.UserID,
		account.PointsBalance,
		account.Version,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
	if db.IsDuplicateKeyErr(err) {
		return accountdomain.ErrConflict
	}
	return err
}

func (r *repo) FindByUserID(ctx context.Context, conn *gorm.DB, userID string, forUpdate bool) (*accountdomain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = ?`
	if forUpdate && db.SupportsRowLocks(conn) {
		query += ` FOR UPDATE`
	}

	var account accountdomain.Account
	if err := conn.WithContext(ctx).Raw(query, userID).Scan(&account).Error; err != nil {
		return nil, err
	}
	if account.UserID == "" {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) UpdateBalance(ctx context.Context, conn *gorm.DB, userID string, balance, expectedVersion int64, now time.Time) (int64, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE accounts SET points_balance = ?, version = version + 1, updated_at = ? WHERE user_id = ? AND version = ?`,
		balance,
		now,
		userID,
		expectedVersion,
	)
	return res.RowsAffected, res.Error
}
