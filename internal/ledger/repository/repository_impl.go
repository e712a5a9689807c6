package repository

import (
	"context"

	ledgerdomain "github.com/alicialibros/loyalty/internal/ledger/domain"
	"gorm.io/gorm"
)

const entryColumns = `id, user_id, tenant_id, amount, description, created_at`

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *ledgerdomain.LedgerEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.TenantID,
		entry.Amount,
		entry.Description,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string, cursor *ledgerdomain.EntryCursor, limit int) ([]ledgerdomain.LedgerEntry, error) {
	stmt := db.WithContext(ctx).Model(&ledgerdomain.LedgerEntry{}).
		Where("user_id = ?", userID)
	if cursor != nil {
		stmt = stmt.Where("(created_at < ? OR (created_at = ? AND id < ?))",
			cursor.CreatedAt,
			cursor.CreatedAt,
			cursor.ID,
		)
	}
	stmt = stmt.Order("created_at desc, id desc")
	if limit > 0 {
		stmt = stmt.Limit(limit + 1)
	}

	var entries []ledgerdomain.LedgerEntry
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) Totals(ctx context.Context, db *gorm.DB, userID string) (int64, int64, error) {
	var row struct {
		Total int64
		Count int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) AS total, COUNT(1) AS count FROM ledger_entries WHERE user_id = ?`,
		userID,
	).Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Total, row.Count, nil
}
