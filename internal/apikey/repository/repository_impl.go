package repository

import (
	"context"
	"time"

	apikeydomain "github.com/alicialibros/loyalty/internal/apikey/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const keyColumns = `id, tenant_id, key_id, key_hash, is_active, rotated_from_key_id, created_at, updated_at`

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO api_keys (`+keyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		key.TenantID,
		key.KeyID,
		key.KeyHash,
		key.IsActive,
		key.RotatedFromKeyID,
		key.CreatedAt,
		key.UpdatedAt,
	).Error
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, keyHash string) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT `+keyColumns+` FROM api_keys WHERE key_hash = ?`,
		keyHash,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) FindByKeyID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, keyID string) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT `+keyColumns+` FROM api_keys WHERE tenant_id = ? AND key_id = ?`,
		tenantID,
		keyID,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) FindTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*apikeydomain.TenantRef, error) {
	var ref apikeydomain.TenantRef
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, is_active FROM tenants WHERE id = ?`,
		tenantID,
	).Scan(&ref).Error
	if err != nil {
		return nil, err
	}
	if ref.ID == 0 {
		return nil, nil
	}
	return &ref, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]apikeydomain.APIKey, error) {
	var keys []apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT `+keyColumns+` FROM api_keys WHERE tenant_id = ? ORDER BY created_at DESC, id DESC`,
		tenantID,
	).Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, keyID string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE api_keys SET is_active = ?, updated_at = ? WHERE tenant_id = ? AND key_id = ? AND is_active = ?`,
		false,
		now,
		tenantID,
		keyID,
		true,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) DeactivateAll(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE api_keys SET is_active = ?, updated_at = ? WHERE tenant_id = ? AND is_active = ?`,
		false,
		now,
		tenantID,
		true,
	)
	return res.RowsAffected, res.Error
}
