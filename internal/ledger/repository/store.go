package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	accountdomain "github.com/alicialibros/loyalty/internal/account/domain"
	auditdomain "github.com/alicialibros/loyalty/internal/audit/domain"
	"github.com/alicialibros/loyalty/internal/clock"
	"github.com/alicialibros/loyalty/internal/config"
	ledgerdomain "github.com/alicialibros/loyalty/internal/ledger/domain"
	obsmetrics "github.com/alicialibros/loyalty/internal/observability/metrics"
	"github.com/alicialibros/loyalty/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const retryBackoff = 10 * time.Millisecond

type StoreParams struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Config      config.Config
	Repo        ledgerdomain.Repository
	AccountRepo accountdomain.Repository
	AuditSvc    auditdomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type gormStore struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	maxAttempts int
	repo        ledgerdomain.Repository
	accountRepo accountdomain.Repository
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewStore(p StoreParams) ledgerdomain.Store {
	attempts := p.Config.Ledger.MaxTxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &gormStore{
		db:          p.DB,
		log:         p.Log.Named("ledger.store"),
		clock:       p.Clock,
		maxAttempts: attempts,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *gormStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledgerdomain.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		lastErr = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(ctx, &gormTx{store: s, tx: tx})
		})
		if lastErr == nil {
			return nil
		}
		if !isConflict(lastErr) {
			return lastErr
		}
		if attempt == s.maxAttempts {
			break
		}

		s.obsMetrics.RecordTxRetry(ctx, conflictReason(lastErr))
		s.log.Debug("retrying grant transaction", zap.Int("attempt", attempt), zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}

	if errors.Is(lastErr, ledgerdomain.ErrWriteConflict) {
		return fmt.Errorf("%w after %d attempts", ledgerdomain.ErrWriteConflict, s.maxAttempts)
	}
	return fmt.Errorf("%w after %d attempts: %w", ledgerdomain.ErrWriteConflict, s.maxAttempts, lastErr)
}

func isConflict(err error) bool {
	return errors.Is(err, ledgerdomain.ErrWriteConflict) || db.IsRetryableTxErr(err)
}

func conflictReason(err error) string {
	if errors.Is(err, ledgerdomain.ErrWriteConflict) {
		return "version_mismatch"
	}
	return "serialization_failure"
}

type gormTx struct {
	store *gormStore
	tx    *gorm.DB
}

func (t *gormTx) GetAccount(ctx context.Context, userID string) (*accountdomain.Account, error) {
	return t.store.accountRepo.FindByUserID(ctx, t.tx, userID, true)
}

func (t *gormTx) SetBalance(ctx context.Context, account *accountdomain.Account, balance int64) error {
	if account == nil {
		return ledgerdomain.ErrAccountNotFound
	}
	affected, err := t.store.accountRepo.UpdateBalance(ctx, t.tx, account.UserID, balance, account.Version, t.store.clock.Now())
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledgerdomain.ErrWriteConflict
	}
	account.PointsBalance = balance
	account.Version++
	return nil
}

func (t *gormTx) AppendEntry(ctx context.Context, entry *ledgerdomain.LedgerEntry) error {
	return t.store.repo.Insert(ctx, t.tx, entry)
}

func (t *gormTx) Audit(ctx context.Context, entry auditdomain.Entry) error {
	return t.store.auditSvc.RecordTx(ctx, t.tx, entry)
}
