package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	accountdomain "github.com/alicialibros/loyalty/internal/account/domain"
	apikeydomain "github.com/alicialibros/loyalty/internal/apikey/domain"
	auditdomain "github.com/alicialibros/loyalty/internal/audit/domain"
	"github.com/alicialibros/loyalty/internal/clock"
	"github.com/alicialibros/loyalty/internal/config"
	ledgerdomain "github.com/alicialibros/loyalty/internal/ledger/domain"
	"github.com/alicialibros/loyalty/internal/observability/logger"
	obsmetrics "github.com/alicialibros/loyalty/internal/observability/metrics"
	"github.com/alicialibros/loyalty/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	grantedMessage  = "Successfully granted %d points."
	noPointsMessage = "No points granted for this purchase amount."
	maxUserIDLength = accountdomain.MaxUserIDLength
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Store       ledgerdomain.Store
	Repo        ledgerdomain.Repository
	AccountRepo accountdomain.Repository
	Credentials apikeydomain.CredentialStore
	Rewards     *config.RewardsConfigHolder
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	store       ledgerdomain.Store
	repo        ledgerdomain.Repository
	accountRepo accountdomain.Repository
	credentials apikeydomain.CredentialStore
	rewards     *config.RewardsConfigHolder
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("ledger.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		store:       p.Store,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
		credentials: p.Credentials,
		rewards:     p.Rewards,
		obsMetrics:  p.ObsMetrics,
	}
}

// GrantPoints credits floor(purchaseAmount x pointsPerUnit) points to the
// reader. Input is validated before the credential is looked up, and the
// balance update, ledger entry and audit row are written in one transaction.
// A grant that rounds to zero points succeeds without touching the store.
func (s *Service) GrantPoints(ctx context.Context, req ledgerdomain.GrantRequest) (*ledgerdomain.GrantResult, error) {
	policy := s.rewards.Get()

	userID, amount, err := validateGrant(req, policy)
	if err != nil {
		s.obsMetrics.RecordGrantOutcome(ctx, obsmetrics.OutcomeInvalidInput)
		return nil, err
	}

	cred, err := s.credentials.FindActiveByKey(ctx, req.APIKey)
	if err != nil {
		if errors.Is(err, apikeydomain.ErrInvalidCredential) {
			s.obsMetrics.RecordGrantOutcome(ctx, obsmetrics.OutcomeUnauthorized)
			return nil, ledgerdomain.ErrInvalidAPIKey
		}
		s.obsMetrics.RecordGrantOutcome(ctx, obsmetrics.OutcomeTxFailed)
		return nil, err
	}

	points, ok := policy.PointsFor(amount)
	if !ok {
		s.obsMetrics.RecordGrantOutcome(ctx, obsmetrics.OutcomeInvalidInput)
		return nil, ledgerdomain.ErrPurchaseAmountTooLarge
	}
	if points <= 0 {
		s.obsMetrics.RecordGrantOutcome(ctx, obsmetrics.OutcomeZeroPoints)
		return &ledgerdomain.GrantResult{
			PointsGranted: 0,
			Message:       noPointsMessage,
			TenantID:      cred.TenantID,
		}, nil
	}

	description := policy.Describe(cred.TenantName)
	var balance int64
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx ledgerdomain.Tx) error {
		account, err := tx.GetAccount(ctx, userID)
		if err != nil {
			return err
		}
		if account == nil {
			return ledgerdomain.ErrAccountNotFound
		}
		if account.PointsBalance > math.MaxInt64-points {
			return fmt.Errorf("balance overflow for %d points", points)
		}

		balance = account.PointsBalance + points
		if err := tx.SetBalance(ctx, account, balance); err != nil {
			return err
		}

		entry, err := ledgerdomain.NewEntry(s.clock, s.genID.Generate(), userID, cred.TenantID, points, description)
		if err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}

		tenantID := cred.TenantID
		return tx.Audit(ctx, auditdomain.Entry{
			TenantID:   &tenantID,
			ActorType:  auditdomain.ActorTypeTenant,
			ActorID:    cred.KeyID,
			Action:     auditdomain.ActionPointsGranted,
			TargetType: auditdomain.TargetTypeAccount,
			TargetID:   userID,
			Metadata: map[string]any{
				"ledger_entry_id": entry.ID.String(),
				"points":          points,
				"balance":         balance,
			},
		})
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
			s.obsMetrics.RecordGrantOutcome(ctx, obsmetrics.OutcomeNoAccount)
			return nil, err
		}
		s.obsMetrics.RecordGrantOutcome(ctx, obsmetrics.OutcomeTxFailed)
		logger.WithContext(ctx, s.log).Error("grant transaction failed",
			zap.String("tenant_id", cred.TenantID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.obsMetrics.RecordGrantOutcome(ctx, obsmetrics.OutcomeGranted)
	s.obsMetrics.RecordGrant(ctx, cred.TenantID.String(), points)
	logger.WithContext(ctx, s.log).Info("points granted",
		zap.String("tenant_id", cred.TenantID.String()),
		zap.Int64("points", points),
	)

	return &ledgerdomain.GrantResult{
		PointsGranted: points,
		Message:       fmt.Sprintf(grantedMessage, points),
		TenantID:      cred.TenantID,
	}, nil
}

func (s *Service) ValidateGrant(req ledgerdomain.GrantRequest) error {
	_, _, err := validateGrant(req, s.rewards.Get())
	return err
}

func validateGrant(req ledgerdomain.GrantRequest, policy config.RewardsConfig) (string, float64, error) {
	userID := req.UserID
	if strings.TrimSpace(userID) == "" || req.PurchaseAmount == nil || strings.TrimSpace(req.APIKey) == "" {
		return "", 0, ledgerdomain.ErrMissingFields
	}
	if len(userID) > maxUserIDLength {
		return "", 0, ledgerdomain.ErrInvalidUserID
	}

	amount := *req.PurchaseAmount
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return "", 0, ledgerdomain.ErrInvalidPurchaseAmount
	}
	if policy.ExceedsLimit(amount) {
		return "", 0, ledgerdomain.ErrPurchaseAmountTooLarge
	}
	return userID, amount, nil
}

func (s *Service) ListEntries(ctx context.Context, req ledgerdomain.ListEntriesRequest) (ledgerdomain.ListEntriesResponse, error) {
	userID, err := s.existingAccount(ctx, req.UserID)
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, err
	}

	var cursor *ledgerdomain.EntryCursor
	decoded, createdAt, err := req.Pagination.Cursor()
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrInvalidPageToken
	}
	if decoded != nil {
		id, err := snowflake.ParseString(decoded.ID)
		if err != nil || id == 0 {
			return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		cursor = &ledgerdomain.EntryCursor{ID: id, CreatedAt: createdAt}
	}

	limit := req.Pagination.Limit()
	rows, err := s.repo.ListByUser(ctx, s.db, userID, cursor, limit)
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, err
	}

	entries, pageInfo, err := pagination.Page(rows, limit, func(entry ledgerdomain.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{
			ID:        entry.ID.String(),
			CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, err
	}
	if entries == nil {
		entries = []ledgerdomain.LedgerEntry{}
	}
	return ledgerdomain.ListEntriesResponse{PageInfo: pageInfo, Entries: entries}, nil
}

// Reconcile reads the balance and the ledger totals in one transaction so a
// concurrent grant cannot land between the two reads.
func (s *Service) Reconcile(ctx context.Context, userID string) (*ledgerdomain.Reconciliation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > maxUserIDLength {
		return nil, accountdomain.ErrInvalidUserID
	}

	var out ledgerdomain.Reconciliation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.FindByUserID(ctx, tx, userID, true)
		if err != nil {
			return err
		}
		if account == nil {
			return accountdomain.ErrNotFound
		}
		total, count, err := s.repo.Totals(ctx, tx, userID)
		if err != nil {
			return err
		}
		out = ledgerdomain.Reconciliation{
			UserID:      userID,
			Balance:     account.PointsBalance,
			LedgerTotal: total,
			EntryCount:  count,
			Consistent:  account.PointsBalance == total,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !out.Consistent {
		logger.WithContext(ctx, s.log).Warn("ledger out of balance",
			zap.Int64("balance", out.Balance),
			zap.Int64("ledger_total", out.LedgerTotal),
		)
	}
	return &out, nil
}

func (s *Service) existingAccount(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > maxUserIDLength {
		return "", accountdomain.ErrInvalidUserID
	}
	account, err := s.accountRepo.FindByUserID(ctx, s.db, userID, false)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", accountdomain.ErrNotFound
	}
	return userID, nil
}
