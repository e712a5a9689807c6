package service

import (
	"context"
	"strings"

	accountdomain "github.com/alicialibros/loyalty/internal/account/domain"
	auditdomain "github.com/alicialibros/loyalty/internal/audit/domain"
	"github.com/alicialibros/loyalty/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     accountdomain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     accountdomain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) accountdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("account.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Open(ctx context.Context, userID string) (*accountdomain.Account, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	account := &accountdomain.Account{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByUserID(ctx, tx, userID, false)
		if err != nil {
			return err
		}
		if existing != nil {
			return accountdomain.ErrConflict
		}
		if err := s.repo.Insert(ctx, tx, account); err != nil {
			return err
		}
		return s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			Action:     auditdomain.ActionAccountOpened,
			TargetType: auditdomain.TargetTypeAccount,
			TargetID:   userID,
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*accountdomain.Account, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindByUserID(ctx, s.db, userID, false)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrNotFound
	}
	return account, nil
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > accountdomain.MaxUserIDLength {
		return "", accountdomain.ErrInvalidUserID
	}
	return userID, nil
}
