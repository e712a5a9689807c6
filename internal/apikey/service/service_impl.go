package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	apikeydomain "github.com/alicialibros/loyalty/internal/apikey/domain"
	auditdomain "github.com/alicialibros/loyalty/internal/audit/domain"
	"github.com/alicialibros/loyalty/internal/clock"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiKeyPrefix      = "al_live_"
	apiKeySecretBytes = 32
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     apikeydomain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     apikeydomain.Repository
	auditSvc auditdomain.Service
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("apikey.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

// FindActiveByKey resolves apiKey to its tenant. The key must exist and be
// active, and its tenant must exist and be active. Every miss returns
// ErrInvalidCredential so callers cannot tell which check failed. The key is
// matched exactly as presented.
func (s *Service) FindActiveByKey(ctx context.Context, apiKey string) (*apikeydomain.Credential, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, apikeydomain.ErrInvalidCredential
	}

	key, err := s.repo.FindByHash(ctx, s.db, apikeydomain.HashAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("find api key: %w", err)
	}
	if key == nil || !apikeydomain.HashMatches(key.KeyHash, apiKey) || !key.IsActive {
		return nil, apikeydomain.ErrInvalidCredential
	}

	tenant, err := s.repo.FindTenant(ctx, s.db, key.TenantID)
	if err != nil {
		return nil, fmt.Errorf("find tenant: %w", err)
	}
	if tenant == nil || !tenant.IsActive {
		return nil, apikeydomain.ErrInvalidCredential
	}

	return &apikeydomain.Credential{
		KeyID:      key.KeyID,
		TenantID:   tenant.ID,
		TenantName: tenant.Name,
	}, nil
}

func (s *Service) Issue(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*apikeydomain.SecretResponse, error) {
	if tenantID == 0 {
		return nil, apikeydomain.ErrInvalidTenant
	}
	key, plain, err := s.newKey(tenantID, nil)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, db, key); err != nil {
		return nil, err
	}
	return &apikeydomain.SecretResponse{KeyID: key.KeyID, APIKey: plain}, nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]apikeydomain.Response, error) {
	id, err := parseTenantID(tenantID)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.List(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, apikeydomain.Response{
			KeyID:            items[i].KeyID,
			IsActive:         items[i].IsActive,
			CreatedAt:        items[i].CreatedAt,
			RotatedFromKeyID: items[i].RotatedFromKeyID,
		})
	}
	return resp, nil
}

// Rotate deactivates keyID and issues its replacement in one transaction.
// The old key stops working as soon as the transaction commits.
func (s *Service) Rotate(ctx context.Context, tenantID, keyID string) (*apikeydomain.SecretResponse, error) {
	id, err := parseTenantID(tenantID)
	if err != nil {
		return nil, err
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return nil, apikeydomain.ErrInvalidKeyID
	}

	var result *apikeydomain.SecretResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByKeyID(ctx, tx, id, keyID)
		if err != nil {
			return err
		}
		if current == nil || !current.IsActive {
			return apikeydomain.ErrNotFound
		}

		affected, err := s.repo.Deactivate(ctx, tx, id, keyID, s.clock.Now())
		if err != nil {
			return err
		}
		if affected == 0 {
			return apikeydomain.ErrNotFound
		}

		rotatedFrom := current.KeyID
		next, plain, err := s.newKey(id, &rotatedFrom)
		if err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, next); err != nil {
			return err
		}

		if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			TenantID:   &id,
			Action:     auditdomain.ActionAPIKeyRotated,
			TargetType: auditdomain.TargetTypeAPIKey,
			TargetID:   next.KeyID,
			Metadata:   map[string]any{"rotated_from_key_id": rotatedFrom},
		}); err != nil {
			return err
		}

		result = &apikeydomain.SecretResponse{KeyID: next.KeyID, APIKey: plain}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("api key rotated", zap.String("tenant_id", id.String()), zap.String("key_id", result.KeyID))
	return result, nil
}

func (s *Service) Revoke(ctx context.Context, tenantID, keyID string) error {
	id, err := parseTenantID(tenantID)
	if err != nil {
		return err
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return apikeydomain.ErrInvalidKeyID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key, err := s.repo.FindByKeyID(ctx, tx, id, keyID)
		if err != nil {
			return err
		}
		if key == nil {
			return apikeydomain.ErrNotFound
		}
		if !key.IsActive {
			return nil
		}

		if _, err := s.repo.Deactivate(ctx, tx, id, keyID, s.clock.Now()); err != nil {
			return err
		}
		return s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			TenantID:   &id,
			Action:     auditdomain.ActionAPIKeyRevoked,
			TargetType: auditdomain.TargetTypeAPIKey,
			TargetID:   keyID,
		})
	})
}

func (s *Service) DeactivateAllForTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error) {
	if tenantID == 0 {
		return 0, apikeydomain.ErrInvalidTenant
	}
	return s.repo.DeactivateAll(ctx, db, tenantID, s.clock.Now())
}

func (s *Service) newKey(tenantID snowflake.ID, rotatedFrom *string) (*apikeydomain.APIKey, string, error) {
	id := s.genID.Generate()
	keyID := newKeyID(id)
	plain, hash, err := generateAPIKey(keyID)
	if err != nil {
		return nil, "", err
	}

	now := s.clock.Now()
	return &apikeydomain.APIKey{
		ID:               id,
		TenantID:         tenantID,
		KeyID:            keyID,
		KeyHash:          hash,
		IsActive:         true,
		RotatedFromKeyID: rotatedFrom,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, plain, nil
}

func generateAPIKey(keyID string) (string, string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}

	plain := apiKeyPrefix + strings.TrimPrefix(keyID, "key_") + "_" + hex.EncodeToString(secret)
	return plain, apikeydomain.HashAPIKey(plain), nil
}

func newKeyID(id snowflake.ID) string {
	return "key_" + strings.ToUpper(strconv.FormatInt(int64(id), 36))
}

func parseTenantID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, apikeydomain.ErrInvalidTenant
	}
	return id, nil
}
