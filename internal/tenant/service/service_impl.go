package service

import (
	"context"
	"strconv"
	"strings"

	apikeydomain "github.com/alicialibros/loyalty/internal/apikey/domain"
	auditdomain "github.com/alicialibros/loyalty/internal/audit/domain"
	"github.com/alicialibros/loyalty/internal/clock"
	tenantdomain "github.com/alicialibros/loyalty/internal/tenant/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxNameLength = 191

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      tenantdomain.Repository
	APIKeySvc apikeydomain.Service
	AuditSvc  auditdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      tenantdomain.Repository
	apiKeySvc apikeydomain.Service
	auditSvc  auditdomain.Service
}

func NewService(p Params) tenantdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("tenant.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		apiKeySvc: p.APIKeySvc,
		auditSvc:  p.AuditSvc,
	}
}

func (s *Service) Provision(ctx context.Context, req tenantdomain.ProvisionRequest) (*tenantdomain.ProvisionResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLength {
		return nil, tenantdomain.ErrInvalidName
	}
	base := slug.Make(name)
	if base == "" {
		return nil, tenantdomain.ErrInvalidName
	}

	var resp *tenantdomain.ProvisionResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id := s.genID.Generate()
		tenantSlug, err := s.uniqueSlug(ctx, tx, base, id)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		tenant := tenantdomain.Tenant{
			ID:        id,
			Name:      name,
			Slug:      tenantSlug,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.Insert(ctx, tx, &tenant); err != nil {
			return err
		}

		key, err := s.apiKeySvc.Issue(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			TenantID:   &id,
			Action:     auditdomain.ActionTenantProvisioned,
			TargetType: auditdomain.TargetTypeTenant,
			TargetID:   id.String(),
			Metadata: map[string]any{
				"slug":   tenantSlug,
				"key_id": key.KeyID,
			},
		}); err != nil {
			return err
		}

		resp = &tenantdomain.ProvisionResponse{Tenant: tenant, APIKey: *key}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tenant provisioned",
		zap.String("tenant_id", resp.Tenant.ID.String()),
		zap.String("slug", resp.Tenant.Slug),
	)
	return resp, nil
}

// uniqueSlug returns base, or base suffixed with the tenant id when base is taken.
func (s *Service) uniqueSlug(ctx context.Context, tx *gorm.DB, base string, id snowflake.ID) (string, error) {
	exists, err := s.repo.SlugExists(ctx, tx, base)
	if err != nil {
		return "", err
	}
	if !exists {
		return base, nil
	}
	return base + "-" + strconv.FormatInt(int64(id), 36), nil
}

func (s *Service) Deactivate(ctx context.Context, id string) (*tenantdomain.Tenant, error) {
	tenantID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var out *tenantdomain.Tenant
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.repo.FindByID(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrNotFound
		}
		if !tenant.IsActive {
			out = tenant
			return nil
		}

		now := s.clock.Now()
		if _, err := s.repo.Deactivate(ctx, tx, tenantID, now); err != nil {
			return err
		}
		revoked, err := s.apiKeySvc.DeactivateAllForTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}

		if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			TenantID:   &tenantID,
			Action:     auditdomain.ActionTenantDeactivated,
			TargetType: auditdomain.TargetTypeTenant,
			TargetID:   tenantID.String(),
			Metadata:   map[string]any{"keys_deactivated": revoked},
		}); err != nil {
			return err
		}

		tenant.IsActive = false
		tenant.UpdatedAt = now
		out = tenant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*tenantdomain.Tenant, error) {
	tenantID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	tenant, err := s.repo.FindByID(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrNotFound
	}
	return tenant, nil
}

func (s *Service) List(ctx context.Context) ([]tenantdomain.Tenant, error) {
	tenants, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if tenants == nil {
		tenants = []tenantdomain.Tenant{}
	}
	return tenants, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, tenantdomain.ErrInvalidID
	}
	return id, nil
}
