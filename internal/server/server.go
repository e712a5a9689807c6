package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	accountdomain "github.com/alicialibros/loyalty/internal/account/domain"
	apikeydomain "github.com/alicialibros/loyalty/internal/apikey/domain"
	auditdomain "github.com/alicialibros/loyalty/internal/audit/domain"
	"github.com/alicialibros/loyalty/internal/config"
	ledgerdomain "github.com/alicialibros/loyalty/internal/ledger/domain"
	"github.com/alicialibros/loyalty/internal/observability"
	obslogger "github.com/alicialibros/loyalty/internal/observability/logger"
	obsmetrics "github.com/alicialibros/loyalty/internal/observability/metrics"
	obstracing "github.com/alicialibros/loyalty/internal/observability/tracing"
	"github.com/alicialibros/loyalty/internal/ratelimit"
	tenantdomain "github.com/alicialibros/loyalty/internal/tenant/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

// GrantLimiter throttles grant requests per presented credential.
type GrantLimiter interface {
	Enabled() bool
	AllowGrant(ctx context.Context, apiKey string) (*ratelimit.RateLimitResult, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine            *gin.Engine
	cfg               config.Config
	log               *zap.Logger
	ledgerSvc         ledgerdomain.Service
	tenantSvc         tenantdomain.Service
	apiKeySvc         apikeydomain.Service
	accountSvc        accountdomain.Service
	auditSvc          auditdomain.Service
	obsMetrics        *obsmetrics.Metrics
	grantLimiter      GrantLimiter
	failedAuthLimiter *rateLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	LedgerSvc    ledgerdomain.Service
	TenantSvc    tenantdomain.Service
	APIKeySvc    apikeydomain.Service
	AccountSvc   accountdomain.Service
	AuditSvc     auditdomain.Service
	ObsMetrics   *obsmetrics.Metrics     `optional:"true"`
	GrantLimiter *ratelimit.GrantLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	svc := &Server{
		engine:            p.Gin,
		cfg:               p.Cfg,
		log:               log.Named("http.server"),
		ledgerSvc:         p.LedgerSvc,
		tenantSvc:         p.TenantSvc,
		apiKeySvc:         p.APIKeySvc,
		accountSvc:        p.AccountSvc,
		auditSvc:          p.AuditSvc,
		obsMetrics:        p.ObsMetrics,
		failedAuthLimiter: newRateLimiter(p.Cfg.RateLimit.FailedAuthLimit, p.Cfg.RateLimit.FailedAuthWindow),
	}
	if p.GrantLimiter != nil {
		svc.grantLimiter = p.GrantLimiter
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/points/grant", s.GrantPoints)
	api.POST("/grant-points", s.GrantPoints)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminAuthRequired())

	// -------- Tenants --------
	admin.POST("/tenants", s.CreateTenant)
	admin.GET("/tenants", s.ListTenants)
	admin.GET("/tenants/:id", s.GetTenant)
	admin.POST("/tenants/:id/deactivate", s.DeactivateTenant)

	// -------- API Keys --------
	admin.GET("/tenants/:id/api-keys", s.ListAPIKeys)
	admin.POST("/tenants/:id/api-keys/:key_id/rotate", s.RotateAPIKey)
	admin.POST("/tenants/:id/api-keys/:key_id/revoke", s.RevokeAPIKey)

	// -------- Accounts --------
	admin.POST("/accounts", s.OpenAccount)
	admin.GET("/accounts/:user_id", s.GetAccount)
	admin.GET("/accounts/:user_id/ledger", s.ListLedgerEntries)
	admin.GET("/accounts/:user_id/reconcile", s.ReconcileAccount)

	// -------- Audit --------
	admin.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
