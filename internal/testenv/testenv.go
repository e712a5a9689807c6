// Package testenv wires the loyalty services against an in-memory database
// for tests that need more than one domain.
package testenv

import (
	"context"
	"testing"
	"time"

	accountdomain "github.com/alicialibros/loyalty/internal/account/domain"
	accountrepo "github.com/alicialibros/loyalty/internal/account/repository"
	accountsvc "github.com/alicialibros/loyalty/internal/account/service"
	apikeydomain "github.com/alicialibros/loyalty/internal/apikey/domain"
	apikeyrepo "github.com/alicialibros/loyalty/internal/apikey/repository"
	apikeysvc "github.com/alicialibros/loyalty/internal/apikey/service"
	auditdomain "github.com/alicialibros/loyalty/internal/audit/domain"
	auditrepo "github.com/alicialibros/loyalty/internal/audit/repository"
	auditsvc "github.com/alicialibros/loyalty/internal/audit/service"
	"github.com/alicialibros/loyalty/internal/clock"
	"github.com/alicialibros/loyalty/internal/config"
	ledgerdomain "github.com/alicialibros/loyalty/internal/ledger/domain"
	ledgerrepo "github.com/alicialibros/loyalty/internal/ledger/repository"
	ledgersvc "github.com/alicialibros/loyalty/internal/ledger/service"
	tenantdomain "github.com/alicialibros/loyalty/internal/tenant/domain"
	tenantrepo "github.com/alicialibros/loyalty/internal/tenant/repository"
	tenantsvc "github.com/alicialibros/loyalty/internal/tenant/service"
	"github.com/alicialibros/loyalty/pkg/db/dbtest"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var epoch = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type Env struct {
	DB      *gorm.DB
	Clock   *clock.FakeClock
	GenID   *snowflake.Node
	Rewards *config.RewardsConfigHolder

	AccountRepo accountdomain.Repository
	LedgerRepo  ledgerdomain.Repository
	Store       ledgerdomain.Store

	Audit    auditdomain.Service
	APIKeys  apikeydomain.Service
	Tenants  tenantdomain.Service
	Accounts accountdomain.Service
	Ledger   ledgerdomain.Service
}

type Option func(*options)

type options struct {
	rewards      config.RewardsConfig
	maxTxAttempt int
	store        func(ledgerdomain.Store) ledgerdomain.Store
	fileConns    int
}

func WithRewards(cfg config.RewardsConfig) Option {
	return func(o *options) { o.rewards = cfg }
}

func WithMaxTxAttempts(n int) Option {
	return func(o *options) { o.maxTxAttempt = n }
}

// WithStore wraps the database-backed store, for tests that inject failures.
func WithStore(wrap func(ledgerdomain.Store) ledgerdomain.Store) Option {
	return func(o *options) { o.store = wrap }
}

// WithFileDB backs the env with a file database and a pool of conns
// connections instead of the single-connection in-memory one.
func WithFileDB(conns int) Option {
	return func(o *options) { o.fileConns = conns }
}

func New(t *testing.T, opts ...Option) *Env {
	t.Helper()

	o := options{rewards: config.DefaultRewardsConfig(), maxTxAttempt: 3}
	for _, opt := range opts {
		opt(&o)
	}

	var conn *gorm.DB
	if o.fileConns > 0 {
		conn = dbtest.OpenFile(t, o.fileConns)
	} else {
		conn = dbtest.Open(t)
	}
	log := zap.NewNop()
	clk := clock.NewFakeClock(epoch)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	cfg := config.Config{Ledger: config.LedgerConfig{MaxTxAttempts: o.maxTxAttempt}}
	env := &Env{
		DB:          conn,
		Clock:       clk,
		GenID:       node,
		Rewards:     config.NewStaticRewardsConfigHolder(o.rewards),
		AccountRepo: accountrepo.Provide(),
		LedgerRepo:  ledgerrepo.Provide(),
	}

	env.Audit = auditsvc.NewService(auditsvc.Params{
		DB: conn, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	env.APIKeys = apikeysvc.New(apikeysvc.Params{
		DB: conn, Log: log, GenID: node, Clock: clk, Repo: apikeyrepo.Provide(), AuditSvc: env.Audit,
	})
	env.Tenants = tenantsvc.NewService(tenantsvc.Params{
		DB: conn, Log: log, GenID: node, Clock: clk, Repo: tenantrepo.Provide(),
		APIKeySvc: env.APIKeys, AuditSvc: env.Audit,
	})
	env.Accounts = accountsvc.NewService(accountsvc.Params{
		DB: conn, Log: log, Clock: clk, Repo: env.AccountRepo, AuditSvc: env.Audit,
	})

	env.Store = ledgerrepo.NewStore(ledgerrepo.StoreParams{
		DB: conn, Log: log, Clock: clk, Config: cfg,
		Repo: env.LedgerRepo, AccountRepo: env.AccountRepo, AuditSvc: env.Audit,
	})
	store := env.Store
	if o.store != nil {
		store = o.store(env.Store)
	}
	env.Ledger = ledgersvc.NewService(ledgersvc.Params{
		DB: conn, Log: log, GenID: node, Clock: clk,
		Store: store, Repo: env.LedgerRepo, AccountRepo: env.AccountRepo,
		Credentials: env.APIKeys, Rewards: env.Rewards,
	})
	return env
}

// Tenant provisions an active tenant and returns it with its plaintext key.
func (e *Env) Tenant(t *testing.T, name string) (*tenantdomain.Tenant, string) {
	t.Helper()
	resp, err := e.Tenants.Provision(context.Background(), tenantdomain.ProvisionRequest{Name: name})
	if err != nil {
		t.Fatalf("provision tenant %q: %v", name, err)
	}
	return &resp.Tenant, resp.APIKey.APIKey
}

// Account opens an account and, when balance is positive, seeds it directly.
func (e *Env) Account(t *testing.T, userID string, balance int64) {
	t.Helper()
	if _, err := e.Accounts.Open(context.Background(), userID); err != nil {
		t.Fatalf("open account %q: %v", userID, err)
	}
	if balance == 0 {
		return
	}
	if err := e.DB.Exec(
		`UPDATE accounts SET points_balance = ? WHERE user_id = ?`, balance, userID,
	).Error; err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func (e *Env) Balance(t *testing.T, userID string) int64 {
	t.Helper()
	var balance int64
	if err := e.DB.Raw(`SELECT points_balance FROM accounts WHERE user_id = ?`, userID).Scan(&balance).Error; err != nil {
		t.Fatalf("read balance: %v", err)
	}
	return balance
}

func (e *Env) EntryCount(t *testing.T, userID string) int64 {
	t.Helper()
	var count int64
	if err := e.DB.Raw(`SELECT COUNT(*) FROM ledger_entries WHERE user_id = ?`, userID).Scan(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return count
}

func (e *Env) AuditCount(t *testing.T, action string) int64 {
	t.Helper()
	var count int64
	if err := e.DB.Raw(`SELECT COUNT(*) FROM audit_logs WHERE action = ?`, action).Scan(&count).Error; err != nil {
		t.Fatalf("count audit logs: %v", err)
	}
	return count
}
