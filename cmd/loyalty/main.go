package main

import (
	"fmt"

	"github.com/alicialibros/loyalty/internal/account"
	"github.com/alicialibros/loyalty/internal/apikey"
	"github.com/alicialibros/loyalty/internal/audit"
	"github.com/alicialibros/loyalty/internal/clock"
	"github.com/alicialibros/loyalty/internal/config"
	"github.com/alicialibros/loyalty/internal/ledger"
	"github.com/alicialibros/loyalty/internal/migration"
	"github.com/alicialibros/loyalty/internal/observability"
	"github.com/alicialibros/loyalty/internal/ratelimit"
	"github.com/alicialibros/loyalty/internal/server"
	"github.com/alicialibros/loyalty/internal/tenant"
	"github.com/alicialibros/loyalty/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		audit.Module,
		apikey.Module,
		tenant.Module,
		account.Module,
		ledger.Module,

		ratelimit.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNode, err)
	}
	return node, nil
}
