package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/steeplehq/giving/internal/config"
	"github.com/steeplehq/giving/internal/gateway"
	"github.com/steeplehq/giving/internal/ledger"
	"github.com/steeplehq/giving/internal/logger"
	"github.com/steeplehq/giving/internal/metrics"
	"github.com/steeplehq/giving/internal/migration"
	"github.com/steeplehq/giving/internal/server"
	"github.com/steeplehq/giving/internal/settings"
	"github.com/steeplehq/giving/internal/subscription"
	"github.com/steeplehq/giving/internal/vault"
	"github.com/steeplehq/giving/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		vault.Module,
		metrics.Module,

		settings.Module,
		ledger.Module,
		subscription.Module,
		gateway.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
