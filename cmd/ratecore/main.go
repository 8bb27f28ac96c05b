package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/quentel/ratecore/internal/balance"
	"github.com/quentel/ratecore/internal/config"
	"github.com/quentel/ratecore/internal/logger"
	"github.com/quentel/ratecore/internal/migration"
	"github.com/quentel/ratecore/internal/observability"
	"github.com/quentel/ratecore/internal/pipeline"
	"github.com/quentel/ratecore/internal/pricegroup"
	"github.com/quentel/ratecore/internal/ratemap"
	"github.com/quentel/ratecore/internal/rating"
	"github.com/quentel/ratecore/internal/server"
	"github.com/quentel/ratecore/internal/timemodel"
	"github.com/quentel/ratecore/internal/txn"
	"github.com/quentel/ratecore/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		migration.Module,

		ratemap.Module,
		pricegroup.Module,
		timemodel.Module,
		balance.Module,
		txn.Module,
		rating.Module,
		pipeline.Module,
		server.Module,
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
