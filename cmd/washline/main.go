package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/washline/internal/clock"
	"github.com/smallbiznis/washline/internal/config"
	"github.com/smallbiznis/washline/internal/logger"
	"github.com/smallbiznis/washline/internal/migration"
	"github.com/smallbiznis/washline/internal/server"
	"github.com/smallbiznis/washline/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
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
