package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smallbiznis-cashback/pkg/config"
	"smallbiznis-cashback/pkg/db"
	"smallbiznis-cashback/pkg/httpapi"
	"smallbiznis-cashback/pkg/logger"
	"smallbiznis-cashback/pkg/otelcol"
	"smallbiznis-cashback/pkg/redis"
	"smallbiznis-cashback/pkg/sequence"
	"smallbiznis-cashback/pkg/server"
	"smallbiznis-cashback/pkg/task"
	"smallbiznis-cashback/services/account"
	"smallbiznis-cashback/services/ledger"
	"smallbiznis-cashback/services/notification"
	"smallbiznis-cashback/services/purchase"
	"smallbiznis-cashback/services/rate"
	"smallbiznis-cashback/services/session"
	"smallbiznis-cashback/services/tier"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		fx.Provide(provideSnowflakeNode),
		fx.Invoke(migrate),
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		httpapi.Module,
		account.Module,
		rate.Module,
		tier.Module,
		notification.Module,
		session.Module,
		ledger.Module,
		purchase.Module,
		purchase.Sweeper,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.Snowflake.Node)
}

func migrate(cfg *config.Config, conn *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}

	var models []any
	models = append(models, account.Models()...)
	models = append(models, rate.Models()...)
	models = append(models, ledger.Models()...)
	models = append(models, purchase.Models()...)
	if err := conn.AutoMigrate(models...); err != nil {
		zap.L().Error("[DB] auto migration failed", zap.Error(err))
		return err
	}
	zap.L().Info("[DB] schema migrated", zap.Int("tables", len(models)))
	return nil
}
