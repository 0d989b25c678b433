package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"smallbiznis-cashback/pkg/config"
	"smallbiznis-cashback/pkg/db"
	"smallbiznis-cashback/pkg/logger"
	"smallbiznis-cashback/services/rate"
)

// seed writes the default cashback and tier rules for each tenant given on
// the command line. Tenants that already have rules are skipped.
func main() {
	tenants := flag.String("tenants", "", "comma separated tenant ids")
	flag.Parse()

	var svc *rate.Service
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(
			provideSnowflakeNode,
			rate.NewRepository,
			rate.ProvideRuleCache,
			rate.NewService,
		),
		fx.Populate(&svc),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer func() {
		_ = app.Stop(context.Background())
	}()

	for _, tenantID := range strings.Split(*tenants, ",") {
		tenantID = strings.TrimSpace(tenantID)
		if tenantID == "" {
			continue
		}
		if err := svc.InitializeDefaults(ctx, tenantID); err != nil {
			zap.L().Error("failed to seed tenant", zap.String("tenant_id", tenantID), zap.Error(err))
			continue
		}
		zap.L().Info("tenant seeded", zap.String("tenant_id", tenantID))
	}
}

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.Snowflake.Node)
}
