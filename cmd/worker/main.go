package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"smallbiznis-cashback/pkg/config"
	"smallbiznis-cashback/pkg/logger"
	"smallbiznis-cashback/pkg/task"
	"smallbiznis-cashback/services/notification"
)

// The worker drains the notification and alert queues.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		task.Server,
		notification.WorkerModule,
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
