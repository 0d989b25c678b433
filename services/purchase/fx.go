package purchase

import "go.uber.org/fx"

var Module = fx.Module("purchase.service",
	fx.Provide(NewService, NewHandler, NewWebhookHandler),
	fx.Invoke(RegisterRoutes),
)

// Sweeper runs the settlement retry loop. Only one process needs it.
var Sweeper = fx.Module("purchase.sweeper",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)
