package notification

import "go.uber.org/fx"

var Module = fx.Module("notification.dispatcher",
	fx.Provide(NewDispatcher),
)

var WorkerModule = fx.Module("notification.worker",
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)
