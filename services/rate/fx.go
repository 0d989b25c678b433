package rate

import "go.uber.org/fx"

var Module = fx.Module("rate.service",
	fx.Provide(
		NewRepository,
		ProvideRuleCache,
		NewResolver,
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
