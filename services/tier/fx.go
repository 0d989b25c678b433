package tier

import "go.uber.org/fx"

var Module = fx.Module("tier.evaluator",
	fx.Provide(NewEvaluator),
)
