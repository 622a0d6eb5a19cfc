package threshold

import "go.uber.org/fx"

var Module = fx.Module("threshold",
	fx.Provide(NewDetector),
)
