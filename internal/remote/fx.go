package remote

import "go.uber.org/fx"

var Module = fx.Module("remote",
	fx.Provide(NewResponseCache),
	fx.Provide(NewClient),
)
