package enforcement

import (
	"github.com/smallbiznis/allocledger/internal/enforcement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("enforcement",
	fx.Provide(service.NewNamePolicy),
	fx.Provide(service.ProvideAction),
	fx.Provide(service.NewService),
)
