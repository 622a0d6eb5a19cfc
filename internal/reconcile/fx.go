package reconcile

import (
	"github.com/smallbiznis/allocledger/internal/reconcile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconcile",
	fx.Provide(service.NewUserDirectory),
	fx.Provide(service.NewService),
)
