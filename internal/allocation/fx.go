package allocation

import (
	"github.com/smallbiznis/allocledger/internal/allocation/projector"
	"github.com/smallbiznis/allocledger/internal/allocation/repository"
	"github.com/smallbiznis/allocledger/internal/allocation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("allocation",
	fx.Provide(repository.Provide),
	fx.Provide(projector.New),
	fx.Provide(service.NewService),
)
