package report

import (
	"github.com/smallbiznis/allocledger/internal/report/repository"
	"github.com/smallbiznis/allocledger/internal/report/service"
	"go.uber.org/fx"
)

var Module = fx.Module("report",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewEventHistory),
	fx.Provide(service.NewService),
)
