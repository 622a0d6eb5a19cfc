package event

import (
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	"github.com/smallbiznis/allocledger/internal/event/repository"
	"github.com/smallbiznis/allocledger/internal/event/service"
	"go.uber.org/fx"
)

var Module = fx.Module("event.store",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewListeners),
	fx.Provide(service.NewStore),
	fx.Provide(func(s *service.Store) eventdomain.Appender { return s }),
	fx.Provide(func(s *service.Store) eventdomain.Reader { return s }),
)
