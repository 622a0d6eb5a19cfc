package ledger

import (
	"github.com/smallbiznis/allocledger/internal/allocation/projector"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	eventservice "github.com/smallbiznis/allocledger/internal/event/service"
	"github.com/smallbiznis/allocledger/internal/threshold"
	"go.uber.org/fx"
)

// Module assembles the listener chain of the event store.
var Module = fx.Module("ledger",
	fx.Invoke(Register),
)

// Register installs the threshold detector ahead of the projector for source
// snapshots, then the projector for every projected name.
func Register(listeners *eventservice.Listeners, detector *threshold.Detector, proj *projector.Projector) error {
	if err := listeners.Register(eventdomain.EventAllocationSourceSnapshot, detector); err != nil {
		return err
	}
	for _, name := range projector.ProjectedNames {
		if err := listeners.Register(name, proj); err != nil {
			return err
		}
	}
	return nil
}
