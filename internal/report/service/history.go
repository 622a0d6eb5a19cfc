package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	reportdomain "github.com/smallbiznis/allocledger/internal/report/domain"
)

// EventHistory derives usage from user_allocation_snapshot_changed events.
// The reported compute_used is cumulative within a renewal epoch, so a
// renewal of the source carries the running total into a baseline.
type EventHistory struct {
	reader eventdomain.Reader
}

func NewEventHistory(reader eventdomain.Reader) reportdomain.UsageHistory {
	return &EventHistory{reader: reader}
}

func (h *EventHistory) UsageDelta(ctx context.Context, username, sourceName string, start, end time.Time) (decimal.Decimal, error) {
	snapshots, err := h.reader.List(ctx, eventdomain.ListFilter{
		Names:    []eventdomain.Name{eventdomain.EventUserAllocationSnapshotChanged},
		EntityID: username,
	})
	if err != nil {
		return decimal.Zero, err
	}
	renewals, err := h.reader.List(ctx, eventdomain.ListFilter{
		Names:    []eventdomain.Name{eventdomain.EventAllocationSourceCreatedOrRenewed},
		EntityID: sourceName,
	})
	if err != nil {
		return decimal.Zero, err
	}

	timeline := make([]eventdomain.Event, 0, len(snapshots)+len(renewals))
	timeline = append(timeline, renewals...)
	for _, evt := range snapshots {
		payload, err := eventdomain.DecodeEvent(evt)
		if err != nil {
			return decimal.Zero, err
		}
		if p, ok := payload.(eventdomain.UserSnapshotChanged); ok && p.AllocationSourceName == sourceName {
			timeline = append(timeline, evt)
		}
	}
	sort.SliceStable(timeline, func(i, j int) bool {
		if !timeline[i].Timestamp.Equal(timeline[j].Timestamp) {
			return timeline[i].Timestamp.Before(timeline[j].Timestamp)
		}
		return timeline[i].ID < timeline[j].ID
	})

	atStart, err := usageBefore(timeline, start)
	if err != nil {
		return decimal.Zero, err
	}
	atEnd, err := usageBefore(timeline, end)
	if err != nil {
		return decimal.Zero, err
	}
	return atEnd.Sub(atStart), nil
}

// usageBefore is the cumulative usage over all epochs from events strictly
// before t.
func usageBefore(timeline []eventdomain.Event, t time.Time) (decimal.Decimal, error) {
	baseline, current := decimal.Zero, decimal.Zero
	for _, evt := range timeline {
		if !evt.Timestamp.Before(t) {
			break
		}
		if evt.Name == eventdomain.EventAllocationSourceCreatedOrRenewed {
			baseline = baseline.Add(current)
			current = decimal.Zero
			continue
		}
		payload, err := eventdomain.DecodeEvent(evt)
		if err != nil {
			return decimal.Zero, err
		}
		current = payload.(eventdomain.UserSnapshotChanged).ComputeUsed
	}
	return baseline.Add(current), nil
}
