package projector

import (
	"fmt"

	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
)

// State is the slice of aggregates one event can read or change.
type State struct {
	Source        *allocationdomain.AllocationSource
	Snapshot      *allocationdomain.AllocationSourceSnapshot
	Membership    *allocationdomain.UserAllocationSource
	UserSnapshot  *allocationdomain.UserAllocationSnapshot
	UserSnapshots []allocationdomain.UserAllocationSnapshot
	Instance      *allocationdomain.InstanceAllocationSnapshot
}

// Keys names the aggregates an event touches.
type Keys struct {
	SourceName string
	Username   string
	InstanceID string
	// AllUsers is set for renewals, which reset every user snapshot of the source.
	AllUsers bool
}

// KeysFor derives the load keys from a decoded payload.
func KeysFor(payload eventdomain.Payload) Keys {
	switch p := payload.(type) {
	case eventdomain.SourceCreatedOrRenewed:
		return Keys{SourceName: p.AllocationSourceName, AllUsers: true}
	case eventdomain.ComputeAllowedChanged:
		return Keys{SourceName: p.AllocationSourceName}
	case eventdomain.SourceSnapshot:
		return Keys{SourceName: p.AllocationSourceName}
	case eventdomain.SourceRemoved:
		return Keys{SourceName: p.AllocationSourceName}
	case eventdomain.UserSnapshotChanged:
		return Keys{SourceName: p.AllocationSourceName, Username: p.Username}
	case eventdomain.UserSourceCreated:
		return Keys{SourceName: p.AllocationSourceName, Username: p.Username}
	case eventdomain.UserSourceDeleted:
		return Keys{SourceName: p.AllocationSourceName, Username: p.Username}
	case eventdomain.InstanceSourceChanged:
		return Keys{SourceName: p.AllocationSourceName, InstanceID: p.InstanceID}
	case eventdomain.InstanceSourceRemoved:
		return Keys{SourceName: p.AllocationSourceName, InstanceID: p.InstanceID}
	default:
		return Keys{}
	}
}

// Apply folds one event into state. It never mutates its input and reads
// nothing but state and the event. A *ReferentialGap leaves state unchanged.
func Apply(state State, evt eventdomain.Event, payload eventdomain.Payload) (State, error) {
	next := state.clone()
	ts := evt.Timestamp.UTC()

	switch p := payload.(type) {
	case eventdomain.SourceCreatedOrRenewed:
		if next.Source == nil {
			next.Source = &allocationdomain.AllocationSource{
				ID:   evt.ID,
				UUID: evt.UUID,
				Name: p.AllocationSourceName,
			}
		}
		next.Source.ComputeAllowed = p.ComputeAllowed
		next.Source.RenewalStrategy = p.RenewalStrategy
		next.Source.StartDate = ts
		next.Source.EndDate = nil
		next.Source.UpdatedAt = ts

		next.Snapshot = &allocationdomain.AllocationSourceSnapshot{
			AllocationSourceName: p.AllocationSourceName,
			ComputeAllowed:       p.ComputeAllowed,
			ComputeUsed:          decimal.Zero,
			GlobalBurnRate:       decimal.Zero,
			UpdatedAt:            ts,
		}
		for i := range next.UserSnapshots {
			next.UserSnapshots[i].ComputeUsed = decimal.Zero
			next.UserSnapshots[i].BurnRate = decimal.Zero
			next.UserSnapshots[i].UpdatedAt = ts
		}

	case eventdomain.ComputeAllowedChanged:
		if next.Source == nil {
			return state, gap("allocation_source", p.AllocationSourceName)
		}
		next.Source.ComputeAllowed = p.ComputeAllowed
		next.Source.UpdatedAt = ts
		if next.Snapshot != nil {
			next.Snapshot.ComputeAllowed = p.ComputeAllowed
			next.Snapshot.UpdatedAt = ts
		}

	case eventdomain.SourceSnapshot:
		if next.Source == nil {
			return state, gap("allocation_source", p.AllocationSourceName)
		}
		if next.Snapshot == nil {
			next.Snapshot = &allocationdomain.AllocationSourceSnapshot{
				AllocationSourceName: p.AllocationSourceName,
			}
		}
		next.Snapshot.ComputeAllowed = next.Source.ComputeAllowed
		next.Snapshot.ComputeUsed = p.ComputeUsed
		next.Snapshot.GlobalBurnRate = p.GlobalBurnRate
		next.Snapshot.UpdatedAt = ts

	case eventdomain.SourceRemoved:
		if next.Source == nil {
			return state, gap("allocation_source", p.AllocationSourceName)
		}
		end := ts
		next.Source.EndDate = &end
		next.Source.UpdatedAt = ts

	case eventdomain.UserSnapshotChanged:
		next.UserSnapshot = &allocationdomain.UserAllocationSnapshot{
			Username:             p.Username,
			AllocationSourceName: p.AllocationSourceName,
			ComputeUsed:          p.ComputeUsed,
			BurnRate:             p.BurnRate,
			UpdatedAt:            ts,
		}

	case eventdomain.UserSourceCreated:
		if next.Source == nil {
			return state, gap("allocation_source", p.AllocationSourceName)
		}
		if next.Membership == nil {
			next.Membership = &allocationdomain.UserAllocationSource{
				Username:             p.Username,
				AllocationSourceName: p.AllocationSourceName,
				CreatedAt:            ts,
			}
		}

	case eventdomain.UserSourceDeleted:
		if next.Membership == nil {
			return state, gap("user_allocation_source", p.Username+"/"+p.AllocationSourceName)
		}
		next.Membership = nil

	case eventdomain.InstanceSourceChanged:
		if next.Source == nil {
			return state, gap("allocation_source", p.AllocationSourceName)
		}
		next.Instance = &allocationdomain.InstanceAllocationSnapshot{
			InstanceID:           p.InstanceID,
			AllocationSourceName: p.AllocationSourceName,
			UpdatedAt:            ts,
		}

	case eventdomain.InstanceSourceRemoved:
		if next.Instance == nil || next.Instance.AllocationSourceName != p.AllocationSourceName {
			return state, gap("instance_allocation_snapshot", p.InstanceID)
		}
		next.Instance = nil

	case eventdomain.ThresholdMet:
		// recorded in the log only

	default:
		return state, fmt.Errorf("projector: unsupported payload %T", payload)
	}

	return next, nil
}

func gap(aggregate, key string) error {
	return &allocationdomain.ReferentialGap{Aggregate: aggregate, Key: key}
}

func (s State) clone() State {
	out := State{}
	if s.Source != nil {
		source := *s.Source
		if s.Source.EndDate != nil {
			end := *s.Source.EndDate
			source.EndDate = &end
		}
		out.Source = &source
	}
	if s.Snapshot != nil {
		snapshot := *s.Snapshot
		out.Snapshot = &snapshot
	}
	if s.Membership != nil {
		membership := *s.Membership
		out.Membership = &membership
	}
	if s.UserSnapshot != nil {
		userSnapshot := *s.UserSnapshot
		out.UserSnapshot = &userSnapshot
	}
	if s.UserSnapshots != nil {
		out.UserSnapshots = append([]allocationdomain.UserAllocationSnapshot(nil), s.UserSnapshots...)
	}
	if s.Instance != nil {
		instance := *s.Instance
		out.Instance = &instance
	}
	return out
}
