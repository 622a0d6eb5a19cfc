package domain

import "github.com/shopspring/decimal"

// Payload is implemented by exactly one struct per event Name.
type Payload interface {
	EventName() Name
}

type SourceCreatedOrRenewed struct {
	AllocationSourceName string          `json:"allocation_source_name"`
	ComputeAllowed       decimal.Decimal `json:"compute_allowed"`
	RenewalStrategy      string          `json:"renewal_strategy"`
}

type ComputeAllowedChanged struct {
	AllocationSourceName string          `json:"allocation_source_name"`
	ComputeAllowed       decimal.Decimal `json:"compute_allowed"`
}

type SourceSnapshot struct {
	AllocationSourceName string          `json:"allocation_source_name"`
	ComputeUsed          decimal.Decimal `json:"compute_used"`
	GlobalBurnRate       decimal.Decimal `json:"global_burn_rate"`
}

type SourceRemoved struct {
	AllocationSourceName string `json:"allocation_source_name"`
}

type UserSnapshotChanged struct {
	Username             string          `json:"username"`
	AllocationSourceName string          `json:"allocation_source_name"`
	ComputeUsed          decimal.Decimal `json:"compute_used"`
	BurnRate             decimal.Decimal `json:"burn_rate"`
}

type UserSourceCreated struct {
	Username             string `json:"username"`
	AllocationSourceName string `json:"allocation_source_name"`
}

type UserSourceDeleted struct {
	Username             string `json:"username"`
	AllocationSourceName string `json:"allocation_source_name"`
}

type InstanceSourceChanged struct {
	InstanceID           string `json:"instance_id"`
	AllocationSourceName string `json:"allocation_source_name"`
}

type InstanceSourceRemoved struct {
	InstanceID           string `json:"instance_id"`
	AllocationSourceName string `json:"allocation_source_name"`
}

// ThresholdMet records one crossing of a usage percentage.
type ThresholdMet struct {
	AllocationSource string          `json:"allocation_source"`
	Threshold        int             `json:"threshold"`
	ActualValue      decimal.Decimal `json:"actual_value"`
}

func (SourceCreatedOrRenewed) EventName() Name { return EventAllocationSourceCreatedOrRenewed }
func (ComputeAllowedChanged) EventName() Name { return EventAllocationSourceComputeAllowedChanged }
func (SourceSnapshot) EventName() Name { return EventAllocationSourceSnapshot }
func (SourceRemoved) EventName() Name { return EventAllocationSourceRemoved }
func (UserSnapshotChanged) EventName() Name { return EventUserAllocationSnapshotChanged }
func (UserSourceCreated) EventName() Name { return EventUserAllocationSourceCreated }
func (UserSourceDeleted) EventName() Name { return EventUserAllocationSourceDeleted }
func (InstanceSourceChanged) EventName() Name { return EventInstanceAllocationSourceChanged }
func (InstanceSourceRemoved) EventName() Name { return EventInstanceAllocationSourceRemoved }
func (ThresholdMet) EventName() Name { return EventThresholdMet }

// Subject returns the payload field naming the entity an event belongs to and
// its value. An event's entity_id must equal that value.
func Subject(p Payload) (field, value string) {
	switch p := p.(type) {
	case SourceCreatedOrRenewed:
		return "allocation_source_name", p.AllocationSourceName
	case ComputeAllowedChanged:
		return "allocation_source_name", p.AllocationSourceName
	case SourceSnapshot:
		return "allocation_source_name", p.AllocationSourceName
	case SourceRemoved:
		return "allocation_source_name", p.AllocationSourceName
	case UserSnapshotChanged:
		return "username", p.Username
	case UserSourceCreated:
		return "username", p.Username
	case UserSourceDeleted:
		return "username", p.Username
	case InstanceSourceChanged:
		return "instance_id", p.InstanceID
	case InstanceSourceRemoved:
		return "instance_id", p.InstanceID
	case ThresholdMet:
		return "allocation_source", p.AllocationSource
	default:
		return "", ""
	}
}
