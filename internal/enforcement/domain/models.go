package domain

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/allocledger/pkg/batch"
)

// Override forces enforcement on or off for an allocation source.
type Override string

const (
	NoOverride    Override = "no_override"
	NeverEnforce  Override = "never_enforce"
	AlwaysEnforce Override = "always_enforce"
)

// Policy resolves the override for an allocation source name.
type Policy interface {
	Resolve(sourceName string) Override
}

// Target is one (user, allocation source) pair under evaluation.
type Target struct {
	Username             string
	AllocationSourceName string
	ComputeAllowed       decimal.Decimal
	ComputeUsed          decimal.Decimal
}

type Decision struct {
	Target   Target
	Override Override
	Enforce  bool
	Reason   string
}

const (
	ReasonOverride        = "override"
	ReasonOverAllocation  = "over_allocation"
	ReasonWithinAllowance = "within_allowance"
	ReasonNeverEnforce    = "never_enforce"
)

// Action applies the consequence of enforcement (suspend, limit). It owns its
// own idempotency across sweeps.
type Action interface {
	Enforce(ctx context.Context, decision Decision) error
}

type Service interface {
	Evaluate(ctx context.Context, username, sourceName string) (Decision, error)
	Sweep(ctx context.Context) (*batch.Result, error)
}
