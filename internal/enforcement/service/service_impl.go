package service

import (
	"context"
	"errors"

	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	allocationservice "github.com/smallbiznis/allocledger/internal/allocation/service"
	enforcementdomain "github.com/smallbiznis/allocledger/internal/enforcement/domain"
	obslogger "github.com/smallbiznis/allocledger/internal/observability/logger"
	"github.com/smallbiznis/allocledger/pkg/batch"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobName = "enforcement_sweep"

type Params struct {
	fx.In

	Log      *zap.Logger
	Accounts allocationdomain.Service
	Policy   enforcementdomain.Policy
	Action   enforcementdomain.Action
}

// Service evaluates every active membership against the override policy and
// the over-allocation rule. It keeps no state between sweeps.
type Service struct {
	log      *zap.Logger
	accounts allocationdomain.Service
	policy   enforcementdomain.Policy
	action   enforcementdomain.Action
}

func NewService(p Params) enforcementdomain.Service {
	return &Service{
		log:      p.Log.Named("enforcement.service"),
		accounts: p.Accounts,
		policy:   p.Policy,
		action:   p.Action,
	}
}

func (s *Service) Evaluate(ctx context.Context, username, sourceName string) (enforcementdomain.Decision, error) {
	summary, err := s.accounts.UsageSummary(ctx, sourceName)
	if err != nil {
		return enforcementdomain.Decision{}, err
	}
	return s.decide(username, summary), nil
}

// Sweep invokes the action at most once per active (user, source) pair.
// Item failures are collected in the result and never stop the sweep.
func (s *Service) Sweep(ctx context.Context) (*batch.Result, error) {
	memberships, err := s.accounts.ListActiveMemberships(ctx)
	if err != nil {
		return nil, err
	}

	result := batch.New(JobName)
	summaries := make(map[string]*allocationdomain.UsageSummary)
	log := obslogger.WithContext(ctx, s.log)

	for _, membership := range memberships {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		key := membership.Username + "/" + membership.AllocationSourceName

		summary, ok := summaries[membership.AllocationSourceName]
		if !ok {
			summary, err = s.accounts.UsageSummary(ctx, membership.AllocationSourceName)
			if errors.Is(err, allocationdomain.ErrSourceNotFound) {
				result.Skip(key, err.Error())
				continue
			}
			if err != nil {
				result.Record(key, err)
				continue
			}
			summaries[membership.AllocationSourceName] = summary
		}

		decision := s.decide(membership.Username, summary)
		if !decision.Enforce {
			result.Skip(key, decision.Reason)
			continue
		}
		if err := s.action.Enforce(ctx, decision); err != nil {
			log.Warn("enforcement action failed",
				zap.String("username", membership.Username),
				zap.String("allocation_source", membership.AllocationSourceName),
				zap.Error(err),
			)
			result.Record(key, err)
			continue
		}
		result.OK(key)
	}

	log.Info("enforcement sweep finished",
		zap.Int("enforced", result.Count(batch.StatusOK)),
		zap.Int("skipped", result.Count(batch.StatusSkipped)),
		zap.Int("failed", result.Count(batch.StatusFailed)),
	)
	return result, nil
}

func (s *Service) decide(username string, summary *allocationdomain.UsageSummary) enforcementdomain.Decision {
	decision := enforcementdomain.Decision{
		Target: enforcementdomain.Target{
			Username:             username,
			AllocationSourceName: summary.AllocationSourceName,
			ComputeAllowed:       summary.ComputeAllowed,
			ComputeUsed:          summary.ComputeUsed,
		},
		Override: s.policy.Resolve(summary.AllocationSourceName),
	}

	switch decision.Override {
	case enforcementdomain.NeverEnforce:
		decision.Reason = enforcementdomain.ReasonNeverEnforce
	case enforcementdomain.AlwaysEnforce:
		decision.Enforce = true
		decision.Reason = enforcementdomain.ReasonOverride
	default:
		if allocationservice.OverAllocated(summary.ComputeUsed, summary.ComputeAllowed) {
			decision.Enforce = true
			decision.Reason = enforcementdomain.ReasonOverAllocation
		} else {
			decision.Reason = enforcementdomain.ReasonWithinAllowance
		}
	}
	return decision
}
