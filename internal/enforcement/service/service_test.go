package service_test

import (
	"context"
	"errors"
	"testing"

	auditdomain "github.com/smallbiznis/allocledger/internal/audit/domain"
	auditrepository "github.com/smallbiznis/allocledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/allocledger/internal/audit/service"
	"github.com/smallbiznis/allocledger/internal/config"
	enforcementdomain "github.com/smallbiznis/allocledger/internal/enforcement/domain"
	"github.com/smallbiznis/allocledger/internal/enforcement/service"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	"github.com/smallbiznis/allocledger/internal/ledger/ledgertest"
	"github.com/smallbiznis/allocledger/pkg/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type actionMock struct {
	mock.Mock
}

func (m *actionMock) Enforce(ctx context.Context, decision enforcementdomain.Decision) error {
	args := m.Called(ctx, decision)
	return args.Error(0)
}

func forPair(username, source string) any {
	return mock.MatchedBy(func(d enforcementdomain.Decision) bool {
		return d.Target.Username == username && d.Target.AllocationSourceName == source
	})
}

func setup(t *testing.T, policy config.Policy, action enforcementdomain.Action) (*ledgertest.Ledger, enforcementdomain.Service) {
	t.Helper()
	l := ledgertest.NewLedger(t)
	dec := ledgertest.Dec

	for _, src := range []struct{ name, allowed, used string }{
		{"over", "10", "12"},
		{"exact", "10", "10"},
		{"under", "10", "2"},
		{"unlimited", "0", "50"},
		{"pinned", "10", "1"},
		{"exempt", "10", "99"},
	} {
		l.Append(t, src.name, eventdomain.SourceCreatedOrRenewed{AllocationSourceName: src.name, ComputeAllowed: dec(src.allowed), RenewalStrategy: "default"}, nil)
		l.Append(t, src.name, eventdomain.SourceSnapshot{AllocationSourceName: src.name, ComputeUsed: dec(src.used), GlobalBurnRate: dec("0")}, nil)
		l.Append(t, "alice", eventdomain.UserSourceCreated{Username: "alice", AllocationSourceName: src.name}, nil)
	}

	svc := service.NewService(service.Params{
		Log:      zap.NewNop(),
		Accounts: l.Accounts,
		Policy:   service.NewNamePolicy(config.NewStaticPolicyHolder(policy)),
		Action:   action,
	})
	return l, svc
}

func TestSweepAppliesOverridesAndDefaultRule(t *testing.T) {
	action := &actionMock{}
	action.On("Enforce", mock.Anything, forPair("alice", "over")).Return(nil).Once()
	action.On("Enforce", mock.Anything, forPair("alice", "exact")).Return(nil).Once()
	action.On("Enforce", mock.Anything, forPair("alice", "pinned")).Return(nil).Once()

	_, svc := setup(t, config.Policy{Enforcement: config.EnforcementPolicy{
		Never:  []string{"exempt"},
		Always: []string{"pinned"},
	}}, action)

	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Count(batch.StatusOK))
	assert.Equal(t, 3, result.Count(batch.StatusSkipped))
	assert.NoError(t, result.Err())
	action.AssertExpectations(t)
	action.AssertNotCalled(t, "Enforce", mock.Anything, forPair("alice", "exempt"))
	action.AssertNotCalled(t, "Enforce", mock.Anything, forPair("alice", "unlimited"))
}

func TestSweepContinuesAfterActionFailure(t *testing.T) {
	boom := errors.New("suspend failed")
	action := &actionMock{}
	action.On("Enforce", mock.Anything, forPair("alice", "over")).Return(boom).Once()
	action.On("Enforce", mock.Anything, forPair("alice", "exact")).Return(nil).Once()

	_, svc := setup(t, config.Policy{}, action)

	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count(batch.StatusFailed))
	assert.Equal(t, 1, result.Count(batch.StatusOK))
	assert.ErrorIs(t, result.Err(), boom)
	action.AssertExpectations(t)
}

func TestEvaluate(t *testing.T) {
	_, svc := setup(t, config.Policy{Enforcement: config.EnforcementPolicy{Never: []string{"exempt"}}}, &actionMock{})
	ctx := context.Background()

	decision, err := svc.Evaluate(ctx, "alice", "over")
	require.NoError(t, err)
	assert.True(t, decision.Enforce)
	assert.Equal(t, enforcementdomain.ReasonOverAllocation, decision.Reason)

	decision, err = svc.Evaluate(ctx, "alice", "exempt")
	require.NoError(t, err)
	assert.False(t, decision.Enforce)
	assert.Equal(t, enforcementdomain.NeverEnforce, decision.Override)

	decision, err = svc.Evaluate(ctx, "alice", "unlimited")
	require.NoError(t, err)
	assert.False(t, decision.Enforce)
	assert.Equal(t, enforcementdomain.ReasonWithinAllowance, decision.Reason)
}

func TestNamePolicyFollowsReload(t *testing.T) {
	holder := config.NewStaticPolicyHolder(config.Policy{})
	policy := service.NewNamePolicy(holder)
	assert.Equal(t, enforcementdomain.NoOverride, policy.Resolve("TG-1"))

	holder.Set(config.Policy{Enforcement: config.EnforcementPolicy{Always: []string{"TG-1"}}})
	assert.Equal(t, enforcementdomain.AlwaysEnforce, policy.Resolve("TG-1"))
}

func TestAuditActionRecordsEnforcedPairs(t *testing.T) {
	l := ledgertest.NewLedger(t)
	audit := auditservice.NewService(auditservice.Params{
		DB:    l.DB,
		Log:   zap.NewNop(),
		GenID: l.Node,
		Clock: l.Clock,
		Repo:  auditrepository.Provide(),
	})
	action := service.NewAuditAction(service.NewLogAction(zap.NewNop()), audit)

	dec := ledgertest.Dec
	l.Append(t, "over", eventdomain.SourceCreatedOrRenewed{AllocationSourceName: "over", ComputeAllowed: dec("10"), RenewalStrategy: "default"}, nil)
	l.Append(t, "over", eventdomain.SourceSnapshot{AllocationSourceName: "over", ComputeUsed: dec("11"), GlobalBurnRate: dec("0")}, nil)
	l.Append(t, "alice", eventdomain.UserSourceCreated{Username: "alice", AllocationSourceName: "over"}, nil)

	svc := service.NewService(service.Params{
		Log:      zap.NewNop(),
		Accounts: l.Accounts,
		Policy:   service.NewNamePolicy(config.NewStaticPolicyHolder(config.Policy{})),
		Action:   action,
	})
	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count(batch.StatusOK))

	resp, err := audit.List(context.Background(), auditdomain.ListAuditLogRequest{Action: service.AuditActionEnforce})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	entry := resp.AuditLogs[0]
	require.NotNil(t, entry.TargetID)
	assert.Equal(t, "alice/over", *entry.TargetID)
	assert.Equal(t, service.AuditTargetType, entry.TargetType)
	assert.Equal(t, enforcementdomain.ReasonOverAllocation, entry.Metadata["reason"])
}

func TestAuditActionSkipsAuditWhenActionFails(t *testing.T) {
	boom := errors.New("suspend failed")
	next := &actionMock{}
	next.On("Enforce", mock.Anything, mock.Anything).Return(boom).Once()

	action := service.NewAuditAction(next, nil)
	err := action.Enforce(context.Background(), enforcementdomain.Decision{})
	assert.ErrorIs(t, err, boom)
	next.AssertExpectations(t)
}
