package service_test

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/allocledger/internal/audit/domain"
	"github.com/smallbiznis/allocledger/internal/audit/repository"
	"github.com/smallbiznis/allocledger/internal/audit/service"
	"github.com/smallbiznis/allocledger/internal/clock"
	"github.com/smallbiznis/allocledger/internal/ledger/ledgertest"
	obscontext "github.com/smallbiznis/allocledger/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(ledgertest.Epoch)
	return service.NewService(service.Params{
		DB:    ledgertest.OpenDB(t),
		Log:   zap.NewNop(),
		GenID: ledgertest.NewNode(t),
		Clock: clk,
		Repo:  repository.Provide(),
	}), clk
}

func TestAuditLogRejectsBlankAction(t *testing.T) {
	svc, _ := newService(t)
	err := svc.AuditLog(context.Background(), "  ", "user_allocation_source", "alice/proj", nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestAuditLogResolvesActor(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.AuditLog(ctx, "enforcement.enforce", "user_allocation_source", "alice/proj", map[string]any{"reason": "over_allocation"}))
	jobCtx := obscontext.WithJob(ctx, "enforcement_sweep", "42")
	require.NoError(t, svc.AuditLog(jobCtx, "enforcement.enforce", "user_allocation_source", "bob/proj", nil))

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 2)

	// newest first
	bob, alice := resp.AuditLogs[0], resp.AuditLogs[1]
	assert.Equal(t, auditdomain.ActorTypeScheduler, bob.ActorType)
	require.NotNil(t, bob.ActorID)
	assert.Equal(t, "enforcement_sweep:42", *bob.ActorID)

	assert.Equal(t, auditdomain.ActorTypeSystem, alice.ActorType)
	assert.Nil(t, alice.ActorID)
	assert.Equal(t, "over_allocation", alice.Metadata["reason"])
}

func TestListPagesAndFilters(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	for _, target := range []string{"a/p", "b/p", "c/p"} {
		require.NoError(t, svc.AuditLog(ctx, "enforcement.enforce", "user_allocation_source", target, nil))
		clk.Advance(time.Minute)
	}
	require.NoError(t, svc.AuditLog(ctx, "other.action", "thing", "x", nil))

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "enforcement.enforce", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.Equal(t, "c/p", *first.AuditLogs[0].TargetID)
	require.NotEmpty(t, first.NextPageToken)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "enforcement.enforce", PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.Equal(t, "a/p", *second.AuditLogs[0].TargetID)
	assert.Empty(t, second.NextPageToken)

	byTarget, err := svc.List(ctx, auditdomain.ListAuditLogRequest{TargetID: "x"})
	require.NoError(t, err)
	require.Len(t, byTarget.AuditLogs, 1)
	assert.Equal(t, "other.action", byTarget.AuditLogs[0].Action)
}

func TestListRejectsBadInput(t *testing.T) {
	svc, _ := newService(t)
	start := ledgertest.Epoch
	end := start.Add(-time.Hour)

	_, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)

	_, err = svc.List(context.Background(), auditdomain.ListAuditLogRequest{PageToken: "not-an-id"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
