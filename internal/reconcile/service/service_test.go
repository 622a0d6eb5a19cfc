package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/allocledger/internal/config"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	"github.com/smallbiznis/allocledger/internal/ledger/ledgertest"
	reconciledomain "github.com/smallbiznis/allocledger/internal/reconcile/domain"
	"github.com/smallbiznis/allocledger/internal/reconcile/service"
	"github.com/smallbiznis/allocledger/internal/remote"
	"github.com/smallbiznis/allocledger/pkg/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	windowStart = ledgertest.Epoch.AddDate(0, -6, 0)
	windowEnd   = ledgertest.Epoch.AddDate(0, 6, 0)
)

type fakeClient struct {
	mu           sync.Mutex
	mappings     map[string]string
	projects     map[string][]remote.Project
	failFor      map[string]error
	mappingCalls int
	cleared      int
}

func (f *fakeClient) RemoteUsername(_ context.Context, username string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mappingCalls++
	if err, ok := f.failFor[username]; ok {
		return "", err
	}
	remoteName, ok := f.mappings[username]
	if !ok {
		return "", &remote.NoMappingError{Username: username}
	}
	return remoteName, nil
}

func (f *fakeClient) Projects(_ context.Context, remoteUsername string) ([]remote.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.projects[remoteUsername], nil
}

func (f *fakeClient) ClearCache() {
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
}

func project(id int64, name, allowed string) remote.Project {
	return remote.Project{ID: id, ChargeCode: name, Allocations: []remote.Allocation{{
		ID:               id * 10,
		Resource:         "Jetstream",
		Status:           "Active",
		Start:            windowStart,
		End:              windowEnd,
		ComputeAllocated: ledgertest.Dec(allowed),
	}}}
}

func newService(t *testing.T, l *ledgertest.Ledger, client remote.Client, users ...string) reconciledomain.Service {
	t.Helper()
	svc, err := service.NewService(service.Params{
		Config:    config.Config{Scheduler: config.SchedulerConfig{ReconcileConcurrency: 1}},
		Log:       l.Log,
		Clock:     l.Clock,
		Client:    client,
		Appender:  l.Store,
		Reader:    l.Store,
		Accounts:  l.Accounts,
		Directory: service.StaticDirectory(users),
	})
	require.NoError(t, err)
	return svc
}

func memberships(t *testing.T, l *ledgertest.Ledger, username string) []string {
	t.Helper()
	rows, err := l.Accounts.ListMemberships(context.Background(), username)
	require.NoError(t, err)
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.AllocationSourceName)
	}
	sort.Strings(names)
	return names
}

func eventCount(t *testing.T, l *ledgertest.Ledger) int64 {
	t.Helper()
	var n int64
	require.NoError(t, l.DB.Model(&eventdomain.Event{}).Count(&n).Error)
	return n
}

func TestSyncConverges(t *testing.T) {
	l := ledgertest.NewLedger(t)
	ctx := context.Background()
	for _, name := range []string{"A", "B"} {
		l.Append(t, name, eventdomain.SourceCreatedOrRenewed{AllocationSourceName: name, ComputeAllowed: ledgertest.Dec("100"), RenewalStrategy: "default"}, nil)
		l.Append(t, "alice", eventdomain.UserSourceCreated{Username: "alice", AllocationSourceName: name}, nil)
	}
	l.Clock.Advance(time.Hour)

	client := &fakeClient{
		mappings: map[string]string{"alice": "alice_r"},
		projects: map[string][]remote.Project{"alice_r": {project(2, "B", "100"), project(3, "C", "250")}},
	}
	svc := newService(t, l, client, "alice")

	before := eventCount(t, l)
	assigned, err := svc.Sync(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, assigned, 2)
	assert.Equal(t, "B", assigned[0].Name)
	assert.Equal(t, "C", assigned[1].Name)
	assert.True(t, assigned[1].ComputeAllowed.Equal(ledgertest.Dec("250")))

	assert.Equal(t, []string{"B", "C"}, memberships(t, l, "alice"))
	// C created, alice joins C, alice leaves A
	assert.Equal(t, before+3, eventCount(t, l))

	deleted, err := l.Store.List(ctx, eventdomain.ListFilter{
		Names:    []eventdomain.Name{eventdomain.EventUserAllocationSourceDeleted},
		EntityID: "alice",
	})
	require.NoError(t, err)
	require.Len(t, deleted, 1)

	afterFirst := eventCount(t, l)
	_, err = svc.Sync(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, afterFirst, eventCount(t, l), "second sync is a no-op")
	assert.Equal(t, []string{"B", "C"}, memberships(t, l, "alice"))
}

func TestSyncForwardsComputeAllowedChange(t *testing.T) {
	l := ledgertest.NewLedger(t)
	ctx := context.Background()
	client := &fakeClient{
		mappings: map[string]string{"alice": "alice_r"},
		projects: map[string][]remote.Project{"alice_r": {project(1, "TG-1", "100")}},
	}
	svc := newService(t, l, client, "alice")

	_, err := svc.Sync(ctx, "alice")
	require.NoError(t, err)

	client.projects["alice_r"] = []remote.Project{project(1, "TG-1", "150")}
	assigned, err := svc.Sync(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.True(t, assigned[0].ComputeAllowed.Equal(ledgertest.Dec("150")))

	changed, err := l.Store.Latest(ctx, eventdomain.EventAllocationSourceComputeAllowedChanged, "TG-1")
	require.NoError(t, err)
	require.NotNil(t, changed)

	count := eventCount(t, l)
	_, err = svc.Sync(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, count, eventCount(t, l))
}

func TestSyncConvergesWhenAllowanceReturnsToEarlierValue(t *testing.T) {
	l := ledgertest.NewLedger(t)
	ctx := context.Background()
	client := &fakeClient{
		mappings: map[string]string{"alice": "alice_r"},
		projects: map[string][]remote.Project{},
	}
	svc := newService(t, l, client, "alice")

	for _, allowed := range []string{"100", "200", "300", "200", "100"} {
		client.projects["alice_r"] = []remote.Project{project(1, "TG-1", allowed)}
		_, err := svc.Sync(ctx, "alice")
		require.NoError(t, err)

		source, err := l.Accounts.GetSource(ctx, "TG-1")
		require.NoError(t, err)
		assert.True(t, source.ComputeAllowed.Equal(ledgertest.Dec(allowed)), "want %s, got %s", allowed, source.ComputeAllowed)
	}

	changes, err := l.Store.List(ctx, eventdomain.ListFilter{
		Names:    []eventdomain.Name{eventdomain.EventAllocationSourceComputeAllowedChanged},
		EntityID: "TG-1",
	})
	require.NoError(t, err)
	assert.Len(t, changes, 4)

	count := eventCount(t, l)
	_, err = svc.Sync(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, count, eventCount(t, l))
}

func TestSyncRecreatesRemovedSource(t *testing.T) {
	l := ledgertest.NewLedger(t)
	ctx := context.Background()
	client := &fakeClient{
		mappings: map[string]string{"alice": "alice_r"},
		projects: map[string][]remote.Project{"alice_r": {project(1, "TG-1", "100")}},
	}
	svc := newService(t, l, client, "alice")

	for i := 0; i < 2; i++ {
		_, err := svc.Sync(ctx, "alice")
		require.NoError(t, err)
		source, err := l.Accounts.GetSource(ctx, "TG-1")
		require.NoError(t, err)
		require.True(t, source.Active())

		l.Clock.Advance(time.Minute)
		l.Append(t, "TG-1", eventdomain.SourceRemoved{AllocationSourceName: "TG-1"}, nil)
		source, err = l.Accounts.GetSource(ctx, "TG-1")
		require.NoError(t, err)
		require.False(t, source.Active())
		l.Clock.Advance(time.Minute)
	}

	_, err := svc.Sync(ctx, "alice")
	require.NoError(t, err)
	source, err := l.Accounts.GetSource(ctx, "TG-1")
	require.NoError(t, err)
	assert.True(t, source.Active())

	renewals, err := l.Store.List(ctx, eventdomain.ListFilter{
		Names:    []eventdomain.Name{eventdomain.EventAllocationSourceCreatedOrRenewed},
		EntityID: "TG-1",
	})
	require.NoError(t, err)
	assert.Len(t, renewals, 3)
}

func TestSyncFiltersInactiveAndPicksLatestAllocation(t *testing.T) {
	l := ledgertest.NewLedger(t)
	expired := project(1, "OLD", "10")
	expired.Allocations[0].End = ledgertest.Epoch.Add(-time.Hour)
	inactive := project(2, "PENDING", "10")
	inactive.Allocations[0].Status = "Pending"
	multi := project(3, "TG-3", "10")
	multi.Allocations = append(multi.Allocations, remote.Allocation{
		ID: 99, Status: "active", Start: windowStart.Add(time.Hour), End: windowEnd, ComputeAllocated: ledgertest.Dec("40"),
	})

	client := &fakeClient{
		mappings: map[string]string{"alice": "alice_r"},
		projects: map[string][]remote.Project{"alice_r": {expired, inactive, multi}},
	}
	svc := newService(t, l, client, "alice")

	assigned, err := svc.Sync(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, "TG-3", assigned[0].Name)
	assert.True(t, assigned[0].ComputeAllowed.Equal(ledgertest.Dec("40")))
}

func TestSyncWithoutMappingRemovesMemberships(t *testing.T) {
	l := ledgertest.NewLedger(t)
	ctx := context.Background()
	l.Append(t, "A", eventdomain.SourceCreatedOrRenewed{AllocationSourceName: "A", ComputeAllowed: ledgertest.Dec("1"), RenewalStrategy: "default"}, nil)
	l.Append(t, "bob", eventdomain.UserSourceCreated{Username: "bob", AllocationSourceName: "A"}, nil)

	client := &fakeClient{}
	svc := newService(t, l, client, "bob")

	assigned, err := svc.Sync(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, assigned)
	assert.Empty(t, memberships(t, l, "bob"))

	_, err = svc.Sync(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, client.mappingCalls, "mapping absence is cached")

	svc.ClearCache()
	assert.Equal(t, 1, client.cleared)
	_, err = svc.Sync(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, client.mappingCalls)
}

func TestSyncReaddsMembershipAfterRemoval(t *testing.T) {
	l := ledgertest.NewLedger(t)
	ctx := context.Background()
	client := &fakeClient{
		mappings: map[string]string{"alice": "alice_r"},
		projects: map[string][]remote.Project{"alice_r": {project(1, "TG-1", "10")}},
	}
	svc := newService(t, l, client, "alice")

	_, err := svc.Sync(ctx, "alice")
	require.NoError(t, err)
	l.Clock.Advance(time.Minute)

	client.projects["alice_r"] = nil
	_, err = svc.Sync(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, memberships(t, l, "alice"))
	l.Clock.Advance(time.Minute)

	client.projects["alice_r"] = []remote.Project{project(1, "TG-1", "10")}
	_, err = svc.Sync(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"TG-1"}, memberships(t, l, "alice"))
}

func TestSyncAllIsolatesFailures(t *testing.T) {
	l := ledgertest.NewLedger(t)
	boom := &remote.RemoteAPIError{Endpoint: "/users/mapping/carol", Status: 502, Message: "bad gateway"}
	client := &fakeClient{
		mappings: map[string]string{"alice": "alice_r", "bob": "bob_r"},
		projects: map[string][]remote.Project{
			"alice_r": {project(1, "TG-1", "10")},
			"bob_r":   {project(1, "TG-1", "10")},
		},
		failFor: map[string]error{"carol": boom},
	}
	svc := newService(t, l, client, "alice", "bob", "carol")

	result, err := svc.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count(batch.StatusOK))
	assert.Equal(t, 1, result.Count(batch.StatusFailed))

	var apiErr *remote.RemoteAPIError
	assert.True(t, errors.As(result.Err(), &apiErr))
	assert.Equal(t, []string{"TG-1"}, memberships(t, l, "alice"))
	assert.Equal(t, []string{"TG-1"}, memberships(t, l, "bob"))
}
