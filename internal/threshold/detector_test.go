package threshold_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	"github.com/smallbiznis/allocledger/internal/ledger/ledgertest"
	"github.com/smallbiznis/allocledger/internal/threshold"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(used string) eventdomain.SourceSnapshot {
	return eventdomain.SourceSnapshot{
		AllocationSourceName: "TG-1",
		ComputeUsed:          ledgertest.Dec(used),
		GlobalBurnRate:       decimal.Zero,
	}
}

func renew(allowed string) eventdomain.SourceCreatedOrRenewed {
	return eventdomain.SourceCreatedOrRenewed{
		AllocationSourceName: "TG-1",
		ComputeAllowed:       ledgertest.Dec(allowed),
		RenewalStrategy:      "default",
	}
}

func thresholdsMet(t *testing.T, l *ledgertest.Ledger) []eventdomain.ThresholdMet {
	t.Helper()
	events, err := l.Store.List(context.Background(), eventdomain.ListFilter{
		Names:    []eventdomain.Name{eventdomain.EventThresholdMet},
		EntityID: "TG-1",
	})
	require.NoError(t, err)

	out := make([]eventdomain.ThresholdMet, 0, len(events))
	for _, evt := range events {
		decoded, err := eventdomain.DecodeEvent(evt)
		require.NoError(t, err)
		out = append(out, decoded.(eventdomain.ThresholdMet))
	}
	return out
}

func TestCrossed(t *testing.T) {
	cases := []struct {
		name       string
		prev, next string
		want       []int
	}{
		{name: "none", prev: "0", next: "5", want: nil},
		{name: "single", prev: "5", next: "12", want: []int{10}},
		{name: "boundary inclusive", prev: "9.99", next: "10", want: []int{10}},
		{name: "lower bound exclusive", prev: "10", next: "24", want: nil},
		{name: "several at once", prev: "0", next: "60", want: []int{10, 25, 50}},
		{name: "decrease", prev: "60", next: "5", want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := threshold.Crossed([]int{50, 10, 25}, ledgertest.Dec(tc.prev), ledgertest.Dec(tc.next))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExactlyOncePerEpoch(t *testing.T) {
	l := ledgertest.NewLedger(t, 10, 25, 50)
	l.Append(t, "TG-1", renew("100"), nil)

	for _, used := range []string{"0", "5", "12", "30", "60"} {
		l.Append(t, "TG-1", snapshot(used), nil)
	}

	met := thresholdsMet(t, l)
	require.Len(t, met, 3)
	assert.Equal(t, 10, met[0].Threshold)
	assert.Equal(t, 25, met[1].Threshold)
	assert.Equal(t, 50, met[2].Threshold)
	assert.True(t, met[0].ActualValue.Equal(ledgertest.Dec("12")))
	assert.True(t, met[2].ActualValue.Equal(ledgertest.Dec("60")))

	// dropping and climbing again inside the same epoch emits nothing new
	l.Append(t, "TG-1", snapshot("5"), nil)
	l.Append(t, "TG-1", snapshot("70"), nil)
	assert.Len(t, thresholdsMet(t, l), 3)
}

func TestRenewalReopensThresholds(t *testing.T) {
	l := ledgertest.NewLedger(t, 10, 25, 50)
	l.Append(t, "TG-1", renew("100"), nil)
	l.Append(t, "TG-1", snapshot("30"), nil)
	require.Len(t, thresholdsMet(t, l), 2)

	l.Clock.Advance(time.Hour)
	l.Append(t, "TG-1", renew("100"), nil)
	l.Append(t, "TG-1", snapshot("12"), nil)

	met := thresholdsMet(t, l)
	require.Len(t, met, 3)
	assert.Equal(t, 10, met[2].Threshold)
}

func TestSkipsWhenAllowedIsZero(t *testing.T) {
	l := ledgertest.NewLedger(t, 10)
	l.Append(t, "TG-1", renew("0"), nil)
	l.Append(t, "TG-1", snapshot("50"), nil)
	assert.Empty(t, thresholdsMet(t, l))
}

func TestSkipsUnknownSource(t *testing.T) {
	l := ledgertest.NewLedger(t, 10)
	l.Append(t, "TG-1", snapshot("50"), nil)
	assert.Empty(t, thresholdsMet(t, l))
}

func TestPolicyReloadChangesThresholds(t *testing.T) {
	l := ledgertest.NewLedger(t, 90)
	l.Append(t, "TG-1", renew("100"), nil)
	l.Append(t, "TG-1", snapshot("40"), nil)
	assert.Empty(t, thresholdsMet(t, l))

	policy := l.Policy.Get()
	policy.Thresholds = []int{50, 90}
	l.Policy.Set(policy)

	l.Append(t, "TG-1", snapshot("55"), nil)
	met := thresholdsMet(t, l)
	require.Len(t, met, 1)
	assert.Equal(t, 50, met[0].Threshold)
}

func TestSnapshotForAnotherEntityIsRejected(t *testing.T) {
	l := ledgertest.NewLedger(t, 10)
	ctx := context.Background()
	l.Append(t, "TG-1", renew("100"), nil)

	req, err := eventdomain.NewRequest("monitor-1", snapshot("12"), nil)
	require.NoError(t, err)
	_, err = l.Store.Append(ctx, req)
	var schemaErr *eventdomain.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "entity_id", schemaErr.Field)
	assert.Empty(t, thresholdsMet(t, l))

	l.Append(t, "TG-1", snapshot("12"), nil)
	l.Clock.Advance(time.Hour)
	l.Append(t, "TG-1", renew("100"), nil)
	l.Append(t, "TG-1", snapshot("12"), nil)

	met := thresholdsMet(t, l)
	require.Len(t, met, 2)
	assert.Equal(t, 10, met[0].Threshold)
	assert.Equal(t, 10, met[1].Threshold)
}

func TestConcurrentSnapshotsEmitEachThresholdOnce(t *testing.T) {
	l := ledgertest.NewLedger(t, 25, 50, 75, 90)
	ctx := context.Background()
	l.Append(t, "TG-1", renew("100"), nil)

	values := []string{"30", "60", "95", "80", "55", "20", "99", "76", "91", "26"}
	errs := make([]error, len(values))
	var wg sync.WaitGroup
	for i, used := range values {
		wg.Add(1)
		go func(i int, used string) {
			defer wg.Done()
			req, err := eventdomain.NewRequest("TG-1", snapshot(used), nil)
			if err == nil {
				_, err = l.Store.Append(ctx, req)
			}
			errs[i] = err
		}(i, used)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	met := thresholdsMet(t, l)
	require.NotEmpty(t, met)
	seen := map[int]int{}
	for _, m := range met {
		seen[m.Threshold]++
	}
	for threshold, n := range seen {
		assert.Equal(t, 1, n, "threshold %d emitted %d times", threshold, n)
	}
}
