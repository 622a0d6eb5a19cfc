package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	"github.com/smallbiznis/allocledger/internal/clock"
	enforcementdomain "github.com/smallbiznis/allocledger/internal/enforcement/domain"
	obsmetrics "github.com/smallbiznis/allocledger/internal/observability/metrics"
	reportdomain "github.com/smallbiznis/allocledger/internal/report/domain"
	"github.com/smallbiznis/allocledger/pkg/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEnforcement struct {
	calls  int
	result *batch.Result
	err    error
}

func (f *fakeEnforcement) Evaluate(context.Context, string, string) (enforcementdomain.Decision, error) {
	return enforcementdomain.Decision{}, nil
}

func (f *fakeEnforcement) Sweep(context.Context) (*batch.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeReconciler struct {
	calls   int
	cleared int
	err     error
}

func (f *fakeReconciler) Sync(context.Context, string) ([]allocationdomain.AllocationSource, error) {
	return nil, nil
}

func (f *fakeReconciler) SyncAll(context.Context) (*batch.Result, error) {
	f.calls++
	return batch.New(JobReconciliation), f.err
}

func (f *fakeReconciler) ClearCache() { f.cleared++ }

type fakeReporter struct {
	asOf []time.Time
	err  error
}

func (f *fakeReporter) Report(context.Context, string, string, time.Time) (*reportdomain.UsageReport, error) {
	return nil, nil
}

func (f *fakeReporter) RunBatch(_ context.Context, asOf time.Time) (*batch.Result, error) {
	f.asOf = append(f.asOf, asOf)
	return batch.New(JobReporting), f.err
}

func (f *fakeReporter) List(context.Context, string, string) ([]reportdomain.UsageReport, error) {
	return nil, nil
}

type fixture struct {
	sched       *Scheduler
	registry    *prometheus.Registry
	clock       *clock.FakeClock
	enforcement *fakeEnforcement
	reconciler  *fakeReconciler
	reporter    *fakeReporter
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	f := &fixture{
		registry:    registry,
		clock:       clock.NewFakeClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		enforcement: &fakeEnforcement{},
		reconciler:  &fakeReconciler{},
		reporter:    &fakeReporter{},
	}
	f.sched, err = New(Params{
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       f.clock,
		Enforcement: f.enforcement,
		Reconciler:  f.reconciler,
		Reporter:    f.reporter,
		Config:      cfg,
		Metrics:     obsmetrics.NewSchedulerMetricsForTest(registry),
	})
	require.NoError(t, err)
	return f
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	f := newFixture(t, Config{})

	partial := batch.New("timeout_job")
	partial.OK("alice")
	res, err := f.sched.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) (*batch.Result, error) {
		<-ctx.Done()
		return partial, ctx.Err()
	})
	require.NoError(t, err)
	assert.Same(t, partial, res)

	labels := map[string]string{
		"service": "allocledger",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, f.registry, "allocledger_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "allocledger",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, f.registry, "allocledger_scheduler_job_errors_total", errorLabels))
}

func TestRunJobRecordsBatchItems(t *testing.T) {
	f := newFixture(t, Config{})

	res := batch.New(JobEnforcement)
	res.OK("alice/proj-a")
	res.OK("bob/proj-a")
	res.Skip("carol/proj-b", "never_enforce")
	res.Record("dave/proj-c", errors.New("boom"))
	f.enforcement.result = res

	got, err := f.sched.RunEnforcementSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, got.Len())

	for status, want := range map[string]float64{
		obsmetrics.ItemStatusOK:      2,
		obsmetrics.ItemStatusSkipped: 1,
		obsmetrics.ItemStatusFailed:  1,
	} {
		labels := map[string]string{
			"service": "allocledger",
			"env":     "test",
			"job":     JobEnforcement,
			"status":  status,
		}
		assert.Equal(t, want, getCounterValue(t, f.registry, "allocledger_scheduler_batch_items_total", labels), status)
	}
	assert.Equal(t, float64(1), getCounterValue(t, f.registry, "allocledger_scheduler_job_runs_total", map[string]string{
		"service": "allocledger",
		"env":     "test",
		"job":     JobEnforcement,
	}))
}

func TestRunJobWrapsHardErrors(t *testing.T) {
	f := newFixture(t, Config{})
	f.enforcement.err = errors.New("db down")

	_, err := f.sched.RunEnforcementSweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobEnforcement)
	assert.ErrorIs(t, err, f.enforcement.err)
}

func TestReconciliationClearsCacheFirst(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.sched.RunReconciliationForAllUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.reconciler.cleared)
	assert.Equal(t, 1, f.reconciler.calls)
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	f := newFixture(t, Config{})
	f.reconciler.err = errors.New("remote unavailable")
	f.reporter.err = errors.New("report table missing")

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, f.reconciler.err)
	assert.ErrorIs(t, err, f.reporter.err)

	// a failing job does not stop the others
	assert.Equal(t, 1, f.enforcement.calls)
	require.Len(t, f.reporter.asOf, 1)
	assert.Equal(t, f.clock.Now(), f.reporter.asOf[0])
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{"Usage_Reporting"}})

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 0, f.enforcement.calls)
	assert.Equal(t, 0, f.reconciler.calls)
	assert.Len(t, f.reporter.asOf, 1)
}

func TestIsJobEnabled(t *testing.T) {
	cases := []struct {
		name    string
		enabled []string
		job     string
		want    bool
	}{
		{"empty enables all", nil, JobReconciliation, true},
		{"listed", []string{JobEnforcement}, JobEnforcement, true},
		{"case insensitive", []string{"ENFORCEMENT_SWEEP"}, JobEnforcement, true},
		{"not listed", []string{JobEnforcement}, JobReporting, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Scheduler{cfg: Config{EnabledJobs: tc.enabled}}
			assert.Equal(t, tc.want, s.isJobEnabled(tc.job))
		})
	}
}

func TestRunForeverRejectsInvalidCron(t *testing.T) {
	f := newFixture(t, Config{EnforcementCron: "not a cron"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := f.sched.RunForever(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobEnforcement)
}

func TestProvideConfigAppliesDefaults(t *testing.T) {
	cfg := Config{ReportingCron: "5 0 * * *"}.withDefaults()
	assert.Equal(t, "5 0 * * *", cfg.ReportingCron)
	assert.Equal(t, DefaultConfig().EnforcementCron, cfg.EnforcementCron)
	assert.Equal(t, 5*time.Minute, cfg.EnforcementTimeout)
	assert.Equal(t, 30*time.Minute, cfg.ReportingTimeout)
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
