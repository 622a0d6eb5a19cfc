package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/allocledger/internal/clock"
	enforcementdomain "github.com/smallbiznis/allocledger/internal/enforcement/domain"
	obsmetrics "github.com/smallbiznis/allocledger/internal/observability/metrics"
	reconciledomain "github.com/smallbiznis/allocledger/internal/reconcile/domain"
	reportdomain "github.com/smallbiznis/allocledger/internal/report/domain"
	"github.com/smallbiznis/allocledger/pkg/batch"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Enforcement enforcementdomain.Service
	Reconciler  reconciledomain.Service
	Reporter    reportdomain.Service
	Config      Config                      `optional:"true"`
	Metrics     *obsmetrics.SchedulerMetrics `optional:"true"`
}

// Scheduler exposes the periodic entry points. Each is safe to invoke
// repeatedly and from any external trigger.
type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	enforcement enforcementdomain.Service
	reconciler  reconciledomain.Service
	reporter    reportdomain.Service
	metrics     *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Enforcement == nil || p.Reconciler == nil || p.Reporter == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		enforcement: p.Enforcement,
		reconciler:  p.Reconciler,
		reporter:    p.Reporter,
		metrics:     metrics,
	}, nil
}

func (s *Scheduler) RunEnforcementSweep(ctx context.Context) (*batch.Result, error) {
	return s.runJob(ctx, JobEnforcement, s.cfg.EnforcementTimeout, s.enforcement.Sweep)
}

// RunReconciliationForAllUsers clears the reconciler caches and syncs every
// known user.
func (s *Scheduler) RunReconciliationForAllUsers(ctx context.Context) (*batch.Result, error) {
	return s.runJob(ctx, JobReconciliation, s.cfg.ReconciliationTimeout, func(ctx context.Context) (*batch.Result, error) {
		s.reconciler.ClearCache()
		return s.reconciler.SyncAll(ctx)
	})
}

func (s *Scheduler) RunUsageReportingBatch(ctx context.Context, asOf time.Time) (*batch.Result, error) {
	return s.runJob(ctx, JobReporting, s.cfg.ReportingTimeout, func(ctx context.Context) (*batch.Result, error) {
		return s.reporter.RunBatch(ctx, asOf)
	})
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) (*batch.Result, error),
) (*batch.Result, error) {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.beginJob(ctx, name)
	s.metrics.IncJobRun(name)

	result, err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if result != nil {
		s.metrics.AddBatchItems(name, obsmetrics.ItemStatusOK, result.Count(batch.StatusOK))
		s.metrics.AddBatchItems(name, obsmetrics.ItemStatusFailed, result.Count(batch.StatusFailed))
		s.metrics.AddBatchItems(name, obsmetrics.ItemStatusSkipped, result.Count(batch.StatusSkipped))
	}
	run.record(result)
	run.finish(err)
	if err == nil {
		return result, nil
	}

	// deadline is a soft timeout: the partial result stands
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		run.log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return result, nil
	}

	return result, fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job once. Job-level errors are joined; item
// failures stay inside each job's result.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) (*batch.Result, error)
	}{
		{JobReconciliation, s.RunReconciliationForAllUsers},
		{JobEnforcement, s.RunEnforcementSweep},
		{JobReporting, func(ctx context.Context) (*batch.Result, error) {
			return s.RunUsageReportingBatch(ctx, s.clock.Now())
		}},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		_, jobErr := job.Run(parent)
		err = errors.Join(err, jobErr)
	}
	return err
}

// RunForever triggers the jobs on their cron schedules (UTC) until ctx is
// done. A job still running when its next tick fires is skipped.
func (s *Scheduler) RunForever(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(s.log)))),
	)

	schedules := []struct {
		name string
		spec string
		run  func(context.Context) (*batch.Result, error)
	}{
		{JobEnforcement, s.cfg.EnforcementCron, s.RunEnforcementSweep},
		{JobReconciliation, s.cfg.ReconciliationCron, s.RunReconciliationForAllUsers},
		{JobReporting, s.cfg.ReportingCron, func(ctx context.Context) (*batch.Result, error) {
			return s.RunUsageReportingBatch(ctx, s.clock.Now())
		}},
	}

	for _, sched := range schedules {
		if !s.isJobEnabled(sched.name) {
			continue
		}
		sched := sched
		var id cron.EntryID
		var err error
		id, err = c.AddFunc(sched.spec, func() {
			// cron sets Prev to this run's scheduled time before answering Entry
			if prev := c.Entry(id).Prev; !prev.IsZero() {
				s.metrics.ObserveRunLoopLag(time.Since(prev))
			}
			if _, err := sched.run(ctx); err != nil {
				s.log.Warn("scheduler run failed", zap.String("job", sched.name), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s %q: %w", sched.name, sched.spec, err)
		}
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
