package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/allocledger/internal/observability/context"
	obslogger "github.com/smallbiznis/allocledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/allocledger/internal/observability/metrics"
	"github.com/smallbiznis/allocledger/pkg/batch"
	"github.com/smallbiznis/allocledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a scheduled job for its start and finish
// log lines.
type jobRun struct {
	log       *zap.Logger
	startedAt time.Time
	processed int
	failed    int
}

// beginJob tags ctx with the job name, a fresh run id and a correlation id,
// then logs the start of the run.
func (s *Scheduler) beginJob(ctx context.Context, job string) (context.Context, *jobRun) {
	ctx, _ = correlation.Ensure(ctx)
	ctx = obscontext.WithJob(ctx, job, s.genID.Generate().String())

	run := &jobRun{
		log:       obslogger.WithContext(ctx, s.log),
		startedAt: time.Now(),
	}
	run.log.Info("scheduler.job.start")
	return ctx, run
}

// record counts the batch outcome and logs every failed item.
func (r *jobRun) record(result *batch.Result) {
	if result == nil {
		return
	}
	r.processed += result.Len()
	for _, item := range result.Items() {
		err := item.Err()
		if item.Status != batch.StatusFailed || err == nil {
			continue
		}
		r.failed++
		r.log.Error("scheduler.item.failed",
			zap.String("item", item.Key),
			zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
			zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
			zap.Error(err),
		)
	}
}

func (r *jobRun) finish(err error) {
	if err != nil && r.failed == 0 {
		r.failed = 1
	}
	fields := []zap.Field{
		zap.Int64("duration_ms", time.Since(r.startedAt).Milliseconds()),
		zap.Int("processed_count", r.processed),
		zap.Int("error_count", r.failed),
	}
	if r.failed > 0 {
		r.log.Warn("scheduler.job.finish", fields...)
		return
	}
	r.log.Info("scheduler.job.finish", fields...)
}
