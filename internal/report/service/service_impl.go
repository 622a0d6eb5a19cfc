package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	"github.com/smallbiznis/allocledger/internal/clock"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	obslogger "github.com/smallbiznis/allocledger/internal/observability/logger"
	reportdomain "github.com/smallbiznis/allocledger/internal/report/domain"
	"github.com/smallbiznis/allocledger/pkg/batch"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const JobName = "usage_reporting"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     reportdomain.Repository
	History  reportdomain.UsageHistory
	Reader   eventdomain.Reader
	Accounts allocationdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     reportdomain.Repository
	history  reportdomain.UsageHistory
	reader   eventdomain.Reader
	accounts allocationdomain.Service
}

func NewService(p Params) reportdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("report.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		history:  p.History,
		reader:   p.Reader,
		accounts: p.Accounts,
	}
}

func (s *Service) List(ctx context.Context, username, sourceName string) ([]reportdomain.UsageReport, error) {
	return s.repo.List(ctx, s.db, username, sourceName)
}

// Report starts at the end of the previous report of the pair, or at
// enrollment when there is none.
func (s *Service) Report(ctx context.Context, username, sourceName string, end time.Time) (*reportdomain.UsageReport, error) {
	username = strings.TrimSpace(username)
	sourceName = strings.TrimSpace(sourceName)
	if username == "" {
		return nil, allocationdomain.ErrInvalidUsername
	}
	if sourceName == "" {
		return nil, allocationdomain.ErrInvalidSourceName
	}
	end = end.UTC()

	if existing, err := s.repo.FindByPeriodEnd(ctx, s.db, username, sourceName, end); err != nil || existing != nil {
		return existing, err
	}

	start, err := s.periodStart(ctx, username, sourceName)
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, reportdomain.ErrEmptyPeriod
	}

	delta, err := s.history.UsageDelta(ctx, username, sourceName, start, end)
	if err != nil {
		return nil, err
	}
	if delta.IsNegative() {
		return nil, &reportdomain.DataIntegrityError{
			Username:             username,
			AllocationSourceName: sourceName,
			Start:                start,
			End:                  end,
			Delta:                delta,
		}
	}

	report := &reportdomain.UsageReport{
		ID:                   s.genID.Generate(),
		Username:             username,
		AllocationSourceName: sourceName,
		StartDate:            start,
		EndDate:              end,
		ComputeUsed:          delta,
		CreatedAt:            s.clock.Now().UTC(),
	}
	inserted, err := s.repo.Insert(ctx, s.db, report)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return s.repo.FindByPeriodEnd(ctx, s.db, username, sourceName, end)
	}

	obslogger.WithContext(ctx, s.log).Info("usage report written",
		zap.String("username", username),
		zap.String("allocation_source", sourceName),
		zap.Time("start_date", start),
		zap.Time("end_date", end),
		zap.String("compute_used", delta.String()),
	)
	return report, nil
}

func (s *Service) periodStart(ctx context.Context, username, sourceName string) (time.Time, error) {
	prior, err := s.repo.Latest(ctx, s.db, username, sourceName)
	if err != nil {
		return time.Time{}, err
	}
	if prior != nil {
		return prior.EndDate.UTC(), nil
	}
	return s.enrollment(ctx, username, sourceName)
}

// enrollment is the timestamp of the first membership event of the pair.
func (s *Service) enrollment(ctx context.Context, username, sourceName string) (time.Time, error) {
	events, err := s.reader.List(ctx, eventdomain.ListFilter{
		Names:    []eventdomain.Name{eventdomain.EventUserAllocationSourceCreated},
		EntityID: username,
	})
	if err != nil {
		return time.Time{}, err
	}
	for _, evt := range events {
		payload, err := eventdomain.DecodeEvent(evt)
		if err != nil {
			return time.Time{}, err
		}
		if p, ok := payload.(eventdomain.UserSourceCreated); ok && p.AllocationSourceName == sourceName {
			return evt.Timestamp.UTC(), nil
		}
	}
	return time.Time{}, reportdomain.ErrNotEnrolled
}

type removal struct {
	username   string
	sourceName string
	at         time.Time
}

func (s *Service) RunBatch(ctx context.Context, asOf time.Time) (*batch.Result, error) {
	asOf = asOf.UTC()
	result := batch.New(JobName)
	log := obslogger.WithContext(ctx, s.log)

	removals, err := s.removals(ctx, asOf)
	if err != nil {
		return nil, err
	}
	for _, r := range removals {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		s.reportInto(ctx, result, r.username, r.sourceName, r.at, true)
	}

	memberships, err := s.accounts.ListActiveMemberships(ctx)
	if err != nil {
		return result, err
	}
	for _, m := range memberships {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		s.reportInto(ctx, result, m.Username, m.AllocationSourceName, asOf, false)
	}

	log.Info("usage reporting finished",
		zap.Time("as_of", asOf),
		zap.Int("written", result.Count(batch.StatusOK)),
		zap.Int("skipped", result.Count(batch.StatusSkipped)),
		zap.Int("failed", result.Count(batch.StatusFailed)),
	)
	return result, nil
}

// reportInto records one pair in result. A removal that an earlier report
// already covers is skipped.
func (s *Service) reportInto(ctx context.Context, result *batch.Result, username, sourceName string, end time.Time, final bool) {
	key := fmt.Sprintf("%s/%s@%s", username, sourceName, end.Format(time.RFC3339Nano))

	if final {
		prior, err := s.repo.Latest(ctx, s.db, username, sourceName)
		if err != nil {
			result.Record(key, err)
			return
		}
		if prior != nil && !prior.EndDate.Before(end) {
			result.Skip(key, "already_reported")
			return
		}
	}

	_, err := s.Report(ctx, username, sourceName, end)
	switch {
	case errors.Is(err, reportdomain.ErrEmptyPeriod), errors.Is(err, reportdomain.ErrNotEnrolled):
		result.Skip(key, err.Error())
	case err != nil:
		obslogger.WithContext(ctx, s.log).Error("usage report failed",
			zap.String("username", username),
			zap.String("allocation_source", sourceName),
			zap.Error(err),
		)
		result.Record(key, err)
	default:
		result.OK(key)
	}
}

// removals lists membership deletions up to asOf in chronological order.
func (s *Service) removals(ctx context.Context, asOf time.Time) ([]removal, error) {
	events, err := s.reader.List(ctx, eventdomain.ListFilter{
		Names: []eventdomain.Name{eventdomain.EventUserAllocationSourceDeleted},
	})
	if err != nil {
		return nil, err
	}

	out := make([]removal, 0, len(events))
	for _, evt := range events {
		if evt.Timestamp.After(asOf) {
			continue
		}
		payload, err := eventdomain.DecodeEvent(evt)
		if err != nil {
			return nil, err
		}
		p := payload.(eventdomain.UserSourceDeleted)
		out = append(out, removal{username: p.Username, sourceName: p.AllocationSourceName, at: evt.Timestamp.UTC()})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out, nil
}
