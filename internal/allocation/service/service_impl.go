package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	"github.com/smallbiznis/allocledger/internal/allocation/projector"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      allocationdomain.Repository
	Events    eventdomain.Repository
	Projector *projector.Projector
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      allocationdomain.Repository
	events    eventdomain.Repository
	projector *projector.Projector
}

func NewService(p Params) allocationdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("allocation.service"),
		repo:      p.Repo,
		events:    p.Events,
		projector: p.Projector,
	}
}

func (s *Service) GetSource(ctx context.Context, name string) (*allocationdomain.AllocationSource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, allocationdomain.ErrInvalidSourceName
	}
	source, err := s.repo.FindSource(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, allocationdomain.ErrSourceNotFound
	}
	return source, nil
}

func (s *Service) ListSources(ctx context.Context, includeRemoved bool) ([]allocationdomain.AllocationSource, error) {
	return s.repo.ListSources(ctx, s.db, includeRemoved)
}

func (s *Service) ListMemberships(ctx context.Context, username string) ([]allocationdomain.UserAllocationSource, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, allocationdomain.ErrInvalidUsername
	}
	return s.repo.ListMemberships(ctx, s.db, username)
}

func (s *Service) ListActiveMemberships(ctx context.Context) ([]allocationdomain.UserAllocationSource, error) {
	return s.repo.ListActiveMemberships(ctx, s.db)
}

func (s *Service) GetUserSnapshot(ctx context.Context, username, sourceName string) (*allocationdomain.UserAllocationSnapshot, error) {
	snapshot, err := s.repo.FindUserSnapshot(ctx, s.db, username, sourceName)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, allocationdomain.ErrUserSnapshotNotFound
	}
	return snapshot, nil
}

func (s *Service) UsageSummary(ctx context.Context, sourceName string) (*allocationdomain.UsageSummary, error) {
	source, err := s.GetSource(ctx, sourceName)
	if err != nil {
		return nil, err
	}
	summary := &allocationdomain.UsageSummary{
		AllocationSourceName: source.Name,
		ComputeAllowed:       source.ComputeAllowed,
		Active:               source.Active(),
	}

	snapshot, err := s.repo.FindSnapshot(ctx, s.db, source.Name)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		summary.ComputeUsed = snapshot.ComputeUsed
		summary.GlobalBurnRate = snapshot.GlobalBurnRate
	}
	summary.Remaining = summary.ComputeAllowed.Sub(summary.ComputeUsed)
	summary.Percent = allocationdomain.UsagePercent(summary.ComputeUsed, summary.ComputeAllowed)
	return summary, nil
}

// IsOverAllocation reports whether the source has a positive allowance that
// its usage has reached.
func (s *Service) IsOverAllocation(ctx context.Context, sourceName string) (bool, error) {
	summary, err := s.UsageSummary(ctx, sourceName)
	if err != nil {
		return false, err
	}
	return OverAllocated(summary.ComputeUsed, summary.ComputeAllowed), nil
}

func OverAllocated(used, allowed decimal.Decimal) bool {
	return allowed.IsPositive() && used.GreaterThanOrEqual(allowed)
}

// Rebuild discards every aggregate and replays the whole log through the
// projector in (timestamp, id) order inside one transaction. Appends should be
// paused while it runs. Listeners other than the projector are not re-run.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	start := time.Now()
	replayed := 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Truncate(ctx, tx); err != nil {
			return err
		}

		events, err := s.events.List(ctx, tx, eventdomain.ListFilter{})
		if err != nil {
			return err
		}
		for _, evt := range events {
			if err := s.projector.Project(ctx, tx, evt); err != nil {
				return err
			}
			replayed++
		}
		return nil
	})
	if err != nil {
		s.log.Error("rebuild failed", zap.Int("replayed", replayed), zap.Error(err))
		return 0, err
	}

	s.log.Info("rebuild finished",
		zap.Int("events", replayed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return replayed, nil
}
