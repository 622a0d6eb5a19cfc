package projector

import (
	"context"
	"errors"
	"reflect"

	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProjectedNames are the event names the projector folds into aggregates.
var ProjectedNames = []eventdomain.Name{
	eventdomain.EventAllocationSourceCreatedOrRenewed,
	eventdomain.EventAllocationSourceComputeAllowedChanged,
	eventdomain.EventAllocationSourceSnapshot,
	eventdomain.EventAllocationSourceRemoved,
	eventdomain.EventUserAllocationSnapshotChanged,
	eventdomain.EventUserAllocationSourceCreated,
	eventdomain.EventUserAllocationSourceDeleted,
	eventdomain.EventInstanceAllocationSourceChanged,
	eventdomain.EventInstanceAllocationSourceRemoved,
}

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo allocationdomain.Repository
}

// Projector loads the aggregates an event touches, applies it and persists
// the difference.
type Projector struct {
	db   *gorm.DB
	log  *zap.Logger
	repo allocationdomain.Repository
}

func New(p Params) *Projector {
	return &Projector{
		db:   p.DB,
		log:  p.Log.Named("allocation.projector"),
		repo: p.Repo,
	}
}

func (p *Projector) Name() string { return "allocation.projector" }

// Handle projects evt on the projector's own connection.
func (p *Projector) Handle(ctx context.Context, evt eventdomain.Event) error {
	return p.Project(ctx, p.db, evt)
}

// Project folds evt into the aggregates reachable through db. Referential
// gaps are logged and swallowed.
func (p *Projector) Project(ctx context.Context, db *gorm.DB, evt eventdomain.Event) error {
	payload, err := eventdomain.DecodeEvent(evt)
	if err != nil {
		return err
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keys := KeysFor(payload)
		before, err := p.load(ctx, tx, keys)
		if err != nil {
			return err
		}

		after, err := Apply(before, evt, payload)
		var gapErr *allocationdomain.ReferentialGap
		if errors.As(err, &gapErr) {
			p.log.Warn("referential gap",
				zap.String("event_id", evt.ID.String()),
				zap.String("name", string(evt.Name)),
				zap.String("aggregate", gapErr.Aggregate),
				zap.String("key", gapErr.Key),
			)
			return nil
		}
		if err != nil {
			return err
		}

		return p.save(ctx, tx, before, after)
	})
}

func (p *Projector) load(ctx context.Context, db *gorm.DB, keys Keys) (State, error) {
	var (
		state State
		err   error
	)
	if keys.SourceName != "" {
		if state.Source, err = p.repo.FindSource(ctx, db, keys.SourceName); err != nil {
			return state, err
		}
		if state.Snapshot, err = p.repo.FindSnapshot(ctx, db, keys.SourceName); err != nil {
			return state, err
		}
	}
	if keys.Username != "" {
		if state.Membership, err = p.repo.FindMembership(ctx, db, keys.Username, keys.SourceName); err != nil {
			return state, err
		}
		if state.UserSnapshot, err = p.repo.FindUserSnapshot(ctx, db, keys.Username, keys.SourceName); err != nil {
			return state, err
		}
	}
	if keys.AllUsers {
		if state.UserSnapshots, err = p.repo.ListUserSnapshotsBySource(ctx, db, keys.SourceName); err != nil {
			return state, err
		}
	}
	if keys.InstanceID != "" {
		if state.Instance, err = p.repo.FindInstance(ctx, db, keys.InstanceID); err != nil {
			return state, err
		}
	}
	return state, nil
}

func (p *Projector) save(ctx context.Context, db *gorm.DB, before, after State) error {
	if after.Source != nil && !reflect.DeepEqual(before.Source, after.Source) {
		if err := p.repo.SaveSource(ctx, db, after.Source); err != nil {
			return err
		}
	}
	if after.Snapshot != nil && !reflect.DeepEqual(before.Snapshot, after.Snapshot) {
		if err := p.repo.SaveSnapshot(ctx, db, after.Snapshot); err != nil {
			return err
		}
	}

	switch {
	case before.Membership != nil && after.Membership == nil:
		if err := p.repo.DeleteMembership(ctx, db, before.Membership.Username, before.Membership.AllocationSourceName); err != nil {
			return err
		}
	case after.Membership != nil && before.Membership == nil:
		if err := p.repo.SaveMembership(ctx, db, after.Membership); err != nil {
			return err
		}
	}

	if after.UserSnapshot != nil && !reflect.DeepEqual(before.UserSnapshot, after.UserSnapshot) {
		if err := p.repo.SaveUserSnapshot(ctx, db, after.UserSnapshot); err != nil {
			return err
		}
	}
	for i := range after.UserSnapshots {
		if i < len(before.UserSnapshots) && reflect.DeepEqual(before.UserSnapshots[i], after.UserSnapshots[i]) {
			continue
		}
		if err := p.repo.SaveUserSnapshot(ctx, db, &after.UserSnapshots[i]); err != nil {
			return err
		}
	}

	switch {
	case before.Instance != nil && after.Instance == nil:
		return p.repo.DeleteInstance(ctx, db, before.Instance.InstanceID)
	case after.Instance != nil && !reflect.DeepEqual(before.Instance, after.Instance):
		return p.repo.SaveInstance(ctx, db, after.Instance)
	}
	return nil
}
