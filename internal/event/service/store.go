package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/allocledger/internal/clock"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	"github.com/smallbiznis/allocledger/internal/lock"
	obsmetrics "github.com/smallbiznis/allocledger/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Repo             eventdomain.Repository
	Locker           lock.Locker
	Listeners        *Listeners
	ObsMetrics       *obsmetrics.Metrics          `optional:"true"`
	SchedulerMetrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

// Store is the append-only event log. Appends for one entity, together with
// their listeners, run inside that entity's exclusive section.
type Store struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       eventdomain.Repository
	locker     lock.Locker
	listeners  *Listeners
	obsMetrics *obsmetrics.Metrics
	lockWait   *obsmetrics.SchedulerMetrics
	tracer     trace.Tracer
}

func NewStore(p Params) *Store {
	return &Store{
		db:         p.DB,
		log:        p.Log.Named("event.store"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		locker:     p.Locker,
		listeners:  p.Listeners,
		obsMetrics: p.ObsMetrics,
		lockWait:   p.SchedulerMetrics,
		tracer:     otel.Tracer("allocledger/event"),
	}
}

// Append validates, stores and projects one event. An existing uuid returns
// the stored event without running listeners. A listener failure returns the
// stored event together with a *ListenerError.
func (s *Store) Append(ctx context.Context, req eventdomain.AppendRequest) (*eventdomain.Event, error) {
	ctx, span := s.tracer.Start(ctx, "event.append", trace.WithAttributes(
		attribute.String("event.name", string(req.Name)),
	))
	defer span.End()

	payload, err := eventdomain.Decode(req.Name, req.Payload)
	if err != nil {
		s.recordSchemaRejection(ctx, req.Name, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	entityID := strings.TrimSpace(req.EntityID)
	if entityID == "" {
		err := &eventdomain.SchemaError{Name: req.Name, Field: "entity_id", Reason: "required"}
		s.recordSchemaRejection(ctx, req.Name, err)
		return nil, err
	}
	if field, subject := eventdomain.Subject(payload); subject != entityID {
		err := &eventdomain.SchemaError{Name: req.Name, Field: "entity_id", Reason: "must equal " + field + " " + subject}
		s.recordSchemaRejection(ctx, req.Name, err)
		return nil, err
	}

	key := uuid.NewString()
	if req.UUID != nil {
		if trimmed := strings.TrimSpace(*req.UUID); trimmed != "" {
			key = trimmed
		}
	}
	if len(key) > 64 {
		return nil, eventdomain.ErrInvalidUUID
	}

	normalized, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = s.clock.Now()
	}
	timestamp = timestamp.UTC()

	ctx, release, err := s.enter(ctx, entityID)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.repo.FindByUUID(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.duplicate(ctx, existing, req)
		return existing, nil
	}

	if timestamp, err = s.notBeforeNewest(ctx, timestamp); err != nil {
		return nil, err
	}

	evt := &eventdomain.Event{
		ID:        s.genID.Generate(),
		UUID:      key,
		Name:      req.Name,
		EntityID:  entityID,
		Payload:   datatypes.JSON(normalized),
		Timestamp: timestamp,
		CreatedAt: s.clock.Now().UTC(),
	}
	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, evt)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.repo.FindByUUID(ctx, s.db, key)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, eventdomain.ErrEventNotFound
		}
		s.duplicate(ctx, existing, req)
		return existing, nil
	}

	span.SetAttributes(attribute.String("event.id", evt.ID.String()))
	if s.obsMetrics != nil {
		s.obsMetrics.RecordEventAppended(ctx, string(evt.Name))
	}
	s.log.Debug("event appended",
		zap.String("event_id", evt.ID.String()),
		zap.String("uuid", evt.UUID),
		zap.String("name", string(evt.Name)),
		zap.String("entity_id", evt.EntityID),
	)

	if err := s.dispatch(ctx, *evt); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return evt, err
	}
	return evt, nil
}

// Reproject re-runs the listeners of an already stored event. It is the retry
// path after Append surfaced a *ListenerError.
func (s *Store) Reproject(ctx context.Context, eventUUID string) (*eventdomain.Event, error) {
	evt, err := s.repo.FindByUUID(ctx, s.db, eventUUID)
	if err != nil {
		return nil, err
	}
	if evt == nil {
		return nil, eventdomain.ErrEventNotFound
	}

	ctx, release, err := s.enter(ctx, evt.EntityID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.dispatch(ctx, *evt); err != nil {
		return evt, err
	}
	return evt, nil
}

func (s *Store) GetByUUID(ctx context.Context, eventUUID string) (*eventdomain.Event, error) {
	evt, err := s.repo.FindByUUID(ctx, s.db, eventUUID)
	if err != nil {
		return nil, err
	}
	if evt == nil {
		return nil, eventdomain.ErrEventNotFound
	}
	return evt, nil
}

func (s *Store) List(ctx context.Context, filter eventdomain.ListFilter) ([]eventdomain.Event, error) {
	return s.repo.List(ctx, s.db, filter)
}

// Latest returns the most recently appended event of name for entityID, or nil.
func (s *Store) Latest(ctx context.Context, name eventdomain.Name, entityID string) (*eventdomain.Event, error) {
	return s.repo.Latest(ctx, s.db, name, entityID)
}

// notBeforeNewest raises a backdated timestamp to that of the newest stored
// event, so the (timestamp, id) order a rebuild replays in is the order events
// were projected in.
func (s *Store) notBeforeNewest(ctx context.Context, timestamp time.Time) (time.Time, error) {
	newest, err := s.repo.Newest(ctx, s.db)
	if err != nil {
		return time.Time{}, err
	}
	if newest == nil || !timestamp.Before(newest.Timestamp) {
		return timestamp, nil
	}
	s.log.Warn("backdated event timestamp raised",
		zap.Time("requested", timestamp),
		zap.Time("stored", newest.Timestamp),
	)
	return newest.Timestamp.UTC(), nil
}

func (s *Store) enter(ctx context.Context, entityID string) (context.Context, func(), error) {
	key := EntityLockKey(entityID)
	if lock.IsHeld(ctx, key) {
		return ctx, func() {}, nil
	}

	start := time.Now()
	release, err := s.locker.Lock(ctx, key)
	if err != nil {
		return ctx, nil, err
	}
	s.lockWait.ObserveLockWait(time.Since(start))
	return lock.WithHeld(ctx, key), release, nil
}

func (s *Store) dispatch(ctx context.Context, evt eventdomain.Event) error {
	for _, listener := range s.listeners.For(evt.Name) {
		if err := listener.Handle(ctx, evt); err != nil {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordListenerFailure(ctx, string(evt.Name), listener.Name())
			}
			s.log.Error("listener failed",
				zap.String("event_id", evt.ID.String()),
				zap.String("uuid", evt.UUID),
				zap.String("name", string(evt.Name)),
				zap.String("listener", listener.Name()),
				zap.Error(err),
			)
			return &eventdomain.ListenerError{
				EventID:   evt.ID,
				EventName: evt.Name,
				Listener:  listener.Name(),
				Err:       err,
			}
		}
	}
	return nil
}

func (s *Store) duplicate(ctx context.Context, existing *eventdomain.Event, req eventdomain.AppendRequest) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordEventDeduplicated(ctx, string(req.Name))
	}
	if existing.Name != req.Name || existing.EntityID != strings.TrimSpace(req.EntityID) {
		s.log.Warn("uuid reused for a different event",
			zap.String("uuid", existing.UUID),
			zap.String("stored_name", string(existing.Name)),
			zap.String("requested_name", string(req.Name)),
		)
	}
}

func (s *Store) recordSchemaRejection(ctx context.Context, name eventdomain.Name, err error) {
	field := ""
	if schemaErr, ok := err.(*eventdomain.SchemaError); ok {
		field = schemaErr.Field
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordSchemaRejection(ctx, string(name), field)
	}
	s.log.Warn("event rejected", zap.String("name", string(name)), zap.Error(err))
}

// EntityLockKey is the exclusive-section key for an entity.
func EntityLockKey(entityID string) string {
	return "entity:" + entityID
}

var (
	_ eventdomain.Appender = (*Store)(nil)
	_ eventdomain.Reader   = (*Store)(nil)
)
