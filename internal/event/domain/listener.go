package domain

import "context"

// Listener reacts to stored events. Handle runs inside the per-entity
// exclusive section of the append that produced evt.
type Listener interface {
	Name() string
	Handle(ctx context.Context, evt Event) error
}

// Appender is the write side of the event store as seen by listeners and
// producers such as the reconciler.
type Appender interface {
	Append(ctx context.Context, req AppendRequest) (*Event, error)
}

// Reader is the read side of the event log.
type Reader interface {
	GetByUUID(ctx context.Context, uuid string) (*Event, error)
	List(ctx context.Context, filter ListFilter) ([]Event, error)
	Latest(ctx context.Context, name Name, entityID string) (*Event, error)
}
