package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository persists the append-only event log. Every method takes the
// *gorm.DB to run on so callers control the transaction.
type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, evt *Event) (bool, error)
	FindByUUID(ctx context.Context, db *gorm.DB, uuid string) (*Event, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Event, error)
	Latest(ctx context.Context, db *gorm.DB, name Name, entityID string) (*Event, error)
	// Newest returns the last event in (timestamp, id) order, or nil.
	Newest(ctx context.Context, db *gorm.DB) (*Event, error)
}
