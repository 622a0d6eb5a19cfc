package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository persists the projected aggregates. Find* methods return nil, nil
// when the row does not exist.
type Repository interface {
	FindSource(ctx context.Context, db *gorm.DB, name string) (*AllocationSource, error)
	ListSources(ctx context.Context, db *gorm.DB, includeRemoved bool) ([]AllocationSource, error)
	SaveSource(ctx context.Context, db *gorm.DB, source *AllocationSource) error

	FindSnapshot(ctx context.Context, db *gorm.DB, sourceName string) (*AllocationSourceSnapshot, error)
	SaveSnapshot(ctx context.Context, db *gorm.DB, snapshot *AllocationSourceSnapshot) error

	FindMembership(ctx context.Context, db *gorm.DB, username, sourceName string) (*UserAllocationSource, error)
	ListMemberships(ctx context.Context, db *gorm.DB, username string) ([]UserAllocationSource, error)
	ListActiveMemberships(ctx context.Context, db *gorm.DB) ([]UserAllocationSource, error)
	SaveMembership(ctx context.Context, db *gorm.DB, membership *UserAllocationSource) error
	DeleteMembership(ctx context.Context, db *gorm.DB, username, sourceName string) error

	FindUserSnapshot(ctx context.Context, db *gorm.DB, username, sourceName string) (*UserAllocationSnapshot, error)
	ListUserSnapshotsBySource(ctx context.Context, db *gorm.DB, sourceName string) ([]UserAllocationSnapshot, error)
	SaveUserSnapshot(ctx context.Context, db *gorm.DB, snapshot *UserAllocationSnapshot) error

	FindInstance(ctx context.Context, db *gorm.DB, instanceID string) (*InstanceAllocationSnapshot, error)
	SaveInstance(ctx context.Context, db *gorm.DB, instance *InstanceAllocationSnapshot) error
	DeleteInstance(ctx context.Context, db *gorm.DB, instanceID string) error

	// ListUsernames returns every user known through a membership or a user snapshot.
	ListUsernames(ctx context.Context, db *gorm.DB) ([]string, error)
	// Truncate removes every aggregate row ahead of a rebuild.
	Truncate(ctx context.Context, db *gorm.DB) error
}

// Service exposes the accounting reads and the rebuild primitive.
type Service interface {
	GetSource(ctx context.Context, name string) (*AllocationSource, error)
	ListSources(ctx context.Context, includeRemoved bool) ([]AllocationSource, error)
	ListMemberships(ctx context.Context, username string) ([]UserAllocationSource, error)
	ListActiveMemberships(ctx context.Context) ([]UserAllocationSource, error)
	GetUserSnapshot(ctx context.Context, username, sourceName string) (*UserAllocationSnapshot, error)
	UsageSummary(ctx context.Context, sourceName string) (*UsageSummary, error)
	IsOverAllocation(ctx context.Context, sourceName string) (bool, error)
	Rebuild(ctx context.Context) (int, error)
}
