package repository

import (
	"context"
	"errors"
	"sort"

	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() allocationdomain.Repository {
	return &repo{}
}

func (r *repo) FindSource(ctx context.Context, db *gorm.DB, name string) (*allocationdomain.AllocationSource, error) {
	var source allocationdomain.AllocationSource
	if err := db.WithContext(ctx).Where("name = ?", name).Take(&source).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &source, nil
}

func (r *repo) ListSources(ctx context.Context, db *gorm.DB, includeRemoved bool) ([]allocationdomain.AllocationSource, error) {
	stmt := db.WithContext(ctx).Model(&allocationdomain.AllocationSource{})
	if !includeRemoved {
		stmt = stmt.Where("end_date IS NULL")
	}
	var sources []allocationdomain.AllocationSource
	if err := stmt.Order("name ASC").Find(&sources).Error; err != nil {
		return nil, err
	}
	return sources, nil
}

func (r *repo) SaveSource(ctx context.Context, db *gorm.DB, source *allocationdomain.AllocationSource) error {
	return upsert(ctx, db, source)
}

func (r *repo) FindSnapshot(ctx context.Context, db *gorm.DB, sourceName string) (*allocationdomain.AllocationSourceSnapshot, error) {
	var snapshot allocationdomain.AllocationSourceSnapshot
	if err := db.WithContext(ctx).Where("allocation_source_name = ?", sourceName).Take(&snapshot).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &snapshot, nil
}

func (r *repo) SaveSnapshot(ctx context.Context, db *gorm.DB, snapshot *allocationdomain.AllocationSourceSnapshot) error {
	return upsert(ctx, db, snapshot)
}

func (r *repo) FindMembership(ctx context.Context, db *gorm.DB, username, sourceName string) (*allocationdomain.UserAllocationSource, error) {
	var membership allocationdomain.UserAllocationSource
	err := db.WithContext(ctx).
		Where("username = ? AND allocation_source_name = ?", username, sourceName).
		Take(&membership).Error
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	return &membership, nil
}

func (r *repo) ListMemberships(ctx context.Context, db *gorm.DB, username string) ([]allocationdomain.UserAllocationSource, error) {
	var memberships []allocationdomain.UserAllocationSource
	err := db.WithContext(ctx).
		Where("username = ?", username).
		Order("allocation_source_name ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

func (r *repo) ListActiveMemberships(ctx context.Context, db *gorm.DB) ([]allocationdomain.UserAllocationSource, error) {
	var memberships []allocationdomain.UserAllocationSource
	err := db.WithContext(ctx).
		Table("user_allocation_sources AS m").
		Select("m.username, m.allocation_source_name, m.created_at").
		Joins("JOIN allocation_sources AS s ON s.name = m.allocation_source_name").
		Where("s.end_date IS NULL").
		Order("m.allocation_source_name ASC").
		Order("m.username ASC").
		Scan(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

func (r *repo) SaveMembership(ctx context.Context, db *gorm.DB, membership *allocationdomain.UserAllocationSource) error {
	return upsert(ctx, db, membership)
}

func (r *repo) DeleteMembership(ctx context.Context, db *gorm.DB, username, sourceName string) error {
	return db.WithContext(ctx).
		Where("username = ? AND allocation_source_name = ?", username, sourceName).
		Delete(&allocationdomain.UserAllocationSource{}).Error
}

func (r *repo) FindUserSnapshot(ctx context.Context, db *gorm.DB, username, sourceName string) (*allocationdomain.UserAllocationSnapshot, error) {
	var snapshot allocationdomain.UserAllocationSnapshot
	err := db.WithContext(ctx).
		Where("username = ? AND allocation_source_name = ?", username, sourceName).
		Take(&snapshot).Error
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	return &snapshot, nil
}

func (r *repo) ListUserSnapshotsBySource(ctx context.Context, db *gorm.DB, sourceName string) ([]allocationdomain.UserAllocationSnapshot, error) {
	var snapshots []allocationdomain.UserAllocationSnapshot
	err := db.WithContext(ctx).
		Where("allocation_source_name = ?", sourceName).
		Order("username ASC").
		Find(&snapshots).Error
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (r *repo) SaveUserSnapshot(ctx context.Context, db *gorm.DB, snapshot *allocationdomain.UserAllocationSnapshot) error {
	return upsert(ctx, db, snapshot)
}

func (r *repo) FindInstance(ctx context.Context, db *gorm.DB, instanceID string) (*allocationdomain.InstanceAllocationSnapshot, error) {
	var instance allocationdomain.InstanceAllocationSnapshot
	if err := db.WithContext(ctx).Where("instance_id = ?", instanceID).Take(&instance).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &instance, nil
}

func (r *repo) SaveInstance(ctx context.Context, db *gorm.DB, instance *allocationdomain.InstanceAllocationSnapshot) error {
	return upsert(ctx, db, instance)
}

func (r *repo) DeleteInstance(ctx context.Context, db *gorm.DB, instanceID string) error {
	return db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Delete(&allocationdomain.InstanceAllocationSnapshot{}).Error
}

func (r *repo) ListUsernames(ctx context.Context, db *gorm.DB) ([]string, error) {
	var fromMemberships, fromSnapshots []string
	if err := db.WithContext(ctx).
		Model(&allocationdomain.UserAllocationSource{}).
		Distinct("username").
		Pluck("username", &fromMemberships).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).
		Model(&allocationdomain.UserAllocationSnapshot{}).
		Distinct("username").
		Pluck("username", &fromSnapshots).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(fromMemberships)+len(fromSnapshots))
	usernames := make([]string, 0, len(fromMemberships)+len(fromSnapshots))
	for _, list := range [][]string{fromMemberships, fromSnapshots} {
		for _, username := range list {
			if _, ok := seen[username]; ok {
				continue
			}
			seen[username] = struct{}{}
			usernames = append(usernames, username)
		}
	}
	sort.Strings(usernames)
	return usernames, nil
}

func (r *repo) Truncate(ctx context.Context, db *gorm.DB) error {
	models := []any{
		&allocationdomain.InstanceAllocationSnapshot{},
		&allocationdomain.UserAllocationSnapshot{},
		&allocationdomain.UserAllocationSource{},
		&allocationdomain.AllocationSourceSnapshot{},
		&allocationdomain.AllocationSource{},
	}
	for _, model := range models {
		err := db.WithContext(ctx).
			Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(model).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func upsert(ctx context.Context, db *gorm.DB, value any) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(value).Error
}

func notFoundAsNil(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
