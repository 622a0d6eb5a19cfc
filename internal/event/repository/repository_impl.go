package repository

import (
	"context"
	"errors"

	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() eventdomain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, evt *eventdomain.Event) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uuid"}},
			DoNothing: true,
		}).
		Create(evt)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByUUID(ctx context.Context, db *gorm.DB, uuid string) (*eventdomain.Event, error) {
	var evt eventdomain.Event
	err := db.WithContext(ctx).Where("uuid = ?", uuid).Take(&evt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter eventdomain.ListFilter) ([]eventdomain.Event, error) {
	stmt := db.WithContext(ctx).Model(&eventdomain.Event{})
	if len(filter.Names) > 0 {
		stmt = stmt.Where("name IN ?", filter.Names)
	}
	if filter.EntityID != "" {
		stmt = stmt.Where("entity_id = ?", filter.EntityID)
	}
	if filter.AfterID != 0 {
		stmt = stmt.Where("id > ?", filter.AfterID)
	}
	if filter.From != nil {
		stmt = stmt.Where("timestamp >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("timestamp <= ?", filter.To.UTC())
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var events []eventdomain.Event
	if err := stmt.Order("timestamp ASC").Order("id ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) Latest(ctx context.Context, db *gorm.DB, name eventdomain.Name, entityID string) (*eventdomain.Event, error) {
	var evt eventdomain.Event
	err := db.WithContext(ctx).
		Where("name = ? AND entity_id = ?", name, entityID).
		Order("id DESC").
		Take(&evt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

func (r *repo) Newest(ctx context.Context, db *gorm.DB) (*eventdomain.Event, error) {
	var evt eventdomain.Event
	err := db.WithContext(ctx).
		Order("timestamp DESC").
		Order("id DESC").
		Take(&evt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}
