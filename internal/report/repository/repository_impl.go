package repository

import (
	"context"
	"errors"
	"time"

	reportdomain "github.com/smallbiznis/allocledger/internal/report/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() reportdomain.Repository {
	return &repo{}
}

func (r *repo) Latest(ctx context.Context, db *gorm.DB, username, sourceName string) (*reportdomain.UsageReport, error) {
	var report reportdomain.UsageReport
	err := db.WithContext(ctx).
		Where("username = ? AND allocation_source_name = ?", username, sourceName).
		Order("end_date DESC").
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, report *reportdomain.UsageReport) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(report)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByPeriodEnd(ctx context.Context, db *gorm.DB, username, sourceName string, end time.Time) (*reportdomain.UsageReport, error) {
	var report reportdomain.UsageReport
	err := db.WithContext(ctx).
		Where("username = ? AND allocation_source_name = ? AND end_date = ?", username, sourceName, end.UTC()).
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, username, sourceName string) ([]reportdomain.UsageReport, error) {
	var reports []reportdomain.UsageReport
	err := db.WithContext(ctx).
		Where("username = ? AND allocation_source_name = ?", username, sourceName).
		Order("end_date ASC").
		Find(&reports).Error
	return reports, err
}
