package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/allocledger/pkg/batch"
	"gorm.io/gorm"
)

type Repository interface {
	// Latest returns the report with the greatest end date, or nil.
	Latest(ctx context.Context, db *gorm.DB, username, sourceName string) (*UsageReport, error)
	// Insert reports whether the row was written; false means a report for
	// the same period already exists.
	Insert(ctx context.Context, db *gorm.DB, report *UsageReport) (bool, error)
	FindByPeriodEnd(ctx context.Context, db *gorm.DB, username, sourceName string, end time.Time) (*UsageReport, error)
	List(ctx context.Context, db *gorm.DB, username, sourceName string) ([]UsageReport, error)
}

// UsageHistory answers how much compute a user consumed from a source in
// [start, end).
type UsageHistory interface {
	UsageDelta(ctx context.Context, username, sourceName string, start, end time.Time) (decimal.Decimal, error)
}

type Service interface {
	// Report writes the next report of the pair, ending at end.
	Report(ctx context.Context, username, sourceName string, end time.Time) (*UsageReport, error)
	// RunBatch reports every removed membership up to its removal and every
	// active membership up to asOf.
	RunBatch(ctx context.Context, asOf time.Time) (*batch.Result, error)
	List(ctx context.Context, username, sourceName string) ([]UsageReport, error)
}
