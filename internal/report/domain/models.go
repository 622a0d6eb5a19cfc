package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// UsageReport is one contiguous, append-only usage period of a membership.
type UsageReport struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	Username             string          `gorm:"type:varchar(255);not null;uniqueIndex:ux_usage_reports_period,priority:1" json:"username"`
	AllocationSourceName string          `gorm:"type:varchar(255);not null;uniqueIndex:ux_usage_reports_period,priority:2" json:"allocation_source_name"`
	StartDate            time.Time       `gorm:"not null" json:"start_date"`
	EndDate              time.Time       `gorm:"not null;uniqueIndex:ux_usage_reports_period,priority:3" json:"end_date"`
	ComputeUsed          decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"compute_used"`
	CreatedAt            time.Time       `gorm:"not null" json:"created_at"`
}

func (UsageReport) TableName() string { return "usage_reports" }
