package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// AllocationSource is a named compute-time budget. A non-nil EndDate marks it
// as removed.
type AllocationSource struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	UUID            string          `gorm:"type:varchar(64);not null" json:"uuid"`
	Name            string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"name"`
	ComputeAllowed  decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"compute_allowed"`
	RenewalStrategy string          `gorm:"type:varchar(64);not null" json:"renewal_strategy"`
	StartDate       time.Time       `gorm:"not null" json:"start_date"`
	EndDate         *time.Time      `json:"end_date,omitempty"`
	UpdatedAt       time.Time       `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (AllocationSource) TableName() string { return "allocation_sources" }

func (s AllocationSource) Active() bool { return s.EndDate == nil }

type AllocationSourceSnapshot struct {
	AllocationSourceName string          `gorm:"primaryKey;type:varchar(255)" json:"allocation_source_name"`
	ComputeAllowed       decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"compute_allowed"`
	ComputeUsed          decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"compute_used"`
	GlobalBurnRate       decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"global_burn_rate"`
	UpdatedAt            time.Time       `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (AllocationSourceSnapshot) TableName() string { return "allocation_source_snapshots" }

// UserAllocationSource is the membership edge between a user and a source.
type UserAllocationSource struct {
	Username             string    `gorm:"primaryKey;type:varchar(255)" json:"username"`
	AllocationSourceName string    `gorm:"primaryKey;type:varchar(255);index" json:"allocation_source_name"`
	CreatedAt            time.Time `gorm:"not null;autoCreateTime:false" json:"created_at"`
}

func (UserAllocationSource) TableName() string { return "user_allocation_sources" }

type UserAllocationSnapshot struct {
	Username             string          `gorm:"primaryKey;type:varchar(255)" json:"username"`
	AllocationSourceName string          `gorm:"primaryKey;type:varchar(255);index" json:"allocation_source_name"`
	ComputeUsed          decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"compute_used"`
	BurnRate             decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"burn_rate"`
	UpdatedAt            time.Time       `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (UserAllocationSnapshot) TableName() string { return "user_allocation_snapshots" }

// InstanceAllocationSnapshot attributes an instance to the source it bills.
type InstanceAllocationSnapshot struct {
	InstanceID           string    `gorm:"primaryKey;type:varchar(255)" json:"instance_id"`
	AllocationSourceName string    `gorm:"type:varchar(255);not null;index" json:"allocation_source_name"`
	UpdatedAt            time.Time `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (InstanceAllocationSnapshot) TableName() string { return "instance_allocation_snapshots" }

// UsageSummary is the accounting read for one source.
type UsageSummary struct {
	AllocationSourceName string          `json:"allocation_source_name"`
	ComputeAllowed       decimal.Decimal `json:"compute_allowed"`
	ComputeUsed          decimal.Decimal `json:"compute_used"`
	Remaining            decimal.Decimal `json:"remaining"`
	Percent              decimal.Decimal `json:"percent"`
	GlobalBurnRate       decimal.Decimal `json:"global_burn_rate"`
	Active               bool            `json:"active"`
}

// UsagePercent is used*100/allowed rounded to 4 places, or zero when allowed is not positive.
func UsagePercent(used, allowed decimal.Decimal) decimal.Decimal {
	if !allowed.IsPositive() {
		return decimal.Zero
	}
	return used.Mul(decimal.NewFromInt(100)).DivRound(allowed, 4)
}
