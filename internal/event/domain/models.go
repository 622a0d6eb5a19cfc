package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Name identifies an event type. The set of names is closed.
type Name string

const (
	EventAllocationSourceCreatedOrRenewed      Name = "allocation_source_created_or_renewed"
	EventAllocationSourceComputeAllowedChanged Name = "allocation_source_compute_allowed_changed"
	EventAllocationSourceSnapshot              Name = "allocation_source_snapshot"
	EventAllocationSourceRemoved               Name = "allocation_source_removed"
	EventUserAllocationSnapshotChanged         Name = "user_allocation_snapshot_changed"
	EventUserAllocationSourceCreated           Name = "user_allocation_source_created"
	EventUserAllocationSourceDeleted           Name = "user_allocation_source_deleted"
	EventInstanceAllocationSourceChanged       Name = "instance_allocation_source_changed"
	EventInstanceAllocationSourceRemoved       Name = "instance_allocation_source_removed"
	EventThresholdMet                          Name = "threshold_met"
)

// Event is one immutable entry of the ledger log.
type Event struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	UUID      string         `gorm:"type:varchar(64);not null;uniqueIndex" json:"uuid"`
	Name      Name           `gorm:"type:varchar(64);not null;index:idx_events_name_entity,priority:1" json:"name"`
	EntityID  string         `gorm:"type:varchar(255);not null;index:idx_events_name_entity,priority:2" json:"entity_id"`
	Payload   datatypes.JSON `gorm:"not null" json:"payload"`
	Timestamp time.Time      `gorm:"not null;index" json:"timestamp"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime:false" json:"created_at"`
}

func (Event) TableName() string { return "events" }

// AppendRequest is the input of Store.Append. Payload is the raw, unvalidated
// field map; UUID is optional and generated when nil.
type AppendRequest struct {
	Name      Name
	EntityID  string
	Payload   map[string]any
	UUID      *string
	Timestamp time.Time
}

// ListFilter selects events in (timestamp, id) order.
type ListFilter struct {
	Names    []Name
	EntityID string
	AfterID  snowflake.ID
	From     *time.Time
	To       *time.Time
	Limit    int
}
