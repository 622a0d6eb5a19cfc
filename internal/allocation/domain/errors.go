package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSourceNotFound       = errors.New("allocation_source_not_found")
	ErrUserSnapshotNotFound = errors.New("user_allocation_snapshot_not_found")
	ErrInvalidUsername      = errors.New("invalid_username")
	ErrInvalidSourceName    = errors.New("invalid_allocation_source_name")
)

// ReferentialGap reports that an event referenced an aggregate that does not
// exist. The projector logs it and moves on.
type ReferentialGap struct {
	Aggregate string
	Key       string
}

func (e *ReferentialGap) Error() string {
	return fmt.Sprintf("referential_gap: %s %q not found", e.Aggregate, e.Key)
}
