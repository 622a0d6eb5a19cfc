package domain

import (
	"context"

	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	"github.com/smallbiznis/allocledger/pkg/batch"
)

// Mapping is a cached username lookup. Found is false when the authority
// has no identity for the user.
type Mapping struct {
	RemoteUsername string
	Found          bool
}

// UserDirectory lists the local users a full reconciliation visits.
type UserDirectory interface {
	Usernames(ctx context.Context) ([]string, error)
}

type Service interface {
	// Sync converges the memberships of one user with the authority and
	// returns the sources the authority confirmed.
	Sync(ctx context.Context, username string) ([]allocationdomain.AllocationSource, error)
	// SyncAll runs Sync for every user in the directory. One user's failure
	// never stops the others.
	SyncAll(ctx context.Context) (*batch.Result, error)
	ClearCache()
}
