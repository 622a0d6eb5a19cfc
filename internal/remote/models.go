package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	obsmetrics "github.com/smallbiznis/allocledger/internal/observability/metrics"
)

const (
	StatusSuccess = "success"

	// NoMappingPrefix starts the message the authority returns for an
	// unknown local username.
	NoMappingPrefix = "No mapping found"

	AllocationStatusActive = "active"
)

var ErrNotConfigured = errors.New("remote_api_not_configured")

// envelope is the response shape of every authority endpoint.
type envelope struct {
	Status  *string         `json:"status"`
	Message *string         `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Project is a remote project and the allocations it holds.
type Project struct {
	ID          int64        `json:"id"`
	ChargeCode  string       `json:"chargeCode"`
	Title       string       `json:"title"`
	Allocations []Allocation `json:"allocations"`
}

type Allocation struct {
	ID               int64           `json:"id"`
	Resource         string          `json:"resource"`
	Status           string          `json:"status"`
	Start            time.Time       `json:"start"`
	End              time.Time       `json:"end"`
	ComputeAllocated decimal.Decimal `json:"computeAllocated"`
}

// ActiveAt reports whether the allocation is active and now is in [Start, End).
func (a Allocation) ActiveAt(now time.Time) bool {
	if !strings.EqualFold(a.Status, AllocationStatusActive) {
		return false
	}
	return !now.Before(a.Start) && now.Before(a.End)
}

// ProjectAllocation pairs a project with one of its allocations.
type ProjectAllocation struct {
	Project    Project
	Allocation Allocation
}

// RemoteAPIError reports a failed or malformed authority response.
type RemoteAPIError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *RemoteAPIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("remote api %s: status %d: %s", e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("remote api %s: %s", e.Endpoint, e.Message)
}

func (e *RemoteAPIError) Kind() string { return obsmetrics.ErrorKindRemote }

// NoMappingError means the authority knows no remote identity for Username.
type NoMappingError struct {
	Username string
}

func (e *NoMappingError) Error() string {
	return fmt.Sprintf("no remote mapping for user %q", e.Username)
}
