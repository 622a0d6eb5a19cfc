package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	obsmetrics "github.com/smallbiznis/allocledger/internal/observability/metrics"
)

var (
	ErrNotEnrolled = errors.New("user_not_enrolled")
	ErrEmptyPeriod = errors.New("empty_report_period")
)

// DataIntegrityError is a negative usage delta. No report is written for
// the period it names.
type DataIntegrityError struct {
	Username             string
	AllocationSourceName string
	Start                time.Time
	End                  time.Time
	Delta                decimal.Decimal
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data_integrity: negative usage %s for %s/%s in [%s, %s)",
		e.Delta.String(), e.Username, e.AllocationSourceName,
		e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
}

func (e *DataIntegrityError) Kind() string { return obsmetrics.ErrorKindDataIntegrity }
