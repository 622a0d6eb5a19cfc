package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryNameHasSchema(t *testing.T) {
	expected := []Name{
		EventAllocationSourceCreatedOrRenewed,
		EventAllocationSourceComputeAllowedChanged,
		EventAllocationSourceSnapshot,
		EventAllocationSourceRemoved,
		EventUserAllocationSnapshotChanged,
		EventUserAllocationSourceCreated,
		EventUserAllocationSourceDeleted,
		EventInstanceAllocationSourceChanged,
		EventInstanceAllocationSourceRemoved,
		EventThresholdMet,
	}
	assert.Len(t, Names(), len(expected))
	for _, name := range expected {
		assert.True(t, IsKnown(name), "missing schema for %s", name)
	}
}

func TestDecodeCoercesNumericStrings(t *testing.T) {
	p, err := Decode(EventAllocationSourceSnapshot, map[string]any{
		"allocation_source_name": "TG-1",
		"compute_used":           "12.50",
		"global_burn_rate":       json.Number("0.5"),
	})
	require.NoError(t, err)

	snap := p.(SourceSnapshot)
	assert.True(t, snap.ComputeUsed.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, snap.GlobalBurnRate.Equal(decimal.RequireFromString("0.5")))
}

func TestDecodeRejections(t *testing.T) {
	cases := []struct {
		name  string
		event Name
		raw   map[string]any
		field string
	}{
		{
			name:  "unknown name",
			event: Name("allocation_source_exploded"),
			raw:   map[string]any{},
			field: "name",
		},
		{
			name:  "missing field",
			event: EventUserAllocationSourceCreated,
			raw:   map[string]any{"username": "alice"},
			field: "allocation_source_name",
		},
		{
			name:  "mistyped field",
			event: EventAllocationSourceCreatedOrRenewed,
			raw:   map[string]any{"allocation_source_name": "TG-1", "compute_allowed": true},
			field: "compute_allowed",
		},
		{
			name:  "non numeric string",
			event: EventAllocationSourceCreatedOrRenewed,
			raw:   map[string]any{"allocation_source_name": "TG-1", "compute_allowed": "lots"},
			field: "compute_allowed",
		},
		{
			name:  "negative usage",
			event: EventAllocationSourceSnapshot,
			raw:   map[string]any{"allocation_source_name": "TG-1", "compute_used": -1, "global_burn_rate": 0},
			field: "compute_used",
		},
		{
			name:  "fractional threshold",
			event: EventThresholdMet,
			raw:   map[string]any{"allocation_source": "TG-1", "threshold": 50.5, "actual_value": 51},
			field: "threshold",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.event, tc.raw)
			var schemaErr *SchemaError
			require.True(t, errors.As(err, &schemaErr), "expected SchemaError, got %v", err)
			assert.Equal(t, tc.field, schemaErr.Field)
		})
	}
}

func TestRenewalStrategyDefaults(t *testing.T) {
	p, err := Decode(EventAllocationSourceCreatedOrRenewed, map[string]any{
		"allocation_source_name": "TG-1",
		"compute_allowed":        100,
	})
	require.NoError(t, err)
	assert.Equal(t, "default", p.(SourceCreatedOrRenewed).RenewalStrategy)
}

func TestNewRequestRoundTripsThroughDecode(t *testing.T) {
	req, err := NewRequest("TG-1", ThresholdMet{
		AllocationSource: "TG-1",
		Threshold:        75,
		ActualValue:      decimal.RequireFromString("80.5"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, EventThresholdMet, req.Name)

	p, err := Decode(req.Name, req.Payload)
	require.NoError(t, err)
	assert.Equal(t, 75, p.(ThresholdMet).Threshold)
}
