package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("allocation_source", "TG-123"),
		attribute.String("username", "alice"),
		attribute.String("event_name", "threshold_met"),
	)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(attrs))
	}
	if attrs[0].Key != "event_name" {
		t.Fatalf("expected event_name to be retained, got %s", attrs[0].Key)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordEventAppended(context.Background(), "allocation_source_snapshot")
	m.RecordRemoteCall(context.Background(), "users.mapping", 200, time.Millisecond)
}

func TestNewNopRecords(t *testing.T) {
	m := NewNop()
	if m == nil {
		t.Fatalf("expected noop metrics")
	}
	m.RecordThresholdCrossing(context.Background(), 50)
	m.RecordSchemaRejection(context.Background(), "allocation_source_snapshot", "compute_used")
}
