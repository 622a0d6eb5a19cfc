package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes ledger instruments.
type Metrics struct {
	eventsAppended     metric.Int64Counter
	eventsDeduplicated metric.Int64Counter
	schemaRejections   metric.Int64Counter
	listenerFailures   metric.Int64Counter
	thresholdCrossings metric.Int64Counter
	remoteCalls        metric.Int64Counter
	remoteLatency      metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the ledger instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "allocledger"
	}
	meter := provider.Meter(name)

	eventsAppended, err := meter.Int64Counter("allocledger_events_appended_total")
	if err != nil {
		return nil, err
	}
	eventsDeduplicated, err := meter.Int64Counter("allocledger_events_deduplicated_total")
	if err != nil {
		return nil, err
	}
	schemaRejections, err := meter.Int64Counter("allocledger_schema_rejections_total")
	if err != nil {
		return nil, err
	}
	listenerFailures, err := meter.Int64Counter("allocledger_listener_failures_total")
	if err != nil {
		return nil, err
	}
	thresholdCrossings, err := meter.Int64Counter("allocledger_threshold_crossings_total")
	if err != nil {
		return nil, err
	}
	remoteCalls, err := meter.Int64Counter("allocledger_remote_calls_total")
	if err != nil {
		return nil, err
	}
	remoteLatency, err := meter.Float64Histogram("allocledger_remote_call_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsAppended:     eventsAppended,
		eventsDeduplicated: eventsDeduplicated,
		schemaRejections:   schemaRejections,
		listenerFailures:   listenerFailures,
		thresholdCrossings: thresholdCrossings,
		remoteCalls:        remoteCalls,
		remoteLatency:      remoteLatency,
	}, nil
}

// NewNop returns instruments backed by the noop provider.
func NewNop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordEventAppended(ctx context.Context, eventName string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_name", strings.TrimSpace(eventName)))
	m.eventsAppended.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEventDeduplicated(ctx context.Context, eventName string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_name", strings.TrimSpace(eventName)))
	m.eventsDeduplicated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordSchemaRejection(ctx context.Context, eventName, field string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_name", strings.TrimSpace(eventName)),
		attribute.String("field", strings.TrimSpace(field)),
	)
	m.schemaRejections.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordListenerFailure(ctx context.Context, eventName, listener string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_name", strings.TrimSpace(eventName)),
		attribute.String("listener", strings.TrimSpace(listener)),
	)
	m.listenerFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordThresholdCrossing counts emitted threshold_met events by threshold only.
func (m *Metrics) RecordThresholdCrossing(ctx context.Context, threshold int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.Int("threshold", threshold))
	m.thresholdCrossings.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRemoteCall records one outbound call to the allocation authority.
func (m *Metrics) RecordRemoteCall(ctx context.Context, endpoint string, statusCode int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.Int("status_code", statusCode),
	)
	m.remoteCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.remoteLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"event_name":  {},
	"field":       {},
	"listener":    {},
	"threshold":   {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
