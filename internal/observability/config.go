package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/allocledger/internal/config"
	gormlogger "gorm.io/gorm/logger"
)

// Config is the observability view of the app config plus the OTEL_* and
// GORM_* environment variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	GormLogLevel      gormlogger.LogLevel
	GormSlowThreshold time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	out := Config{
		ServiceName: strings.TrimSpace(cfg.AppName),
		Environment: strings.TrimSpace(cfg.Environment),
		Version:     strings.TrimSpace(cfg.AppVersion),
		LogLevel:    cfg.Logger.Level,
		LogFormat:   cfg.Logger.Format,

		GormLogLevel:      parseGormLevel(os.Getenv("GORM_LOG_LEVEL")),
		GormSlowThreshold: 250 * time.Millisecond,

		OtelEnabled:          false,
		OtelExporterEndpoint: cfg.OTLPEndpoint,
		OtelExporterProtocol: "grpc",
		OtelSamplingRatio:    0.1,
	}
	if out.ServiceName == "" {
		out.ServiceName = "allocledger"
	}

	if v, ok := lookup("GORM_SLOW_THRESHOLD"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			out.GormSlowThreshold = d
		}
	}
	if v, ok := lookup("OTEL_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			out.OtelEnabled = b
		}
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		out.OtelExporterEndpoint = v
	}
	// the traces-specific protocol wins over the generic one
	for _, key := range []string{"OTEL_EXPORTER_OTLP_PROTOCOL", "OTEL_EXPORTER_OTLP_TRACES_PROTOCOL"} {
		if v, ok := lookup(key); ok {
			out.OtelExporterProtocol = strings.ToLower(v)
		}
	}
	if v, ok := lookup("OTEL_SAMPLING_RATIO"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out.OtelSamplingRatio = f
		}
	}
	return out
}

// Debug enables stack traces on error logs.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func parseGormLevel(raw string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
