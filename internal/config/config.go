package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	Logger LoggerConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	Remote    RemoteConfig
	Scheduler SchedulerConfig

	// PolicyPath points at the directory holding ledger.yml.
	PolicyPath string
}

type LoggerConfig struct {
	Level  string
	Format string
}

// RedisConfig enables the distributed entity lock when Addr is set.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	LockTTLSeconds int
}

// RemoteConfig describes the allocation authority the reconciler talks to.
type RemoteConfig struct {
	BaseURL           string
	Token             string
	Resource          string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	CacheTTL          time.Duration
}

type SchedulerConfig struct {
	EnforcementCron      string
	ReconciliationCron   string
	ReportingCron        string
	ReconcileConcurrency int
	EnabledJobs          []string
	Disabled             bool
}

// Module provides Config loaded from the environment.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPolicyHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "allocledger"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Logger: LoggerConfig{
			Level:  strings.ToLower(getenv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getenv("LOG_FORMAT", "json")),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "allocledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Addr:           strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password:       strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:             getenvInt("REDIS_DB", 0),
			LockTTLSeconds: getenvInt("REDIS_LOCK_TTL_SECONDS", 30),
		},
		Remote: RemoteConfig{
			BaseURL:           strings.TrimRight(strings.TrimSpace(getenv("REMOTE_API_BASE_URL", "")), "/"),
			Token:             strings.TrimSpace(getenv("REMOTE_API_TOKEN", "")),
			Resource:          strings.TrimSpace(getenv("REMOTE_API_RESOURCE", "")),
			Timeout:           getenvDuration("REMOTE_API_TIMEOUT", 10*time.Second),
			RequestsPerSecond: getenvFloat("REMOTE_API_RPS", 5),
			Burst:             getenvInt("REMOTE_API_BURST", 10),
			MaxRetries:        getenvInt("REMOTE_API_MAX_RETRIES", 3),
			CacheTTL:          getenvDuration("REMOTE_CACHE_TTL", 5*time.Minute),
		},
		Scheduler: SchedulerConfig{
			EnforcementCron:      getenv("SCHEDULER_ENFORCEMENT_CRON", "*/15 * * * *"),
			ReconciliationCron:   getenv("SCHEDULER_RECONCILIATION_CRON", "0 * * * *"),
			ReportingCron:        getenv("SCHEDULER_REPORTING_CRON", "0 0 * * *"),
			ReconcileConcurrency: getenvInt("SCHEDULER_RECONCILE_CONCURRENCY", 4),
			EnabledJobs:          parseList(getenv("SCHEDULER_ENABLED_JOBS", "")),
			Disabled:             getenvBool("SCHEDULER_DISABLED", false),
		},
		PolicyPath: strings.TrimSpace(getenv("LEDGER_POLICY_PATH", "")),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
