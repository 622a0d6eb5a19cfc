package scheduler

import (
	"time"

	"github.com/smallbiznis/allocledger/internal/config"
)

const (
	JobEnforcement    = "enforcement_sweep"
	JobReconciliation = "reconciliation"
	JobReporting      = "usage_reporting"
)

// Config controls cron triggers and per-job timeouts.
type Config struct {
	EnforcementCron    string
	ReconciliationCron string
	ReportingCron      string

	EnforcementTimeout    time.Duration
	ReconciliationTimeout time.Duration
	ReportingTimeout      time.Duration

	EnabledJobs []string
	Disabled    bool
}

func DefaultConfig() Config {
	return Config{
		EnforcementCron:       "*/15 * * * *",
		ReconciliationCron:    "0 * * * *",
		ReportingCron:         "0 0 * * *",
		EnforcementTimeout:    5 * time.Minute,
		ReconciliationTimeout: 30 * time.Minute,
		ReportingTimeout:      30 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		EnforcementCron:    cfg.Scheduler.EnforcementCron,
		ReconciliationCron: cfg.Scheduler.ReconciliationCron,
		ReportingCron:      cfg.Scheduler.ReportingCron,
		EnabledJobs:        cfg.Scheduler.EnabledJobs,
		Disabled:           cfg.Scheduler.Disabled,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.EnforcementCron == "" {
		c.EnforcementCron = defaults.EnforcementCron
	}
	if c.ReconciliationCron == "" {
		c.ReconciliationCron = defaults.ReconciliationCron
	}
	if c.ReportingCron == "" {
		c.ReportingCron = defaults.ReportingCron
	}
	if c.EnforcementTimeout <= 0 {
		c.EnforcementTimeout = defaults.EnforcementTimeout
	}
	if c.ReconciliationTimeout <= 0 {
		c.ReconciliationTimeout = defaults.ReconciliationTimeout
	}
	if c.ReportingTimeout <= 0 {
		c.ReportingTimeout = defaults.ReportingTimeout
	}
	return c
}
