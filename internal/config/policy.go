package config

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Policy is the hot-reloadable ledger policy read from ledger.yml.
type Policy struct {
	// Thresholds are usage percentages watched by the threshold detector.
	Thresholds  []int             `mapstructure:"thresholds"`
	Enforcement EnforcementPolicy `mapstructure:"enforcement"`
}

// EnforcementPolicy lists allocation source names that override the default rule.
type EnforcementPolicy struct {
	Never  []string `mapstructure:"never"`
	Always []string `mapstructure:"always"`
}

func DefaultPolicy() Policy {
	return Policy{
		Thresholds: []int{50, 75, 90, 100},
	}
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewPolicyHolder reads ledger.yml and keeps watching it for changes.
func NewPolicyHolder(cfg Config) (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("ledger")
	v.SetConfigType("yml")
	if cfg.PolicyPath != "" {
		v.AddConfigPath(cfg.PolicyPath)
	}
	v.AddConfigPath("/var/lib/allocledger/config")
	v.AddConfigPath("/etc/allocledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ALLOCLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicy()
	v.SetDefault("ledger.thresholds", defaults.Thresholds)
	v.SetDefault("ledger.enforcement.never", []string{})
	v.SetDefault("ledger.enforcement.always", []string{})

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	var policy Policy
	if err := v.UnmarshalKey("ledger", &policy); err != nil {
		return nil, err
	}
	policy = normalizePolicy(policy)
	if err := ValidatePolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Policy
		if err := v.UnmarshalKey("ledger", &updated); err != nil {
			log.Printf("[ledger-policy] reload failed: %v", err)
			return
		}
		updated = normalizePolicy(updated)
		if err := ValidatePolicy(updated); err != nil {
			log.Printf("[ledger-policy] invalid policy ignored: %v", err)
			return
		}
		holder.Set(updated)
		log.Printf("[ledger-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPolicyHolder wraps a fixed policy, mostly for tests and tools.
func NewStaticPolicyHolder(policy Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(normalizePolicy(policy))
	return holder
}

func (h *PolicyHolder) Get() Policy {
	return h.current.Load().(Policy)
}

func (h *PolicyHolder) Set(policy Policy) {
	h.current.Store(normalizePolicy(policy))
}

// ValidatePolicy rejects unordered thresholds and overlapping override lists.
func ValidatePolicy(p Policy) error {
	for i, t := range p.Thresholds {
		if t <= 0 || t > 1000 {
			return fmt.Errorf("ledger.thresholds[%d]: %d out of range", i, t)
		}
		if i > 0 && t <= p.Thresholds[i-1] {
			return errors.New("ledger.thresholds must be strictly increasing")
		}
	}
	never := make(map[string]struct{}, len(p.Enforcement.Never))
	for _, name := range p.Enforcement.Never {
		never[name] = struct{}{}
	}
	for _, name := range p.Enforcement.Always {
		if _, ok := never[name]; ok {
			return fmt.Errorf("allocation source %q is in both enforcement lists", name)
		}
	}
	return nil
}

func normalizePolicy(p Policy) Policy {
	thresholds := append([]int(nil), p.Thresholds...)
	sort.Ints(thresholds)
	p.Thresholds = thresholds
	p.Enforcement.Never = trimNames(p.Enforcement.Never)
	p.Enforcement.Always = trimNames(p.Enforcement.Always)
	return p
}

func trimNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}
