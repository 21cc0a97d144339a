package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hamed0406/outagewatch/internal/domain"
)

const DefaultPath = "monitor.yaml"

type Config struct {
	Addr        string `yaml:"addr"`    // ops API bind address
	LogDir      string `yaml:"log_dir"` // logs directory
	DatabaseURL string `yaml:"database_url"`

	Monitor MonitorConfig  `yaml:"monitor"`
	Writer  WriterConfig   `yaml:"writer"`
	Notify  NotifyConfig   `yaml:"notify"`
	Targets []TargetConfig `yaml:"targets"`
	Probes  []ProbeConfig  `yaml:"probes"`
}

type MonitorConfig struct {
	PingCount           int     `yaml:"ping_count"`
	PingTimeoutMS       int     `yaml:"ping_timeout_ms"`
	FailThreshold       int     `yaml:"fail_threshold"`
	ConsensusLevel      float64 `yaml:"consensus_level"`
	CycleIntervalSecs   int     `yaml:"cycle_interval_secs"`
	WarmupSecs          int     `yaml:"warmup_secs"`
	MaxConcurrentChecks int     `yaml:"max_concurrent_checks"`
	ChecksPerSecond     float64 `yaml:"checks_per_second"` // 0 = unlimited
	CoalesceOverlap     float64 `yaml:"coalesce_overlap"`  // >1 disables coalescing
}

type WriterConfig struct {
	QueueCapacity  int `yaml:"queue_capacity"`
	RetryAttempts  int `yaml:"retry_attempts"`
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
}

type NotifyConfig struct {
	SlackWebhook string `yaml:"slack_webhook"`
}

type TargetConfig struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Address  string   `yaml:"address"`
	Check    string   `yaml:"check"`
	Region   string   `yaml:"region"`
	Provider string   `yaml:"provider"`
	Quorum   *float64 `yaml:"quorum"`
}

type ProbeConfig struct {
	ID       string `yaml:"id"`
	Location string `yaml:"location"`
	Provider string `yaml:"provider"`
}

// Load reads the YAML file at path, applies env overrides and defaults, and
// validates. Invalid configuration is fatal to startup by contract: callers
// must not begin cycling on error.
func Load(path string) (Config, error) {
	var cfg Config

	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	// Env wins over file for deploy-specific knobs.
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("SLACK_WEBHOOK"); v != "" {
		cfg.Notify.SlackWebhook = v
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.Monitor.PingCount == 0 {
		c.Monitor.PingCount = 3
	}
	if c.Monitor.PingTimeoutMS == 0 {
		c.Monitor.PingTimeoutMS = 5000
	}
	if c.Monitor.FailThreshold == 0 {
		c.Monitor.FailThreshold = 2
	}
	if c.Monitor.ConsensusLevel == 0 {
		c.Monitor.ConsensusLevel = 0.6
	}
	if c.Monitor.CycleIntervalSecs == 0 {
		c.Monitor.CycleIntervalSecs = 30
	}
	if c.Monitor.MaxConcurrentChecks == 0 {
		c.Monitor.MaxConcurrentChecks = 16
	}
	if c.Monitor.CoalesceOverlap == 0 {
		c.Monitor.CoalesceOverlap = 0.5
	}
	if c.Writer.QueueCapacity == 0 {
		c.Writer.QueueCapacity = 256
	}
	if c.Writer.RetryAttempts == 0 {
		c.Writer.RetryAttempts = 3
	}
	if c.Writer.RetryBackoffMS == 0 {
		c.Writer.RetryBackoffMS = 250
	}
}

func (c *Config) Validate() error {
	m := c.Monitor
	if m.PingCount < 1 {
		return errors.New("config: ping_count must be >= 1")
	}
	if m.PingTimeoutMS <= 0 {
		return errors.New("config: ping_timeout_ms must be > 0")
	}
	if m.FailThreshold < 1 {
		return errors.New("config: fail_threshold must be >= 1")
	}
	if m.ConsensusLevel <= 0 || m.ConsensusLevel > 1 {
		return fmt.Errorf("config: consensus_level %v out of range (0,1]", m.ConsensusLevel)
	}
	if m.CycleIntervalSecs <= 0 {
		return errors.New("config: cycle_interval_secs must be > 0")
	}
	if m.WarmupSecs < 0 {
		return errors.New("config: warmup_secs must be >= 0")
	}
	if m.MaxConcurrentChecks < 1 {
		return errors.New("config: max_concurrent_checks must be >= 1")
	}
	if len(c.Targets) == 0 {
		return errors.New("config: target list is empty")
	}
	if len(c.Probes) == 0 {
		return errors.New("config: probe list is empty")
	}

	seen := map[string]bool{}
	for i, t := range c.Targets {
		if t.ID == "" || t.Address == "" {
			return fmt.Errorf("config: targets[%d] needs id and address", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("config: duplicate target id %q", t.ID)
		}
		seen[t.ID] = true
		if !domain.CheckType(t.Check).Valid() {
			return fmt.Errorf("config: targets[%d] has unknown check type %q", i, t.Check)
		}
		if t.Quorum != nil && (*t.Quorum <= 0 || *t.Quorum > 1) {
			return fmt.Errorf("config: targets[%d] quorum %v out of range (0,1]", i, *t.Quorum)
		}
	}
	seenP := map[string]bool{}
	for i, p := range c.Probes {
		if p.ID == "" {
			return fmt.Errorf("config: probes[%d] needs id", i)
		}
		if seenP[p.ID] {
			return fmt.Errorf("config: duplicate probe id %q", p.ID)
		}
		seenP[p.ID] = true
	}
	return nil
}

func (c Config) PingTimeout() time.Duration {
	return time.Duration(c.Monitor.PingTimeoutMS) * time.Millisecond
}

func (c Config) CycleInterval() time.Duration {
	return time.Duration(c.Monitor.CycleIntervalSecs) * time.Second
}

func (c Config) WarmupDuration() time.Duration {
	return time.Duration(c.Monitor.WarmupSecs) * time.Second
}

func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Writer.RetryBackoffMS) * time.Millisecond
}

// DomainTargets converts the inventory into runtime targets.
func (c Config) DomainTargets() []domain.Target {
	out := make([]domain.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		out = append(out, domain.Target{
			ID:        domain.TargetID(t.ID),
			Name:      t.Name,
			Address:   t.Address,
			CheckType: domain.CheckType(t.Check),
			Region:    t.Region,
			Provider:  t.Provider,
			Quorum:    t.Quorum,
		})
	}
	return out
}

func (c Config) DomainProbes() []domain.Probe {
	out := make([]domain.Probe, 0, len(c.Probes))
	for _, p := range c.Probes {
		out = append(out, domain.Probe{
			ID:       domain.ProbeID(p.ID),
			Location: p.Location,
			Provider: p.Provider,
		})
	}
	return out
}
