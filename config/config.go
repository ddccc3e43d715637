package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration.
type Config struct {
	Version    string           `yaml:"version"`
	HomeRegion string           `yaml:"home_region"`
	Regions    []string         `yaml:"regions,omitempty"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Inventory  InventoryConfig  `yaml:"inventory"`
	Collection CollectionConfig `yaml:"collection"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// SchedulerConfig bounds remote-call admission.
type SchedulerConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	RequestDelay  time.Duration `yaml:"request_delay"`
}

// InventoryConfig governs listing and caching.
type InventoryConfig struct {
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	MetricsTTL     time.Duration `yaml:"metrics_ttl"`
	RegionListTTL  time.Duration `yaml:"region_list_ttl"`
	MaxResources   int           `yaml:"max_resources"`
	PageSize       int           `yaml:"page_size"`
	MaxPages       int           `yaml:"max_pages"`
	ProbeBatchSize int           `yaml:"probe_batch_size"`
}

// CollectionConfig drives the recurring check jobs.
type CollectionConfig struct {
	LivenessInterval  time.Duration `yaml:"liveness_interval"`
	MetricsInterval   time.Duration `yaml:"metrics_interval"`
	PortsInterval     time.Duration `yaml:"ports_interval"`
	InventoryInterval time.Duration `yaml:"inventory_interval"`
	LivenessBatch     int           `yaml:"liveness_batch"`
	MetricsBatch      int           `yaml:"metrics_batch"`
	PortsBatch        int           `yaml:"ports_batch"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	HistorySize       int           `yaml:"history_size"`
}

// AlertsConfig holds thresholds, suppression windows, and channels.
type AlertsConfig struct {
	CPUHighPercent     float64                  `yaml:"cpu_high_percent"`
	CPUCriticalPercent float64                  `yaml:"cpu_critical_percent"`
	DisallowedPorts    []int                    `yaml:"disallowed_ports"`
	CertExpiryBuckets  []CertBucket             `yaml:"cert_expiry_buckets,omitempty"`
	Suppression        map[string]time.Duration `yaml:"suppression"`
	Channels           []ChannelConfig          `yaml:"channels,omitempty"`
	Retries            int                      `yaml:"retries"`
	RetryBackoff       time.Duration            `yaml:"retry_backoff"`
}

// CertBucket maps a days-remaining ceiling to a severity name.
type CertBucket struct {
	MaxDays  int    `yaml:"max_days"`
	Severity string `yaml:"severity"`
}

// ChannelConfig describes one notification channel.
type ChannelConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	URL     string `yaml:"url,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

// MetricsConfig configures the telemetry endpoint.
type MetricsConfig struct {
	Port         int    `yaml:"port"`
	OTELEndpoint string `yaml:"otel_endpoint,omitempty"`
}

// DefaultRegions is the fallback when discovery fails.
var DefaultRegions = []string{
	"us-east-1", "us-east-2", "us-west-1", "us-west-2",
	"ap-south-1", "ap-northeast-1",
}

// Default returns a config with production defaults applied.
func Default() *Config {
	cfg := &Config{Version: "1", HomeRegion: "us-east-1"}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HomeRegion == "" {
		c.HomeRegion = "us-east-1"
	}
	if c.Scheduler.MaxConcurrent <= 0 {
		c.Scheduler.MaxConcurrent = 5
	}
	if c.Scheduler.RequestDelay <= 0 {
		c.Scheduler.RequestDelay = 100 * time.Millisecond
	}
	if c.Inventory.CacheTTL <= 0 {
		c.Inventory.CacheTTL = 2 * time.Minute
	}
	if c.Inventory.MetricsTTL <= 0 {
		c.Inventory.MetricsTTL = 5 * time.Minute
	}
	if c.Inventory.RegionListTTL <= 0 {
		c.Inventory.RegionListTTL = time.Hour
	}
	if c.Inventory.MaxResources <= 0 {
		c.Inventory.MaxResources = 1000
	}
	if c.Inventory.PageSize <= 0 {
		c.Inventory.PageSize = 100
	}
	if c.Inventory.MaxPages <= 0 {
		c.Inventory.MaxPages = 20
	}
	if c.Inventory.ProbeBatchSize <= 0 {
		c.Inventory.ProbeBatchSize = 6
	}
	c.applyCollectionDefaults()
	c.applyAlertDefaults()
	if c.Metrics.Port <= 0 {
		c.Metrics.Port = 2112
	}
}

func (c *Config) applyCollectionDefaults() {
	col := &c.Collection
	if col.LivenessInterval <= 0 {
		col.LivenessInterval = time.Minute
	}
	if col.MetricsInterval <= 0 {
		col.MetricsInterval = 5 * time.Minute
	}
	if col.PortsInterval <= 0 {
		col.PortsInterval = 15 * time.Minute
	}
	if col.InventoryInterval <= 0 {
		col.InventoryInterval = 10 * time.Minute
	}
	// Liveness probes are cheap, metrics and port scans are not.
	if col.LivenessBatch <= 0 {
		col.LivenessBatch = 50
	}
	if col.MetricsBatch <= 0 {
		col.MetricsBatch = 10
	}
	if col.PortsBatch <= 0 {
		col.PortsBatch = 10
	}
	if col.ProbeTimeout <= 0 {
		col.ProbeTimeout = 5 * time.Second
	}
	if col.HistorySize <= 0 {
		col.HistorySize = 30
	}
}

func (c *Config) applyAlertDefaults() {
	a := &c.Alerts
	if a.CPUHighPercent <= 0 {
		a.CPUHighPercent = 80
	}
	if a.CPUCriticalPercent <= 0 {
		a.CPUCriticalPercent = 90
	}
	if len(a.DisallowedPorts) == 0 {
		a.DisallowedPorts = []int{23, 135, 445, 3389}
	}
	if len(a.CertExpiryBuckets) == 0 {
		a.CertExpiryBuckets = []CertBucket{
			{MaxDays: 7, Severity: "critical"},
			{MaxDays: 14, Severity: "high"},
			{MaxDays: 30, Severity: "medium"},
		}
	}
	if a.Suppression == nil {
		a.Suppression = map[string]time.Duration{}
	}
	// Suppression is deliberately coarser than the collection intervals
	// so a flapping resource does not alert once per cycle.
	for family, window := range map[string]time.Duration{
		"instance_down": 30 * time.Minute,
		"high_cpu":      time.Hour,
		"open_port":     6 * time.Hour,
		"cert_expiry":   24 * time.Hour,
	} {
		if a.Suppression[family] <= 0 {
			a.Suppression[family] = window
		}
	}
	if a.Retries <= 0 {
		a.Retries = 3
	}
	if a.RetryBackoff <= 0 {
		a.RetryBackoff = 500 * time.Millisecond
	}
}

// Validate ensures config has coherent values.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.HomeRegion == "" {
		return fmt.Errorf("home_region is required")
	}
	if c.Alerts.CPUCriticalPercent <= c.Alerts.CPUHighPercent {
		return fmt.Errorf("cpu_critical_percent must exceed cpu_high_percent")
	}
	for _, ch := range c.Alerts.Channels {
		if ch.Name == "" || ch.Type == "" {
			return fmt.Errorf("channel requires name and type")
		}
	}
	return nil
}

// SuppressionFor returns the window for an alert family.
func (c *AlertsConfig) SuppressionFor(family string) time.Duration {
	if w, ok := c.Suppression[family]; ok && w > 0 {
		return w
	}
	return 30 * time.Minute
}
