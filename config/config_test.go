package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vahti.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
version: "1"
home_region: eu-west-1
scheduler:
  max_concurrent: 8
  request_delay: 250ms
collection:
  liveness_interval: 30s
  liveness_batch: 25
alerts:
  cpu_high_percent: 75
  cpu_critical_percent: 95
  channels:
    - name: ops
      type: webhook
      url: https://hooks.example.com/ops
      enabled: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.HomeRegion)
	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.RequestDelay)
	assert.Equal(t, 30*time.Second, cfg.Collection.LivenessInterval)
	assert.Equal(t, 25, cfg.Collection.LivenessBatch)
	assert.Equal(t, 75.0, cfg.Alerts.CPUHighPercent)

	// Unset fields pick up defaults.
	assert.Equal(t, 5*time.Minute, cfg.Collection.MetricsInterval)
	assert.Equal(t, 10, cfg.Collection.MetricsBatch)
	assert.Equal(t, 1000, cfg.Inventory.MaxResources)
	assert.Equal(t, 2112, cfg.Metrics.Port)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/vahti.yaml")
	assert.Error(t, err)
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	path := writeConfig(t, `
version: "1"
alerts:
  cpu_high_percent: 90
  cpu_critical_percent: 80
`)
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "cpu_critical_percent")
}

func TestValidateRequiresVersion(t *testing.T) {
	path := writeConfig(t, `home_region: us-east-1`)
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "version")
}

func TestDefaultSuppressionWindows(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30*time.Minute, cfg.Alerts.SuppressionFor("instance_down"))
	assert.Equal(t, time.Hour, cfg.Alerts.SuppressionFor("high_cpu"))
	// Unknown families fall back to a coarse window.
	assert.Equal(t, 30*time.Minute, cfg.Alerts.SuppressionFor("unknown"))
}

func TestBatchAsymmetry(t *testing.T) {
	cfg := Default()
	assert.Greater(t, cfg.Collection.LivenessBatch, cfg.Collection.MetricsBatch)
	assert.Greater(t, cfg.Collection.LivenessBatch, cfg.Collection.PortsBatch)
}
