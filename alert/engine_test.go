package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/types"
)

type captureChannel struct {
	name string
	mu   sync.Mutex
	sent []types.Alert
}

func (c *captureChannel) Name() string { return c.name }

func (c *captureChannel) Send(ctx context.Context, alert types.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, alert)
	return nil
}

func (c *captureChannel) delivered() []types.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Alert(nil), c.sent...)
}

func testEngine(channels ...Channel) *Engine {
	cfg := config.Default().Alerts
	cfg.RetryBackoff = time.Millisecond
	return NewEngine(cfg, channels)
}

func web(id string) types.Resource {
	return types.Resource{
		ID: id, Type: "ec2", Region: "us-east-1", Status: types.StatusRunning,
		Tags: []types.Tag{{Key: "Name", Value: "web-" + id}},
	}
}

func TestEvaluateLivenessDown(t *testing.T) {
	e := testEngine()

	result := types.CollectionResult{
		Kind: types.CheckLiveness, Success: true,
		Ping: &types.PingResult{Reachable: false},
	}
	alerts := e.Evaluate(web("i-1"), result)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.FamilyInstanceDown, alerts[0].Family)
	assert.Equal(t, types.SeverityHigh, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "unreachable")

	up := types.CollectionResult{
		Kind: types.CheckLiveness, Success: true,
		Ping: &types.PingResult{Reachable: true},
	}
	assert.Empty(t, e.Evaluate(web("i-1"), up))
}

func TestEvaluateMetricsBuckets(t *testing.T) {
	e := testEngine()

	metricResult := func(cpu float64) types.CollectionResult {
		return types.CollectionResult{
			Kind: types.CheckMetrics, Success: true,
			Metrics: &types.MetricReport{Values: map[string]float64{types.MetricCPUUtilization: cpu}},
		}
	}

	assert.Empty(t, e.Evaluate(web("i-1"), metricResult(50)))

	high := e.Evaluate(web("i-1"), metricResult(85))
	require.Len(t, high, 1)
	assert.Equal(t, types.SeverityHigh, high[0].Severity)

	// Over 90 is more severe than over 80, and only one alert fires.
	critical := e.Evaluate(web("i-1"), metricResult(95))
	require.Len(t, critical, 1)
	assert.Equal(t, types.SeverityCritical, critical[0].Severity)
	assert.NotEqual(t, high[0].Key, critical[0].Key)
	assert.Equal(t, 95.0, critical[0].Metrics[types.MetricCPUUtilization])
}

func TestEvaluateDisallowedPorts(t *testing.T) {
	e := testEngine()

	result := types.CollectionResult{
		Kind: types.CheckPorts, Success: true,
		Ports: &types.PortReport{Ports: []types.PortStatus{
			{Port: 22, Open: true, Service: "ssh"},
			{Port: 23, Open: true, Service: "telnet"},
			{Port: 3389, Open: false},
		}},
	}

	alerts := e.Evaluate(web("i-1"), result)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.FamilyOpenPort, alerts[0].Family)
	assert.Contains(t, alerts[0].Message, "23")
}

func TestEvaluateCertBuckets(t *testing.T) {
	e := testEngine()

	certResult := func(days int) types.CollectionResult {
		return types.CollectionResult{Success: true, Cert: &types.CertReport{DaysRemaining: days}}
	}

	critical := e.Evaluate(web("i-1"), certResult(3))
	require.Len(t, critical, 1)
	assert.Equal(t, types.SeverityCritical, critical[0].Severity)

	medium := e.Evaluate(web("i-1"), certResult(25))
	require.Len(t, medium, 1)
	assert.Equal(t, types.SeverityMedium, medium[0].Severity)

	assert.Empty(t, e.Evaluate(web("i-1"), certResult(90)))
}

func TestProcessSuppressesDuplicates(t *testing.T) {
	ch := &captureChannel{name: "ops"}
	e := testEngine(ch)
	ctx := context.Background()

	down := types.CollectionResult{
		Kind: types.CheckLiveness, Success: true,
		Ping: &types.PingResult{Reachable: false},
	}

	first := e.Process(ctx, web("i-1"), down)
	require.Len(t, first, 1)

	// Same key within the window: suppressed, nothing dispatched.
	second := e.Process(ctx, web("i-1"), down)
	assert.Empty(t, second)
	assert.Len(t, ch.delivered(), 1)
}

func TestProcessFiresAgainAfterWindow(t *testing.T) {
	ch := &captureChannel{name: "ops"}
	cfg := config.Default().Alerts
	cfg.RetryBackoff = time.Millisecond
	e := NewEngine(cfg, []Channel{ch})

	now := time.Now()
	e.suppressor.now = func() time.Time { return now }

	ctx := context.Background()
	down := types.CollectionResult{
		Kind: types.CheckLiveness, Success: true,
		Ping: &types.PingResult{Reachable: false},
	}

	require.Len(t, e.Process(ctx, web("i-1"), down), 1)
	assert.Empty(t, e.Process(ctx, web("i-1"), down))

	now = now.Add(cfg.SuppressionFor("instance_down") + time.Minute)
	require.Len(t, e.Process(ctx, web("i-1"), down), 1)
	assert.Len(t, ch.delivered(), 2)
}
