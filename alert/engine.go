// Package alert evaluates collection results against static
// thresholds, suppresses duplicates within per-family windows, and
// dispatches fired alerts to every enabled notification channel.
package alert

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// Engine ties evaluation, suppression, and dispatch together.
type Engine struct {
	cfg        config.AlertsConfig
	suppressor *Suppressor
	dispatcher *Dispatcher
	logger     *telemetry.Logger
}

// NewEngine builds the engine with the given channels.
func NewEngine(cfg config.AlertsConfig, channels []Channel) *Engine {
	return &Engine{
		cfg:        cfg,
		suppressor: NewSuppressor(),
		dispatcher: NewDispatcher(channels, cfg.Retries, cfg.RetryBackoff),
		logger:     telemetry.NewLogger("alert-engine"),
	}
}

// Process evaluates one collection result, fires non-suppressed
// candidates through every channel, and returns the fired alerts.
func (e *Engine) Process(ctx context.Context, resource types.Resource, result types.CollectionResult) []types.Alert {
	var fired []types.Alert
	for _, candidate := range e.Evaluate(resource, result) {
		window := e.cfg.SuppressionFor(string(candidate.Family))
		if !e.suppressor.ShouldFire(candidate.Key, window) {
			telemetry.RecordAlert(ctx, string(candidate.Family), false)
			continue
		}

		telemetry.RecordAlert(ctx, string(candidate.Family), true)
		e.logger.WithContext(ctx).Info().
			Str("key", string(candidate.Key)).
			Str("severity", candidate.Severity.String()).
			Str("resource_id", candidate.ResourceID).
			Msg("alert fired")

		e.dispatcher.Dispatch(ctx, candidate)
		fired = append(fired, candidate)
	}
	return fired
}

// Evaluate derives zero or more candidate alerts from one result.
// Pure: no suppression, no dispatch.
func (e *Engine) Evaluate(resource types.Resource, result types.CollectionResult) []types.Alert {
	switch result.Kind {
	case types.CheckLiveness:
		return e.evaluateLiveness(resource, result)
	case types.CheckMetrics:
		return e.evaluateMetrics(resource, result)
	case types.CheckPorts:
		return e.evaluatePorts(resource, result)
	default:
		if result.Cert != nil {
			return e.evaluateCert(resource, result)
		}
		return nil
	}
}

func (e *Engine) evaluateLiveness(resource types.Resource, result types.CollectionResult) []types.Alert {
	down := !result.Success || result.Ping == nil || !result.Ping.Reachable
	if !down {
		return nil
	}
	return []types.Alert{{
		Key:        types.NewAlertKey(resource.ID, types.FamilyInstanceDown, "down"),
		ResourceID: resource.ID,
		Family:     types.FamilyInstanceDown,
		Severity:   types.SeverityHigh,
		Message:    fmt.Sprintf("instance %s (%s) is unreachable", resource.Name(), resource.ID),
		FiredAt:    time.Now(),
	}}
}

func (e *Engine) evaluateMetrics(resource types.Resource, result types.CollectionResult) []types.Alert {
	if !result.Success || result.Metrics == nil {
		return nil
	}
	cpu := result.Metrics.CPUPercent()

	// Severity follows magnitude: the critical bucket shadows the
	// high bucket so a 95% sample raises one alert, not two.
	var severity types.Severity
	var bucket string
	switch {
	case cpu > e.cfg.CPUCriticalPercent:
		severity, bucket = types.SeverityCritical, formatThreshold(e.cfg.CPUCriticalPercent)
	case cpu > e.cfg.CPUHighPercent:
		severity, bucket = types.SeverityHigh, formatThreshold(e.cfg.CPUHighPercent)
	default:
		return nil
	}

	snapshot := make(map[string]float64, len(result.Metrics.Values))
	for name, value := range result.Metrics.Values {
		snapshot[name] = value
	}

	return []types.Alert{{
		Key:        types.NewAlertKey(resource.ID, types.FamilyHighCPU, bucket),
		ResourceID: resource.ID,
		Family:     types.FamilyHighCPU,
		Severity:   severity,
		Message:    fmt.Sprintf("instance %s CPU at %.1f%% exceeds %s%%", resource.Name(), cpu, bucket),
		Metrics:    snapshot,
		FiredAt:    time.Now(),
	}}
}

func (e *Engine) evaluatePorts(resource types.Resource, result types.CollectionResult) []types.Alert {
	if !result.Success || result.Ports == nil {
		return nil
	}

	disallowed := make(map[int]bool, len(e.cfg.DisallowedPorts))
	for _, port := range e.cfg.DisallowedPorts {
		disallowed[port] = true
	}

	var alerts []types.Alert
	for _, ps := range result.Ports.OpenPorts() {
		if !disallowed[ps.Port] {
			continue
		}
		bucket := strconv.Itoa(ps.Port)
		alerts = append(alerts, types.Alert{
			Key:        types.NewAlertKey(resource.ID, types.FamilyOpenPort, bucket),
			ResourceID: resource.ID,
			Family:     types.FamilyOpenPort,
			Severity:   types.SeverityHigh,
			Message:    fmt.Sprintf("instance %s has disallowed port %d open (%s)", resource.Name(), ps.Port, ps.Service),
			FiredAt:    time.Now(),
		})
	}
	return alerts
}

// evaluateCert handles certificate reports fed in by an external TLS
// expiry checker; none of the recurring check kinds produce them. It
// buckets days-remaining into the configured day buckets; the tightest
// matching bucket wins.
func (e *Engine) evaluateCert(resource types.Resource, result types.CollectionResult) []types.Alert {
	if result.Cert == nil {
		return nil
	}
	days := result.Cert.DaysRemaining

	var matched *config.CertBucket
	for i := range e.cfg.CertExpiryBuckets {
		b := e.cfg.CertExpiryBuckets[i]
		if days <= b.MaxDays && (matched == nil || b.MaxDays < matched.MaxDays) {
			matched = &b
		}
	}
	if matched == nil {
		return nil
	}

	return []types.Alert{{
		Key:        types.NewAlertKey(resource.ID, types.FamilyCertExpiry, strconv.Itoa(matched.MaxDays)),
		ResourceID: resource.ID,
		Family:     types.FamilyCertExpiry,
		Severity:   severityFromName(matched.Severity),
		Message:    fmt.Sprintf("certificate for %s expires in %d days", resource.Name(), days),
		FiredAt:    time.Now(),
	}}
}

func severityFromName(name string) types.Severity {
	switch name {
	case "critical":
		return types.SeverityCritical
	case "high":
		return types.SeverityHigh
	case "medium":
		return types.SeverityMedium
	case "low":
		return types.SeverityLow
	default:
		return types.SeverityInfo
	}
}

func formatThreshold(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// PruneSuppression drops stale suppression entries.
func (e *Engine) PruneSuppression(maxAge time.Duration) {
	e.suppressor.Prune(maxAge)
}
