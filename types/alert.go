package types

import (
	"fmt"
	"time"
)

// Severity orders alert importance: info < low < medium < high < critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "info",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON emits the lowercase name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// AlertFamily groups alerts sharing one suppression window.
type AlertFamily string

const (
	FamilyInstanceDown AlertFamily = "instance_down"
	FamilyHighCPU      AlertFamily = "high_cpu"
	FamilyOpenPort     AlertFamily = "open_port"
	FamilyCertExpiry   AlertFamily = "cert_expiry"
)

// AlertKey is the sole de-duplication key: one alert per key fires at
// most once per suppression window. Derived deterministically from
// resource, family, and threshold bucket.
type AlertKey string

// NewAlertKey builds the canonical key.
func NewAlertKey(resourceID string, family AlertFamily, bucket string) AlertKey {
	return AlertKey(fmt.Sprintf("%s|%s|%s", resourceID, family, bucket))
}

// Alert is immutable once created.
type Alert struct {
	Key        AlertKey           `json:"key"`
	ResourceID string             `json:"resource_id"`
	Family     AlertFamily        `json:"family"`
	Severity   Severity           `json:"severity"`
	Message    string             `json:"message"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	FiredAt    time.Time          `json:"fired_at"`
}
