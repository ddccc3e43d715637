package types

import "time"

// CheckKind identifies one collection job family.
type CheckKind string

const (
	CheckLiveness CheckKind = "liveness"
	CheckMetrics  CheckKind = "metrics"
	CheckPorts    CheckKind = "ports"
)

// CheckKinds lists every kind in evaluation order.
var CheckKinds = []CheckKind{CheckLiveness, CheckMetrics, CheckPorts}

// CollectionResult is the outcome of one check against one resource.
// It is written once by the batch that produced it and superseded
// wholesale by the next run of the same kind.
type CollectionResult struct {
	ResourceID string    `json:"resource_id"`
	Kind       CheckKind `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`

	// Exactly one of the payloads below is set, matching Kind.
	Ping    *PingResult   `json:"ping,omitempty"`
	Metrics *MetricReport `json:"metrics,omitempty"`
	Ports   *PortReport   `json:"ports,omitempty"`
	Cert    *CertReport   `json:"cert,omitempty"`
}

// PingResult reports ICMP reachability.
type PingResult struct {
	Reachable   bool    `json:"reachable"`
	RoundTripMs float64 `json:"round_trip_ms,omitempty"`
}

// Datapoint is one (timestamp, value) metric sample.
type Datapoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricReport carries the newest datapoint per metric name.
type MetricReport struct {
	Values map[string]float64 `json:"values"`
}

// CPUPercent returns the CPU utilization sample, zero when absent.
func (m *MetricReport) CPUPercent() float64 {
	if m == nil {
		return 0
	}
	return m.Values[MetricCPUUtilization]
}

// Metric names collected for compute resources. The first five come
// from CloudWatch; memory and disk usage come from in-guest commands
// run over SSM, since CloudWatch does not expose them without an agent.
const (
	MetricCPUUtilization   = "CPUUtilization"
	MetricNetworkInMB      = "NetworkInMB"
	MetricNetworkOutMB     = "NetworkOutMB"
	MetricDiskReadOps      = "DiskReadOps"
	MetricDiskWriteOps     = "DiskWriteOps"
	MetricMemoryPercent    = "MemoryPercent"
	MetricDiskUsagePercent = "DiskUsagePercent"
)

// PortReport lists scanned ports.
type PortReport struct {
	Ports []PortStatus `json:"ports"`
}

// PortStatus is one scanned port.
type PortStatus struct {
	Port    int    `json:"port"`
	Open    bool   `json:"open"`
	Service string `json:"service,omitempty"`
}

// OpenPorts returns the open subset.
func (p *PortReport) OpenPorts() []PortStatus {
	if p == nil {
		return nil
	}
	var open []PortStatus
	for _, ps := range p.Ports {
		if ps.Open {
			open = append(open, ps)
		}
	}
	return open
}

// CertReport carries TLS certificate expiry data supplied by the
// external uptime/SSL checker.
type CertReport struct {
	DaysRemaining int    `json:"days_remaining"`
	Subject       string `json:"subject,omitempty"`
}

// Trend direction of a metric against its previous sample.
type Trend string

const (
	TrendIncreased Trend = "increased"
	TrendDecreased Trend = "decreased"
	TrendStable    Trend = "stable"
)

// TrendOf compares current against previous with a ±5 dead band.
func TrendOf(current, previous float64) Trend {
	switch delta := current - previous; {
	case delta > 5:
		return TrendIncreased
	case delta < -5:
		return TrendDecreased
	default:
		return TrendStable
	}
}
