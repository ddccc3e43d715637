package types

import "time"

// Region is an independently reachable partition of the cloud namespace.
type Region struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Enabled    bool      `json:"enabled"`
	DetectedAt time.Time `json:"detected_at"`
}

// RegionStatus classifies the outcome of an existence probe.
type RegionStatus string

const (
	RegionActive       RegionStatus = "active"
	RegionInactive     RegionStatus = "inactive"
	RegionUnauthorized RegionStatus = "unauthorized"
)

// Resource is a monitored compute unit discovered via the inventory source.
type Resource struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Region     string    `json:"region"`
	Status     string    `json:"status"`
	Addresses  []string  `json:"addresses,omitempty"`
	Tags       []Tag     `json:"tags,omitempty"`
	LaunchedAt time.Time `json:"launched_at"`
}

// Tag is a single key/value pair. Order is preserved as returned by
// the inventory source.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Lifecycle states reported by the inventory source.
const (
	StatusRunning    = "running"
	StatusStopped    = "stopped"
	StatusTerminated = "terminated"
)

// Name returns the display name tag, falling back to the resource ID.
func (r Resource) Name() string {
	for _, t := range r.Tags {
		if t.Key == "Name" && t.Value != "" {
			return t.Value
		}
	}
	return r.ID
}

// Tag returns the value for key, empty when absent.
func (r Resource) Tag(key string) string {
	for _, t := range r.Tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

// Operable reports whether the resource is in a state worth checking.
// Stopped and terminated resources stay in inventory but are skipped
// by collection batches.
func (r Resource) Operable() bool {
	return r.Status == StatusRunning
}

// PrimaryAddress returns the first known network address, empty when none.
func (r Resource) PrimaryAddress() string {
	if len(r.Addresses) == 0 {
		return ""
	}
	return r.Addresses[0]
}

// ResourceFilter selects a subset of the inventory.
type ResourceFilter struct {
	Region string   `json:"region,omitempty"`
	Type   string   `json:"type,omitempty"`
	Status string   `json:"status,omitempty"`
	IDs    []string `json:"ids,omitempty"`
}

// Matches checks the resource against every set filter field.
func (r Resource) Matches(f ResourceFilter) bool {
	if f.Region != "" && r.Region != f.Region {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if r.ID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
