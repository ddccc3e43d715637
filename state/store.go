// Package state holds the shared monitoring view: current inventory,
// the latest collection result per resource per check kind, bounded
// history rings, and aggregate counters. Collection jobs are the only
// writers; each kind writes a disjoint field group.
package state

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/yairfalse/vahti/types"
)

// indexEntry orders resources by region, display name, then ID.
type indexEntry struct {
	region string
	name   string
	id     string
}

func indexLess(a, b indexEntry) bool {
	if a.region != b.region {
		return a.region < b.region
	}
	if a.name != b.name {
		return a.name < b.name
	}
	return a.id < b.id
}

// Aggregate counters, always recomputed from the underlying
// per-resource results, never incrementally drifted.
type Aggregate struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	ByRegion     map[string]int `json:"by_region"`
	Reachable    int            `json:"reachable"`
	Unreachable  int            `json:"unreachable"`
	OverCPUHigh  int            `json:"over_cpu_high"`
	FailedChecks int            `json:"failed_checks"`
}

// ResourceChecks is the per-resource view handed to the query layer.
type ResourceChecks struct {
	Resource      types.Resource                              `json:"resource"`
	Latest        map[types.CheckKind]types.CollectionResult  `json:"latest"`
	History       map[types.CheckKind][]types.CollectionResult `json:"history,omitempty"`
	UptimePercent float64                                     `json:"uptime_percent"`
	CPUTrend      types.Trend                                 `json:"cpu_trend"`
}

// View is a consistent read snapshot of the whole store.
type View struct {
	Resources    []types.Resource                                       `json:"resources"`
	Regions      []types.Region                                         `json:"regions"`
	RegionErrors map[string]string                                      `json:"region_errors,omitempty"`
	Results      map[types.CheckKind]map[string]types.CollectionResult `json:"results"`
	Counters     Aggregate                                              `json:"counters"`
	InventoryAt  time.Time                                              `json:"inventory_at"`
	UpdatedAt    map[types.CheckKind]time.Time                          `json:"updated_at"`
}

// Store is the single shared monitoring structure.
type Store struct {
	mu sync.RWMutex

	resources    map[string]types.Resource
	index        *btree.BTreeG[indexEntry]
	regions      []types.Region
	regionErrors map[string]string

	results map[types.CheckKind]map[string]types.CollectionResult
	history map[types.CheckKind]map[string]*ring

	counters    Aggregate
	inventoryAt time.Time
	updatedAt   map[types.CheckKind]time.Time

	historySize int
	cpuHigh     float64
}

// NewStore creates an empty store. cpuHigh is the utilization
// percentage counted as "exceeding threshold" in the aggregates.
func NewStore(historySize int, cpuHigh float64) *Store {
	if historySize <= 0 {
		historySize = 30
	}
	s := &Store{
		resources:    make(map[string]types.Resource),
		index:        btree.NewG(32, indexLess),
		regionErrors: make(map[string]string),
		results:      make(map[types.CheckKind]map[string]types.CollectionResult),
		history:      make(map[types.CheckKind]map[string]*ring),
		updatedAt:    make(map[types.CheckKind]time.Time),
		historySize:  historySize,
		cpuHigh:      cpuHigh,
	}
	for _, kind := range types.CheckKinds {
		s.results[kind] = make(map[string]types.CollectionResult)
		s.history[kind] = make(map[string]*ring)
	}
	return s
}

// SetInventory replaces the resource set wholesale and prunes results
// for resources no longer present.
func (s *Store) SetInventory(resources []types.Resource, regionErrors map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resources = make(map[string]types.Resource, len(resources))
	s.index.Clear(false)
	for _, r := range resources {
		s.resources[r.ID] = r
		s.index.ReplaceOrInsert(indexEntry{region: r.Region, name: r.Name(), id: r.ID})
	}

	s.regionErrors = make(map[string]string, len(regionErrors))
	for region, msg := range regionErrors {
		s.regionErrors[region] = msg
	}

	for _, kind := range types.CheckKinds {
		for id := range s.results[kind] {
			if _, ok := s.resources[id]; !ok {
				delete(s.results[kind], id)
				delete(s.history[kind], id)
			}
		}
	}

	s.inventoryAt = time.Now()
	s.recomputeLocked()
}

// SetRegions records the active region set.
func (s *Store) SetRegions(regions []types.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = append([]types.Region(nil), regions...)
}

// RecordResults supersedes the latest result per resource for one
// check kind, appends to the bounded history rings, and recomputes
// aggregate counters.
func (s *Store) RecordResults(kind types.CheckKind, results []types.CollectionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, result := range results {
		s.results[kind][result.ResourceID] = result
		h, ok := s.history[kind][result.ResourceID]
		if !ok {
			h = newRing(s.historySize)
			s.history[kind][result.ResourceID] = h
		}
		h.push(result)
	}

	s.updatedAt[kind] = time.Now()
	s.recomputeLocked()
}

// recomputeLocked rebuilds every counter from the per-resource data.
func (s *Store) recomputeLocked() {
	agg := Aggregate{
		ByStatus: make(map[string]int),
		ByRegion: make(map[string]int),
	}

	for _, r := range s.resources {
		agg.Total++
		agg.ByStatus[r.Status]++
		agg.ByRegion[r.Region]++
	}

	for _, result := range s.results[types.CheckLiveness] {
		if result.Success && result.Ping != nil && result.Ping.Reachable {
			agg.Reachable++
		} else {
			agg.Unreachable++
		}
	}

	for _, result := range s.results[types.CheckMetrics] {
		if result.Success && result.Metrics.CPUPercent() > s.cpuHigh {
			agg.OverCPUHigh++
		}
	}

	for _, kind := range types.CheckKinds {
		for _, result := range s.results[kind] {
			if !result.Success {
				agg.FailedChecks++
			}
		}
	}

	s.counters = agg
}

// Aggregate returns the current counters.
func (s *Store) Aggregate() Aggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyAggregate(s.counters)
}

func copyAggregate(a Aggregate) Aggregate {
	out := a
	out.ByStatus = make(map[string]int, len(a.ByStatus))
	for k, v := range a.ByStatus {
		out.ByStatus[k] = v
	}
	out.ByRegion = make(map[string]int, len(a.ByRegion))
	for k, v := range a.ByRegion {
		out.ByRegion[k] = v
	}
	return out
}

// Resources returns resources matching filter in index order, with
// offset/limit pagination. limit <= 0 means no limit.
func (s *Store) Resources(filter types.ResourceFilter, offset, limit int) []types.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Resource
	skipped := 0
	s.index.Ascend(func(e indexEntry) bool {
		r, ok := s.resources[e.id]
		if !ok || !r.Matches(filter) {
			return true
		}
		if skipped < offset {
			skipped++
			return true
		}
		out = append(out, r)
		return limit <= 0 || len(out) < limit
	})
	return out
}

// Resource returns one resource by ID.
func (s *Store) Resource(id string) (types.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	return r, ok
}

// Checks returns the per-resource check view, including uptime derived
// from the liveness ring and CPU trend from the metrics ring.
func (s *Store) Checks(id string) (ResourceChecks, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resources[id]
	if !ok {
		return ResourceChecks{}, false
	}

	rc := ResourceChecks{
		Resource: r,
		Latest:   make(map[types.CheckKind]types.CollectionResult),
		History:  make(map[types.CheckKind][]types.CollectionResult),
		CPUTrend: types.TrendStable,
	}
	for _, kind := range types.CheckKinds {
		if result, ok := s.results[kind][id]; ok {
			rc.Latest[kind] = result
		}
		if h, ok := s.history[kind][id]; ok {
			rc.History[kind] = h.items()
		}
	}
	rc.UptimePercent = uptimeOf(rc.History[types.CheckLiveness])
	rc.CPUTrend = cpuTrendOf(rc.History[types.CheckMetrics])
	return rc, true
}

// uptimeOf is the share of liveness samples that were reachable.
func uptimeOf(history []types.CollectionResult) float64 {
	if len(history) == 0 {
		return 0
	}
	up := 0
	for _, result := range history {
		if result.Success && result.Ping != nil && result.Ping.Reachable {
			up++
		}
	}
	return 100 * float64(up) / float64(len(history))
}

// cpuTrendOf compares the two most recent CPU samples.
func cpuTrendOf(history []types.CollectionResult) types.Trend {
	if len(history) < 2 {
		return types.TrendStable
	}
	current := history[len(history)-1].Metrics.CPUPercent()
	previous := history[len(history)-2].Metrics.CPUPercent()
	return types.TrendOf(current, previous)
}

// Snapshot returns a consistent copy of the whole store.
func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := View{
		Resources:    make([]types.Resource, 0, len(s.resources)),
		Regions:      append([]types.Region(nil), s.regions...),
		RegionErrors: make(map[string]string, len(s.regionErrors)),
		Results:      make(map[types.CheckKind]map[string]types.CollectionResult),
		Counters:     copyAggregate(s.counters),
		InventoryAt:  s.inventoryAt,
		UpdatedAt:    make(map[types.CheckKind]time.Time, len(s.updatedAt)),
	}

	s.index.Ascend(func(e indexEntry) bool {
		if r, ok := s.resources[e.id]; ok {
			view.Resources = append(view.Resources, r)
		}
		return true
	})
	for region, msg := range s.regionErrors {
		view.RegionErrors[region] = msg
	}
	for kind, byID := range s.results {
		view.Results[kind] = make(map[string]types.CollectionResult, len(byID))
		for id, result := range byID {
			view.Results[kind][id] = result
		}
	}
	for kind, at := range s.updatedAt {
		view.UpdatedAt[kind] = at
	}
	return view
}
