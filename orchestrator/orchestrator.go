// Package orchestrator runs the recurring collection jobs: it pulls
// the current resource set, partitions it into per-kind batches, fans
// checks out to the collaborator services, and publishes results to
// the state store, the alert engine, and the broadcast hub.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yairfalse/vahti/alert"
	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/hub"
	"github.com/yairfalse/vahti/inventory"
	"github.com/yairfalse/vahti/scheduler"
	"github.com/yairfalse/vahti/state"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// metricsWindow is the trailing CloudWatch query window.
const metricsWindow = 2 * time.Hour

// Pinger probes ICMP reachability. External collaborator.
type Pinger interface {
	Probe(ctx context.Context, address string, timeout time.Duration) (types.PingResult, error)
}

// PortScanner scans the common port set. External collaborator.
type PortScanner interface {
	ScanCommonPorts(ctx context.Context, address string) (types.PortReport, error)
}

// MetricsSource queries one metric series for one resource.
type MetricsSource interface {
	Query(ctx context.Context, resource types.Resource, metricName string, window time.Duration) ([]types.Datapoint, error)
}

// HostMetricsSource reads in-guest utilization (memory, disk) for one
// resource. Optional; nil skips host enrichment.
type HostMetricsSource interface {
	Collect(ctx context.Context, resource types.Resource) (map[string]float64, error)
}

// JobInventory is the recurring inventory refresh job. It shares the
// overlap-guard machinery with the check kinds but records no results.
const JobInventory types.CheckKind = "inventory"

var jobKinds = []types.CheckKind{
	types.CheckLiveness, types.CheckMetrics, types.CheckPorts, JobInventory,
}

var collectedMetrics = []string{
	types.MetricCPUUtilization,
	types.MetricNetworkInMB,
	types.MetricNetworkOutMB,
	types.MetricDiskReadOps,
	types.MetricDiskWriteOps,
}

// Orchestrator coordinates the collection pipeline.
type Orchestrator struct {
	fetcher *inventory.Fetcher
	store   *state.Store
	engine  *alert.Engine
	hub     *hub.Hub
	sched   *scheduler.Scheduler

	pinger  Pinger
	scanner PortScanner
	metrics MetricsSource
	host    HostMetricsSource

	cfg    config.CollectionConfig
	logger *telemetry.Logger

	// One guard per job kind: an overlapping run of the same kind is
	// skipped rather than interleaved with itself.
	running map[types.CheckKind]*atomic.Bool
}

// New wires the orchestrator.
func New(fetcher *inventory.Fetcher, store *state.Store, engine *alert.Engine, broadcast *hub.Hub,
	sched *scheduler.Scheduler, pinger Pinger, scanner PortScanner, metrics MetricsSource,
	host HostMetricsSource, cfg config.CollectionConfig) *Orchestrator {

	running := make(map[types.CheckKind]*atomic.Bool, len(jobKinds))
	for _, kind := range jobKinds {
		running[kind] = &atomic.Bool{}
	}

	return &Orchestrator{
		fetcher: fetcher,
		store:   store,
		engine:  engine,
		hub:     broadcast,
		sched:   sched,
		pinger:  pinger,
		scanner: scanner,
		metrics: metrics,
		host:    host,
		cfg:     cfg,
		logger:  telemetry.NewLogger("orchestrator"),
		running: running,
	}
}

// Run starts one ticker loop per job kind and blocks until ctx is
// canceled. The inventory job runs once immediately so the check jobs
// have a resource set to work on.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.RunJob(ctx, JobInventory)

	var wg sync.WaitGroup
	for _, kind := range jobKinds {
		wg.Add(1)
		go func(kind types.CheckKind) {
			defer wg.Done()
			o.loop(ctx, kind)
		}(kind)
	}
	wg.Wait()
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, kind types.CheckKind) {
	ticker := time.NewTicker(o.intervalFor(kind))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RunJob(ctx, kind)
		}
	}
}

func (o *Orchestrator) intervalFor(kind types.CheckKind) time.Duration {
	switch kind {
	case types.CheckLiveness:
		return o.cfg.LivenessInterval
	case types.CheckMetrics:
		return o.cfg.MetricsInterval
	case types.CheckPorts:
		return o.cfg.PortsInterval
	default:
		return o.cfg.InventoryInterval
	}
}

func (o *Orchestrator) batchSizeFor(kind types.CheckKind) int {
	switch kind {
	case types.CheckLiveness:
		return o.cfg.LivenessBatch
	case types.CheckMetrics:
		return o.cfg.MetricsBatch
	default:
		return o.cfg.PortsBatch
	}
}

// RunJob executes one run of the given job kind. Returns false when
// the previous run of the same kind is still in progress and this run
// was skipped.
func (o *Orchestrator) RunJob(ctx context.Context, kind types.CheckKind) bool {
	guard := o.running[kind]
	if guard == nil || !guard.CompareAndSwap(false, true) {
		o.logger.WithContext(ctx).Warn().
			Str("kind", string(kind)).
			Msg("previous run still in progress, skipping")
		return false
	}
	defer guard.Store(false)

	start := time.Now()
	if kind == JobInventory {
		o.runInventoryJob(ctx)
	} else {
		o.runCheckJob(ctx, kind)
	}
	telemetry.RecordJobDuration(ctx, string(kind), time.Since(start).Seconds())
	return true
}

// runInventoryJob refreshes the resource set, bypassing the cache, and
// publishes the new inventory slice.
func (o *Orchestrator) runInventoryJob(ctx context.Context) {
	snap, err := o.fetcher.ListAll(ctx, false)
	if err != nil {
		o.logger.WithContext(ctx).Error().Err(err).Msg("inventory refresh failed")
		return
	}
	regions, err := o.fetcher.ActiveRegions(ctx)
	if err == nil {
		o.store.SetRegions(regions)
	}
	o.store.SetInventory(snap.Resources, snap.RegionErrors)

	o.hub.Publish("inventory", map[string]any{
		"resources": snap.Resources,
		"counters":  o.store.Aggregate(),
		"errors":    snap.RegionErrors,
	})
	o.logger.WithContext(ctx).Info().
		Int("resources", len(snap.Resources)).
		Int("region_errors", len(snap.RegionErrors)).
		Msg("inventory refreshed")
}

// runCheckJob partitions operable resources into fixed-size batches
// and awaits each batch before starting the next.
func (o *Orchestrator) runCheckJob(ctx context.Context, kind types.CheckKind) {
	resources := o.store.Resources(types.ResourceFilter{Status: types.StatusRunning}, 0, 0)
	if len(resources) == 0 {
		return
	}

	batches := partition(resources, o.batchSizeFor(kind))
	o.logger.LogJobStart(ctx, string(kind), len(resources), len(batches))
	start := time.Now()

	results := make([]types.CollectionResult, 0, len(resources))
	for _, batch := range batches {
		results = append(results, o.runBatch(ctx, kind, batch)...)
	}

	o.publishResults(ctx, kind, resources, results)

	failures := 0
	for _, r := range results {
		if !r.Success {
			failures++
		}
	}
	o.logger.LogJobEnd(ctx, string(kind), failures, float64(time.Since(start).Milliseconds()))
}

// runBatch issues one concurrent check per resource and waits for the
// whole batch. Per-resource failures are recorded, never escalated.
func (o *Orchestrator) runBatch(ctx context.Context, kind types.CheckKind, batch []types.Resource) []types.CollectionResult {
	results := make([]types.CollectionResult, len(batch))
	var wg sync.WaitGroup
	for i, resource := range batch {
		wg.Add(1)
		go func(i int, resource types.Resource) {
			defer wg.Done()
			results[i] = o.checkResource(ctx, kind, resource)
		}(i, resource)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) checkResource(ctx context.Context, kind types.CheckKind, resource types.Resource) types.CollectionResult {
	result := types.CollectionResult{
		ResourceID: resource.ID,
		Kind:       kind,
		Timestamp:  time.Now(),
	}

	var err error
	switch kind {
	case types.CheckLiveness:
		err = o.collectLiveness(ctx, resource, &result)
	case types.CheckMetrics:
		err = o.collectMetrics(ctx, resource, &result)
	case types.CheckPorts:
		err = o.collectPorts(ctx, resource, &result)
	default:
		err = fmt.Errorf("unknown check kind %q", kind)
	}

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		o.logger.LogCheckFailure(ctx, resource.ID, string(kind), err)
	} else {
		result.Success = true
	}
	telemetry.RecordCheck(ctx, string(kind), result.Success)
	return result
}

func (o *Orchestrator) collectLiveness(ctx context.Context, resource types.Resource, result *types.CollectionResult) error {
	address := resource.PrimaryAddress()
	if address == "" {
		return fmt.Errorf("resource %s has no network address", resource.ID)
	}
	ping, err := o.pinger.Probe(ctx, address, o.cfg.ProbeTimeout)
	if err != nil {
		return fmt.Errorf("probe %s failed: %w", address, err)
	}
	result.Ping = &ping
	return nil
}

// collectMetrics queries every metric through the scheduler; a failed
// metric records zero rather than failing the whole report. The newest
// datapoint wins.
func (o *Orchestrator) collectMetrics(ctx context.Context, resource types.Resource, result *types.CollectionResult) error {
	values := make(map[string]float64, len(collectedMetrics))
	var firstErr error
	failed := 0

	for _, name := range collectedMetrics {
		future := o.sched.Submit(ctx, func(ctx context.Context) (any, error) {
			return o.metrics.Query(ctx, resource, name, metricsWindow)
		})
		v, err := future.Wait(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed++
			values[name] = 0
			continue
		}
		points := v.([]types.Datapoint)
		if len(points) == 0 {
			values[name] = 0
			continue
		}
		values[name] = points[len(points)-1].Value
	}

	if failed == len(collectedMetrics) {
		return fmt.Errorf("all metric queries failed for %s: %w", resource.ID, firstErr)
	}

	o.collectHostMetrics(ctx, resource, values)

	result.Metrics = &types.MetricReport{Values: values}
	return nil
}

// collectHostMetrics enriches the report with in-guest memory and disk
// usage for compute instances. A failed collection records zeros; the
// report still succeeds.
func (o *Orchestrator) collectHostMetrics(ctx context.Context, resource types.Resource, values map[string]float64) {
	if o.host == nil || resource.Type != "ec2" {
		return
	}

	hostValues, err := o.host.Collect(ctx, resource)
	if err != nil {
		o.logger.WithContext(ctx).Debug().Err(err).
			Str("resource_id", resource.ID).
			Msg("host metrics collection failed")
		values[types.MetricMemoryPercent] = 0
		values[types.MetricDiskUsagePercent] = 0
		return
	}
	for name, v := range hostValues {
		values[name] = v
	}
}

func (o *Orchestrator) collectPorts(ctx context.Context, resource types.Resource, result *types.CollectionResult) error {
	address := resource.PrimaryAddress()
	if address == "" {
		return fmt.Errorf("resource %s has no network address", resource.ID)
	}
	report, err := o.scanner.ScanCommonPorts(ctx, address)
	if err != nil {
		return fmt.Errorf("port scan %s failed: %w", address, err)
	}
	result.Ports = &report
	return nil
}

// publishResults writes the job's output into the store, evaluates
// alerts, and broadcasts the updated slice.
func (o *Orchestrator) publishResults(ctx context.Context, kind types.CheckKind, resources []types.Resource, results []types.CollectionResult) {
	o.store.RecordResults(kind, results)

	byID := make(map[string]types.Resource, len(resources))
	for _, r := range resources {
		byID[r.ID] = r
	}
	for _, result := range results {
		if resource, ok := byID[result.ResourceID]; ok {
			o.engine.Process(ctx, resource, result)
		}
	}

	resultMap := make(map[string]types.CollectionResult, len(results))
	for _, result := range results {
		resultMap[result.ResourceID] = result
	}
	o.hub.Publish(string(kind), map[string]any{
		"kind":     kind,
		"results":  resultMap,
		"counters": o.store.Aggregate(),
	})
}

// TriggerManualCheck runs one check for one resource immediately and
// publishes the result through the normal pipeline.
func (o *Orchestrator) TriggerManualCheck(ctx context.Context, resourceID string, kind types.CheckKind) (types.CollectionResult, error) {
	resource, ok := o.store.Resource(resourceID)
	if !ok {
		return types.CollectionResult{}, fmt.Errorf("unknown resource %q", resourceID)
	}
	if kind != types.CheckLiveness && kind != types.CheckMetrics && kind != types.CheckPorts {
		return types.CollectionResult{}, fmt.Errorf("unknown check kind %q", kind)
	}

	result := o.checkResource(ctx, kind, resource)
	o.publishResults(ctx, kind, []types.Resource{resource}, []types.CollectionResult{result})
	return result, nil
}

// partition splits resources into batches of at most size.
func partition(resources []types.Resource, size int) [][]types.Resource {
	if size <= 0 {
		size = len(resources)
	}
	var batches [][]types.Resource
	for start := 0; start < len(resources); start += size {
		end := start + size
		if end > len(resources) {
			end = len(resources)
		}
		batches = append(batches, resources[start:end])
	}
	return batches
}
