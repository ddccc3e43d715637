// Package inventory retrieves the fleet resource list across all
// active regions, caches it with a short TTL, and tolerates individual
// region failures without failing the whole view.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/internal/cache"
	"github.com/yairfalse/vahti/scheduler"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// Cache keys for the shared TTL cache.
const (
	keyInventory = "inventory:all"
	keyRegions   = "regions:active"
)

// Source lists resources for one region, one page per call. An empty
// continuation token from Source means the listing is exhausted.
type Source interface {
	ListPage(ctx context.Context, region, token string, pageSize int32) ([]types.Resource, string, error)
}

// RegionProvider discovers and probes regions.
type RegionProvider interface {
	DiscoverRegions(ctx context.Context) []types.Region
	DetectActive(ctx context.Context, regions []types.Region) []types.Region
}

// Snapshot is one complete inventory fetch. Resources are replaced
// wholesale on each successful refresh, never partially mutated.
type Snapshot struct {
	Resources    []types.Resource  `json:"resources"`
	RegionErrors map[string]string `json:"region_errors,omitempty"`
	FetchedAt    time.Time         `json:"fetched_at"`
}

// Fetcher pulls the multi-region inventory through the scheduler and
// caches the merged result.
type Fetcher struct {
	source  Source
	regions RegionProvider
	sched   *scheduler.Scheduler
	cache   *cache.Cache
	cfg     config.InventoryConfig
	logger  *telemetry.Logger
}

// NewFetcher wires the fetcher.
func NewFetcher(source Source, regions RegionProvider, sched *scheduler.Scheduler, cfg config.InventoryConfig) *Fetcher {
	return &Fetcher{
		source:  source,
		regions: regions,
		sched:   sched,
		cache:   cache.New(),
		cfg:     cfg,
		logger:  telemetry.NewLogger("inventory"),
	}
}

// ActiveRegions returns the probed region set, cached with its own TTL.
func (f *Fetcher) ActiveRegions(ctx context.Context) ([]types.Region, error) {
	v, err := f.cache.GetOrPopulate(ctx, keyRegions, f.cfg.RegionListTTL, func(ctx context.Context) (any, error) {
		discovered := f.regions.DiscoverRegions(ctx)
		active := f.regions.DetectActive(ctx, discovered)
		if len(active) == 0 {
			return nil, fmt.Errorf("no active regions detected")
		}
		return active, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.Region), nil
}

// ListRegion pages through one region until the continuation token is
// exhausted, the page safety limit is hit, or the per-region share of
// the global resource cap is reached.
func (f *Fetcher) ListRegion(ctx context.Context, region string, limit int) ([]types.Resource, error) {
	var records []types.Resource
	token := ""

	for page := 0; page < f.cfg.MaxPages; page++ {
		future := f.sched.Submit(ctx, func(ctx context.Context) (any, error) {
			batch, next, err := f.source.ListPage(ctx, region, token, int32(f.cfg.PageSize))
			if err != nil {
				return nil, err
			}
			return pageResult{records: batch, next: next}, nil
		})

		v, err := future.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s failed: %w", region, err)
		}
		result := v.(pageResult)

		for i := range result.records {
			result.records[i].Region = region
		}
		records = append(records, result.records...)

		token = result.next
		if token == "" {
			break
		}
		if limit > 0 && len(records) >= limit {
			f.logger.WithContext(ctx).Debug().
				Str("region", region).
				Int("limit", limit).
				Msg("per-region resource cap reached")
			break
		}
	}

	telemetry.RecordDiscovered(ctx, region, len(records))
	return records, nil
}

type pageResult struct {
	records []types.Resource
	next    string
}

// ListAll returns the merged inventory for every active region. With
// useCache it returns the cached snapshot when within TTL. A failing
// region contributes zero records and an entry in RegionErrors; it
// never fails the whole call.
func (f *Fetcher) ListAll(ctx context.Context, useCache bool) (*Snapshot, error) {
	if !useCache {
		f.cache.Invalidate(keyInventory)
	}

	v, err := f.cache.GetOrPopulate(ctx, keyInventory, f.cfg.CacheTTL, func(ctx context.Context) (any, error) {
		return f.fetchAll(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (f *Fetcher) fetchAll(ctx context.Context) (*Snapshot, error) {
	regions, err := f.ActiveRegions(ctx)
	if err != nil {
		return nil, err
	}

	limit := f.cfg.MaxResources / len(regions)

	var mu sync.Mutex
	merged := make([]types.Resource, 0)
	regionErrors := make(map[string]string)

	g, gctx := errgroup.WithContext(ctx)
	for _, region := range regions {
		g.Go(func() error {
			records, err := f.ListRegion(gctx, region.ID, limit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Isolated: this region contributes nothing, the
				// others are unaffected.
				regionErrors[region.ID] = err.Error()
				f.logger.WithContext(gctx).Warn().Err(err).
					Str("region", region.ID).
					Msg("region listing failed")
				return nil
			}
			merged = append(merged, records...)
			return nil
		})
	}
	_ = g.Wait()

	sortResources(merged)

	return &Snapshot{
		Resources:    merged,
		RegionErrors: regionErrors,
		FetchedAt:    time.Now(),
	}, nil
}

// sortResources orders deterministically: region, then display name
// (resource ID when no Name tag), case-sensitive lexical order.
func sortResources(resources []types.Resource) {
	sort.Slice(resources, func(i, j int) bool {
		a, b := resources[i], resources[j]
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		an, bn := a.Name(), b.Name()
		if an != bn {
			return an < bn
		}
		return a.ID < b.ID
	})
}

// Refresh drops both caches and re-runs discovery before re-listing.
func (f *Fetcher) Refresh(ctx context.Context) (*Snapshot, error) {
	f.cache.Invalidate(keyRegions)
	f.cache.Invalidate(keyInventory)
	if _, err := f.ActiveRegions(ctx); err != nil {
		return nil, err
	}
	return f.ListAll(ctx, false)
}

// ClearCache drops every cached entry.
func (f *Fetcher) ClearCache() {
	f.cache.Clear()
}

// CacheStats reports cache effectiveness.
func (f *Fetcher) CacheStats() cache.Stats {
	return f.cache.Snapshot()
}
