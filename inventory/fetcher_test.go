package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/scheduler"
	"github.com/yairfalse/vahti/types"
)

type fakeSource struct {
	// pages maps region -> token -> (records, next token).
	pages    map[string]map[string]fakePage
	failing  map[string]error
	infinite map[string]bool
	calls    atomic.Int64
}

type fakePage struct {
	records []types.Resource
	next    string
}

func (f *fakeSource) ListPage(ctx context.Context, region, token string, pageSize int32) ([]types.Resource, string, error) {
	f.calls.Add(1)
	if err, ok := f.failing[region]; ok {
		return nil, "", err
	}
	if f.infinite[region] {
		// Tokens never end.
		return []types.Resource{{ID: fmt.Sprintf("%s-%s", region, token)}}, token + "x", nil
	}
	page, ok := f.pages[region][token]
	if !ok {
		return nil, "", nil
	}
	return page.records, page.next, nil
}

type fakeRegions struct {
	regions       []types.Region
	discoverCalls atomic.Int64
}

func (f *fakeRegions) DiscoverRegions(ctx context.Context) []types.Region {
	f.discoverCalls.Add(1)
	return f.regions
}

func (f *fakeRegions) DetectActive(ctx context.Context, regions []types.Region) []types.Region {
	return regions
}

func region(id string) types.Region {
	return types.Region{ID: id, Name: id, Enabled: true, DetectedAt: time.Now()}
}

func resource(id, name string) types.Resource {
	r := types.Resource{ID: id, Type: "ec2", Status: types.StatusRunning}
	if name != "" {
		r.Tags = []types.Tag{{Key: "Name", Value: name}}
	}
	return r
}

func testFetcher(t *testing.T, source Source, provider RegionProvider) *Fetcher {
	t.Helper()
	sched := scheduler.New(4, 0)
	t.Cleanup(sched.Close)

	cfg := config.Default().Inventory
	cfg.CacheTTL = time.Minute
	cfg.RegionListTTL = time.Minute
	cfg.MaxPages = 5
	cfg.MaxResources = 100
	return NewFetcher(source, provider, sched, cfg)
}

func TestListRegionPaginates(t *testing.T) {
	source := &fakeSource{pages: map[string]map[string]fakePage{
		"us-east-1": {
			"":   {records: []types.Resource{resource("i-1", ""), resource("i-2", "")}, next: "t1"},
			"t1": {records: []types.Resource{resource("i-3", "")}, next: ""},
		},
	}}
	f := testFetcher(t, source, &fakeRegions{regions: []types.Region{region("us-east-1")}})

	records, err := f.ListRegion(context.Background(), "us-east-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, "us-east-1", r.Region)
	}
}

func TestListRegionTerminatesOnPageLimit(t *testing.T) {
	source := &fakeSource{infinite: map[string]bool{"us-east-1": true}}
	f := testFetcher(t, source, &fakeRegions{regions: []types.Region{region("us-east-1")}})

	records, err := f.ListRegion(context.Background(), "us-east-1", 0)
	require.NoError(t, err)
	// MaxPages is 5: termination despite tokens never ending.
	assert.Len(t, records, 5)
	assert.Equal(t, int64(5), source.calls.Load())
}

func TestListRegionStopsAtShareOfGlobalCap(t *testing.T) {
	source := &fakeSource{infinite: map[string]bool{"us-east-1": true}}
	f := testFetcher(t, source, &fakeRegions{regions: []types.Region{region("us-east-1")}})

	records, err := f.ListRegion(context.Background(), "us-east-1", 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestListAllIsolatesRegionFailure(t *testing.T) {
	source := &fakeSource{
		pages: map[string]map[string]fakePage{
			"region-a": {"": {records: []types.Resource{
				resource("i-1", "alpha"), resource("i-2", "beta"), resource("i-3", "gamma"),
			}}},
		},
		failing: map[string]error{"region-b": errors.New("throttled")},
	}
	provider := &fakeRegions{regions: []types.Region{region("region-a"), region("region-b")}}
	f := testFetcher(t, source, provider)

	snap, err := f.ListAll(context.Background(), true)
	require.NoError(t, err)

	// Region A's 3 records intact, region B recorded as an error.
	require.Len(t, snap.Resources, 3)
	assert.Equal(t, "i-1", snap.Resources[0].ID)
	require.Contains(t, snap.RegionErrors, "region-b")
	assert.Contains(t, snap.RegionErrors["region-b"], "throttled")
}

func TestListAllCacheSemantics(t *testing.T) {
	source := &fakeSource{pages: map[string]map[string]fakePage{
		"us-east-1": {"": {records: []types.Resource{resource("i-1", "")}}},
	}}
	provider := &fakeRegions{regions: []types.Region{region("us-east-1")}}
	f := testFetcher(t, source, provider)

	first, err := f.ListAll(context.Background(), true)
	require.NoError(t, err)
	callsAfterFirst := source.calls.Load()

	second, err := f.ListAll(context.Background(), true)
	require.NoError(t, err)

	// Within TTL: same snapshot, no new remote calls.
	assert.Same(t, first, second)
	assert.Equal(t, callsAfterFirst, source.calls.Load())

	// Bypassing the cache issues new remote calls.
	_, err = f.ListAll(context.Background(), false)
	require.NoError(t, err)
	assert.Greater(t, source.calls.Load(), callsAfterFirst)
}

func TestListAllSortsDeterministically(t *testing.T) {
	source := &fakeSource{pages: map[string]map[string]fakePage{
		"region-b": {"": {records: []types.Resource{resource("i-20", "zeta")}}},
		"region-a": {"": {records: []types.Resource{
			resource("i-10", "delta"),
			resource("i-05", ""),
			resource("i-01", "Alpha"),
		}}},
	}}
	provider := &fakeRegions{regions: []types.Region{region("region-b"), region("region-a")}}
	f := testFetcher(t, source, provider)

	snap, err := f.ListAll(context.Background(), true)
	require.NoError(t, err)

	ids := make([]string, 0, len(snap.Resources))
	for _, r := range snap.Resources {
		ids = append(ids, r.ID)
	}
	// region-a first; within it: "Alpha" < "delta" < "i-05"
	// (uppercase sorts before lowercase, unnamed falls back to ID).
	assert.Equal(t, []string{"i-01", "i-10", "i-05", "i-20"}, ids)
}

func TestRefreshRerunsDiscovery(t *testing.T) {
	source := &fakeSource{pages: map[string]map[string]fakePage{
		"us-east-1": {"": {records: []types.Resource{resource("i-1", "")}}},
	}}
	provider := &fakeRegions{regions: []types.Region{region("us-east-1")}}
	f := testFetcher(t, source, provider)

	_, err := f.ListAll(context.Background(), true)
	require.NoError(t, err)
	discoveries := provider.discoverCalls.Load()

	_, err = f.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, discoveries+1, provider.discoverCalls.Load())
}

func TestCacheStatsAndClear(t *testing.T) {
	source := &fakeSource{pages: map[string]map[string]fakePage{
		"us-east-1": {"": {records: []types.Resource{resource("i-1", "")}}},
	}}
	f := testFetcher(t, source, &fakeRegions{regions: []types.Region{region("us-east-1")}})

	_, err := f.ListAll(context.Background(), true)
	require.NoError(t, err)
	_, err = f.ListAll(context.Background(), true)
	require.NoError(t, err)

	stats := f.CacheStats()
	assert.Positive(t, stats.Hits)
	assert.Positive(t, stats.Populates)

	f.ClearCache()
	assert.Zero(t, f.CacheStats().Entries)
}
