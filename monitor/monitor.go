// Package monitor is the query surface over the monitoring pipeline:
// inventory reads, aggregate state, per-resource check views, manual
// check triggers, and live subscription management.
package monitor

import (
	"context"
	"fmt"

	"github.com/yairfalse/vahti/hub"
	"github.com/yairfalse/vahti/internal/cache"
	"github.com/yairfalse/vahti/inventory"
	"github.com/yairfalse/vahti/orchestrator"
	"github.com/yairfalse/vahti/state"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// Page bounds a paginated read. A zero Limit means no limit.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// InventoryPage is one page of the ordered inventory.
type InventoryPage struct {
	Resources []types.Resource `json:"resources"`
	Total     int              `json:"total"`
	Offset    int              `json:"offset"`
}

// Service exposes the read and control operations of the pipeline.
type Service struct {
	store   *state.Store
	fetcher *inventory.Fetcher
	orch    *orchestrator.Orchestrator
	hub     *hub.Hub
	logger  *telemetry.Logger
}

// NewService wires the facade.
func NewService(store *state.Store, fetcher *inventory.Fetcher, orch *orchestrator.Orchestrator, broadcast *hub.Hub) *Service {
	return &Service{
		store:   store,
		fetcher: fetcher,
		orch:    orch,
		hub:     broadcast,
		logger:  telemetry.NewLogger("monitor"),
	}
}

// GetInventory returns one page of resources matching filter, in the
// store's stable region/name/ID order.
func (s *Service) GetInventory(filter types.ResourceFilter, page Page) InventoryPage {
	matched := s.store.Resources(filter, 0, 0)
	resources := s.store.Resources(filter, page.Offset, page.Limit)
	return InventoryPage{
		Resources: resources,
		Total:     len(matched),
		Offset:    page.Offset,
	}
}

// GetAggregateState returns the current counters.
func (s *Service) GetAggregateState() state.Aggregate {
	return s.store.Aggregate()
}

// GetResourceChecks returns the per-resource check view.
func (s *Service) GetResourceChecks(id string) (state.ResourceChecks, error) {
	checks, ok := s.store.Checks(id)
	if !ok {
		return state.ResourceChecks{}, fmt.Errorf("unknown resource %q", id)
	}
	return checks, nil
}

// Snapshot returns the full state view, used for subscriber replay.
func (s *Service) Snapshot() state.View {
	return s.store.Snapshot()
}

// TriggerManualCheck runs one check for one resource right now.
func (s *Service) TriggerManualCheck(ctx context.Context, resourceID string, kind types.CheckKind) (types.CollectionResult, error) {
	s.logger.WithContext(ctx).Info().
		Str("resource_id", resourceID).
		Str("kind", string(kind)).
		Msg("manual check requested")
	return s.orch.TriggerManualCheck(ctx, resourceID, kind)
}

// RefreshRegions re-runs region discovery and re-lists the inventory,
// bypassing every cache.
func (s *Service) RefreshRegions(ctx context.Context) (*inventory.Snapshot, error) {
	snap, err := s.fetcher.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("region refresh failed: %w", err)
	}
	regions, err := s.fetcher.ActiveRegions(ctx)
	if err == nil {
		s.store.SetRegions(regions)
	}
	s.store.SetInventory(snap.Resources, snap.RegionErrors)
	return snap, nil
}

// ClearCache drops the inventory and region caches.
func (s *Service) ClearCache() {
	s.fetcher.ClearCache()
}

// CacheStats reports inventory cache effectiveness.
func (s *Service) CacheStats() cache.Stats {
	return s.fetcher.CacheStats()
}

// Subscribe registers a live viewer; the full current state is
// replayed to it immediately.
func (s *Service) Subscribe(sub hub.Subscriber) {
	s.hub.Register(sub)
}

// Unsubscribe removes a live viewer.
func (s *Service) Unsubscribe(sub hub.Subscriber) {
	s.hub.Unregister(sub)
}

// SubscriberCount returns the number of connected live viewers.
func (s *Service) SubscriberCount() int {
	return s.hub.Count()
}
