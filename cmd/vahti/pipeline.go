package main

import (
	"context"
	"fmt"

	"github.com/yairfalse/vahti/alert"
	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/hub"
	"github.com/yairfalse/vahti/inventory"
	"github.com/yairfalse/vahti/monitor"
	"github.com/yairfalse/vahti/orchestrator"
	"github.com/yairfalse/vahti/probe"
	awsprovider "github.com/yairfalse/vahti/providers/aws"
	"github.com/yairfalse/vahti/scheduler"
	"github.com/yairfalse/vahti/state"
)

// pipeline bundles the wired monitoring components.
type pipeline struct {
	cfg     *config.Config
	sched   *scheduler.Scheduler
	pool    *awsprovider.ClientPool
	fetcher *inventory.Fetcher
	store   *state.Store
	engine  *alert.Engine
	hub     *hub.Hub
	orch    *orchestrator.Orchestrator
	service *monitor.Service
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(configPath)
}

// buildPipeline wires every component from config. Close the returned
// pipeline's scheduler when done.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	sched := scheduler.New(cfg.Scheduler.MaxConcurrent, cfg.Scheduler.RequestDelay)

	pool, err := awsprovider.NewClientPool(ctx, cfg.HomeRegion, sched, cfg.Inventory.ProbeBatchSize)
	if err != nil {
		sched.Close()
		return nil, fmt.Errorf("failed to create client pool: %w", err)
	}

	fetcher := inventory.NewFetcher(awsprovider.NewInventorySource(pool), pool, sched, cfg.Inventory)
	store := state.NewStore(cfg.Collection.HistorySize, cfg.Alerts.CPUHighPercent)
	engine := alert.NewEngine(cfg.Alerts, buildChannels(cfg.Alerts.Channels))
	broadcast := hub.New(func() any { return store.Snapshot() })

	prober := probe.NewTCPProber(cfg.Collection.ProbeTimeout)
	metrics := orchestrator.NewCachedMetrics(awsprovider.NewMetricsSource(pool), cfg.Inventory.MetricsTTL)
	orch := orchestrator.New(fetcher, store, engine, broadcast, sched,
		prober, prober, metrics, awsprovider.NewHostMetricsSource(pool), cfg.Collection)

	return &pipeline{
		cfg:     cfg,
		sched:   sched,
		pool:    pool,
		fetcher: fetcher,
		store:   store,
		engine:  engine,
		hub:     broadcast,
		orch:    orch,
		service: monitor.NewService(store, fetcher, orch, broadcast),
	}, nil
}

func (p *pipeline) close() {
	p.sched.Close()
}

// buildChannels turns channel config into senders; disabled or unknown
// entries are skipped.
func buildChannels(configs []config.ChannelConfig) []alert.Channel {
	var channels []alert.Channel
	for _, c := range configs {
		if !c.Enabled {
			continue
		}
		switch c.Type {
		case "webhook":
			channels = append(channels, alert.NewWebhookChannel(c.Name, c.URL))
		}
	}
	return channels
}
