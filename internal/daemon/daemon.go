// Package daemon runs the monitoring pipeline as a long-lived process:
// the collection job loops, the HTTP surface (metrics, health, live
// websocket feed, read API), and signal-driven shutdown, coordinated
// through one run group.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"

	"github.com/yairfalse/vahti/alert"
	"github.com/yairfalse/vahti/monitor"
	"github.com/yairfalse/vahti/orchestrator"
	"github.com/yairfalse/vahti/telemetry"
)

// suppressionPruneInterval bounds growth of the alert dedup map.
const suppressionPruneInterval = time.Hour

// Config holds daemon configuration.
type Config struct {
	ListenAddr string
}

// Daemon manages the continuous monitoring loops.
type Daemon struct {
	cfg       Config
	orch      *orchestrator.Orchestrator
	service   *monitor.Service
	engine    *alert.Engine
	logger    *telemetry.Logger
	startTime time.Time
}

// New creates a daemon around an already-wired pipeline.
func New(cfg Config, orch *orchestrator.Orchestrator, service *monitor.Service, engine *alert.Engine) *Daemon {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9090"
	}
	return &Daemon{
		cfg:       cfg,
		orch:      orch,
		service:   service,
		engine:    engine,
		logger:    telemetry.NewLogger("daemon"),
		startTime: time.Now(),
	}
}

// Start runs every actor until the first one exits: collection loops,
// the HTTP server, the suppression pruner, and the signal handler.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group

	g.Add(func() error {
		return d.orch.Run(ctx)
	}, func(error) {
		cancel()
	})

	server := &http.Server{
		Addr:              d.cfg.ListenAddr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Add(func() error {
		d.logger.Info().Str("addr", d.cfg.ListenAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	})

	g.Add(func() error {
		d.pruneLoop(ctx)
		return nil
	}, func(error) {
		cancel()
	})

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err := g.Run()
	if _, ok := err.(run.SignalError); ok {
		d.logger.Info().Msg("signal received, shutting down")
		return nil
	}
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// pruneLoop periodically drops stale alert suppression entries.
func (d *Daemon) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(suppressionPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.engine.PruneSuppression(24 * time.Hour)
		}
	}
}

// Uptime reports how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.startTime)
}
