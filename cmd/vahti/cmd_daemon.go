package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/internal/daemon"
	"github.com/yairfalse/vahti/telemetry"
)

var daemonListenAddr string

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the continuous monitoring daemon",
	Long: `Run Vahti in daemon mode for continuous fleet monitoring.

The daemon discovers active regions, refreshes the inventory on an
interval, and runs recurring liveness, metrics, and port checks.

Features:
- Rate-limited AWS calls through a bounded scheduler
- Prometheus metrics on /metrics
- Health checks on /health, /-/healthy, /-/ready
- Live state feed over /ws (websocket)
- Read API under /api/v1
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  vahti daemon                         # Run with defaults
  vahti daemon --config vahti.yaml     # Custom configuration
  vahti daemon --listen :8080          # Custom HTTP port`,
	RunE: runDaemonCmd,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringVar(&daemonListenAddr, "listen", "", "HTTP listen address (default from config metrics port)")
}

func runDaemonCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    "vahti",
		ServiceVersion: version,
		OTELEndpoint:   cfg.Metrics.OTELEndpoint,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.close()

	addr := daemonListenAddr
	if addr == "" && cfg.Metrics.Port > 0 {
		addr = fmt.Sprintf(":%d", cfg.Metrics.Port)
	}

	d := daemon.New(daemon.Config{ListenAddr: addr}, p.orch, p.service, p.engine)
	fmt.Printf("Vahti daemon starting (http %s, home region %s)\n", addr, cfg.HomeRegion)
	return d.Start(ctx)
}
