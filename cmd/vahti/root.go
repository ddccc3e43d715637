package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	configPath string

	rootCmd = &cobra.Command{
		Use:   "vahti",
		Short: "Multi-region fleet monitor",
		Long: `Vahti - Multi-Region Fleet Monitor

Vahti watches an EC2/RDS fleet across every active region: it discovers
regions, lists the inventory through a rate-limited scheduler, runs
recurring liveness, metrics, and port checks, and raises deduplicated
alerts when thresholds are crossed.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Vahti {{.Version}} - Multi-Region Fleet Monitor
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML)")
}
