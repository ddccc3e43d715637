package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// regionsCmd represents the regions command
var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Show discovered regions and their probe status",
	Long: `Discover every enabled region and probe each one with a minimal
request. Regions come back as active, inactive, or unauthorized; the
home region is always included.`,
	Example: `  vahti regions
  vahti regions -c vahti.yaml`,
	RunE: runRegionsCmd,
}

func init() {
	rootCmd.AddCommand(regionsCmd)
}

func runRegionsCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.close()

	discovered := p.pool.DiscoverRegions(ctx)
	active := p.pool.DetectActive(ctx, discovered)

	activeSet := make(map[string]bool, len(active))
	for _, r := range active {
		activeSet[r.ID] = true
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REGION\tACTIVE\tHOME")
	for _, r := range discovered {
		home := ""
		if r.ID == cfg.HomeRegion {
			home = "yes"
		}
		fmt.Fprintf(w, "%s\t%v\t%s\n", r.ID, activeSet[r.ID], home)
	}
	_ = w.Flush()

	fmt.Printf("\n%d discovered, %d active\n", len(discovered), len(active))
	return nil
}
