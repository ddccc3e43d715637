package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/inventory"
)

var scanOutput string

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List the fleet inventory once and exit",
	Long: `Scan every active region once and print the merged inventory.

Regions that fail to list are reported separately; the remaining
regions are unaffected.`,
	Example: `  vahti scan                   # Table output
  vahti scan --output json     # JSON output
  vahti scan -c vahti.yaml     # Custom configuration`,
	RunE: runScanCmd,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "table", "Output format: table, json")
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	if scanOutput != "table" && scanOutput != "json" {
		return fmt.Errorf("invalid output format: %s (must be table or json)", scanOutput)
	}

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

	snap, err := p.fetcher.ListAll(ctx, false)
	if err != nil {
		return fmt.Errorf("inventory listing failed: %w", err)
	}

	if scanOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	printInventoryTable(snap)
	return nil
}

func printInventoryTable(snap *inventory.Snapshot) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REGION\tNAME\tID\tTYPE\tSTATUS\tADDRESS")
	for _, r := range snap.Resources {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Region, r.Name(), r.ID, r.Type, r.Status, r.PrimaryAddress())
	}
	_ = w.Flush()

	fmt.Printf("\n%d resources", len(snap.Resources))
	if len(snap.RegionErrors) > 0 {
		fmt.Printf(", %d regions failed:\n", len(snap.RegionErrors))
		for region, msg := range snap.RegionErrors {
			fmt.Printf("  %s: %s\n", region, msg)
		}
	} else {
		fmt.Println()
	}
}
