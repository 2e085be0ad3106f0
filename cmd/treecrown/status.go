package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/treecrown/internal/canopy/storage/sqlite"
)

var (
	flagRuns   int
	flagFormat string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and the unit manifest",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&flagRuns, "runs", 5, "number of recent runs to list")
	statusCmd.Flags().StringVar(&flagFormat, "format", "text", "output format: text|json")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if flagFormat != "text" && flagFormat != "json" {
		return fmt.Errorf("invalid format %q: must be text or json", flagFormat)
	}
	store, err := sqlite.Open(flagDB)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	runs, err := store.ListRuns(ctx, flagRuns)
	if err != nil {
		return err
	}
	manifest, err := store.Manifest(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Runs     []sqlite.Run           `json:"runs"`
			Manifest []sqlite.ManifestEntry `json:"manifest"`
		}{runs, manifest})
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tVERSION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.RunID, r.StartedAt.Format(time.RFC3339), r.Status, r.Version)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "UNIT\tSTATUS\tRUN\tUPDATED\tERROR")
	counts := make(map[string]int)
	for _, e := range manifest {
		counts[e.Status]++
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Unit, e.Status, e.RunID, e.UpdatedAt.Format(time.RFC3339), e.Error)
	}
	fmt.Fprintf(tw, "\n%d units: %d complete, %d failed\n", len(manifest), counts[sqlite.UnitComplete], counts[sqlite.UnitFailed])
	return tw.Flush()
}
