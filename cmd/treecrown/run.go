package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
	"github.com/banshee-data/treecrown/internal/canopy/pipeline"
	"github.com/banshee-data/treecrown/internal/canopy/storage/sqlite"
	"github.com/banshee-data/treecrown/internal/monitoring"
	"github.com/banshee-data/treecrown/internal/version"
)

var (
	flagInput       string
	flagStems       string
	flagStemID      string
	flagWorkers     int
	flagForce       bool
	flagMetricsFile string
	flagNoData      float64
)

var runCmd = &cobra.Command{
	Use:   "run [unit...]",
	Short: "Process units from an input directory",
	Long:  "Segments crowns, extracts tops and classifies stems for every unit directory under --input (or the named units). Units already complete with identical inputs are skipped unless --force is set.",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&flagInput, "input", "", "directory holding one sub-directory per unit (required)")
	runCmd.Flags().StringVar(&flagStems, "stems", "", "GeoJSON stems shared by units without their own stems.geojson")
	runCmd.Flags().StringVar(&flagStemID, "stem-id", "", "stem id property (overrides the config)")
	runCmd.Flags().IntVar(&flagWorkers, "workers", 0, "concurrent units (overrides the config; 0 keeps it)")
	runCmd.Flags().BoolVar(&flagForce, "force", false, "recompute units the manifest holds as complete")
	runCmd.Flags().StringVar(&flagMetricsFile, "metrics-file", "", "write Prometheus textfile metrics here after the run")
	runCmd.Flags().Float64Var(&flagNoData, "tiff-nodata", 0, "nodata value of TIFF rasters")
	_ = runCmd.MarkFlagRequired("input")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}
	opts := pipeline.OptionsFromConfig(cfg)
	if flagWorkers > 0 {
		opts.Workers = flagWorkers
	}
	idProperty := cfg.GetStemIDProperty()
	if flagStemID != "" {
		idProperty = flagStemID
	}

	units := args
	if len(units) == 0 {
		if units, err = discoverUnits(flagInput); err != nil {
			return fmt.Errorf("listing units: %w", err)
		}
	}
	if len(units) == 0 {
		return fmt.Errorf("no units under %s", flagInput)
	}

	var shared []l5relation.Stem
	if flagStems != "" {
		if shared, err = readStemsFile(flagStems, idProperty); err != nil {
			return fmt.Errorf("reading stems: %w", err)
		}
	}

	store, err := sqlite.Open(flagDB)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	run, err := store.BeginRun(ctx, string(cfgJSON), version.String())
	if err != nil {
		return err
	}
	site := cfg.SiteProfile()
	monitoring.Logf("run %s: %d units, site %s, cell size %.2f m", run.RunID, len(units), site.Name, cfg.GetCellSize())

	loader := &unitLoader{
		dir:        flagInput,
		crs:        site.CRS,
		cellSize:   cfg.GetCellSize(),
		noData:     flagNoData,
		idProperty: idProperty,
		shared:     shared,
	}
	metrics := monitoring.NewMetrics()
	b := &pipeline.Batch{
		Options: opts,
		Load:    loader.Load,
		Store:   store,
		RunID:   run.RunID,
		Metrics: metrics,
		Force:   flagForce,
		OnUnit: func(s pipeline.Summary) {
			monitoring.Logf("unit %s: %s %s", s.Unit, s.Status, s.Error)
		},
	}
	summaries, runErr := b.Run(ctx, units)

	status := sqlite.RunComplete
	if runErr != nil {
		status = sqlite.RunFailed
	}
	if err := store.FinishRun(context.WithoutCancel(ctx), run.RunID, status); err != nil {
		monitoring.Logf("finishing run %s: %v", run.RunID, err)
	}
	if flagMetricsFile != "" {
		if err := metrics.WriteTextfile(flagMetricsFile); err != nil {
			monitoring.Logf("writing metrics: %v", err)
		}
	}

	failed := printSummaries(cmd.OutOrStdout(), summaries)
	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d units failed", failed, len(summaries))
	}
	return nil
}

// printSummaries writes one line per unit and returns the failure count.
func printSummaries(w io.Writer, summaries []pipeline.Summary) int {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	// Cases 1-3 count stems, Case4 counts crowns.
	fmt.Fprintln(tw, "UNIT\tSTATUS\tCROWNS\tTOPS\tSTEMS\tCASE1\tCASE2\tCASE3\tCASE4\tUNCLASSIFIED\tFALSE+\tTIME\tERROR")
	failed := 0
	for _, s := range summaries {
		if s.Status == pipeline.StatusFailed {
			failed++
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%v\t%s\n",
			s.Unit, s.Status, s.Crowns, s.Tops, s.Stems,
			s.StemCases[string(l5relation.Case1)], s.StemCases[string(l5relation.Case2)],
			s.StemCases[string(l5relation.Case3)], s.CrownCases[string(l5relation.Case4)],
			s.StemCases[string(l5relation.Unclassified)], s.FalsePositives,
			s.Duration.Round(time.Millisecond), s.Error)
	}
	tw.Flush()
	return failed
}
