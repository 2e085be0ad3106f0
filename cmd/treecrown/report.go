package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/treecrown/internal/canopy/adapters"
	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
	"github.com/banshee-data/treecrown/internal/canopy/report"
	"github.com/banshee-data/treecrown/internal/canopy/storage/sqlite"
	"github.com/banshee-data/treecrown/internal/monitoring"
	"github.com/banshee-data/treecrown/internal/security"
)

var (
	flagOut         string
	flagTitle       string
	flagReportStems string
	flagNoMaps      bool
)

var reportCmd = &cobra.Command{
	Use:   "report [unit...]",
	Short: "Export stored results and render charts",
	Long:  "Writes tabulation.csv and cases.html for all units, and per unit crowns and tops GeoJSON, relations CSV and a PNG crown map.",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&flagOut, "out", "report", "output directory")
	reportCmd.Flags().StringVar(&flagTitle, "title", "Relation cases", "chart title")
	reportCmd.Flags().StringVar(&flagReportStems, "stems", "", "GeoJSON stems to overlay on crown maps")
	reportCmd.Flags().BoolVar(&flagNoMaps, "no-maps", false, "skip PNG crown maps")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}
	store, err := sqlite.Open(flagDB)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := os.MkdirAll(flagOut, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", flagOut, err)
	}
	ctx := cmd.Context()

	var stems []l5relation.Stem
	if flagReportStems != "" {
		if stems, err = readStemsFile(flagReportStems, cfg.GetStemIDProperty()); err != nil {
			return fmt.Errorf("reading stems: %w", err)
		}
	}

	tallies, err := store.CaseCounts(ctx)
	if err != nil {
		return err
	}
	if err := writeFile(flagOut, "tabulation.csv", func(w io.Writer) error {
		return adapters.WriteTabulationCSV(w, tallies)
	}); err != nil {
		return err
	}
	if err := writeFile(flagOut, "cases.html", func(w io.Writer) error {
		return report.CaseChartPage(w, flagTitle, tallies)
	}); err != nil {
		return err
	}

	units := args
	if len(units) == 0 {
		if units, err = store.Units(ctx); err != nil {
			return err
		}
	}
	for _, u := range units {
		if err := exportUnit(ctx, store, u, stems); err != nil {
			return fmt.Errorf("unit %s: %w", u, err)
		}
	}
	monitoring.Logf("report for %d units written to %s", len(units), flagOut)
	return nil
}

type outputFile struct {
	suffix string
	write  func(io.Writer) error
}

func exportUnit(ctx context.Context, store *sqlite.Store, unit string, stems []l5relation.Stem) error {
	crowns, err := store.Crowns(ctx, unit)
	if err != nil {
		return err
	}
	tops, err := store.Tops(ctx, unit)
	if err != nil {
		return err
	}
	pairs, err := store.Relations(ctx, unit)
	if err != nil {
		return err
	}

	crownCases := make(map[string]l5relation.Case)
	stemCases := make(map[string]l5relation.Case)
	for _, p := range pairs {
		if p.CrownID != "" {
			crownCases[p.CrownID] = p.Case
		}
		if p.TreeID != "" {
			stemCases[p.TreeID] = p.Case
		}
	}

	files := []outputFile{
		{"_crowns.geojson", func(w io.Writer) error { return adapters.WriteFeatures(w, adapters.CrownFeatures(crowns, crownCases)) }},
		{"_tops.geojson", func(w io.Writer) error { return adapters.WriteFeatures(w, adapters.TopFeatures(tops)) }},
		{"_relations.csv", func(w io.Writer) error { return adapters.WritePairsCSV(w, unit, pairs) }},
	}
	var unitStems []l5relation.Stem
	for _, s := range stems {
		if _, ok := stemCases[s.TreeID]; ok {
			unitStems = append(unitStems, s)
		}
	}
	if len(unitStems) > 0 {
		files = append(files, outputFile{"_stems.geojson", func(w io.Writer) error {
			return adapters.WriteFeatures(w, adapters.StemFeatures(unitStems, stemCases))
		}})
	}
	fps, err := store.FalsePositives(ctx, unit)
	if err != nil {
		return err
	}
	if len(fps) > 0 {
		files = append(files, outputFile{"_false_positives.geojson", func(w io.Writer) error {
			return adapters.WriteFeatures(w, adapters.FalsePositiveFeatures(fps))
		}})
	}
	for _, f := range files {
		path, err := security.UnitOutputPath(flagOut, unit, f.suffix)
		if err != nil {
			return err
		}
		if err := writePath(path, f.write); err != nil {
			return err
		}
	}

	if flagNoMaps {
		return nil
	}
	cases := make(map[string]l5relation.Case, len(crownCases)+len(stemCases))
	for id, c := range crownCases {
		cases[id] = c
	}
	for id, c := range stemCases {
		cases[id] = c
	}
	path, err := security.UnitOutputPath(flagOut, unit, "_map.png")
	if err != nil {
		return err
	}
	return report.SaveCrownMap(path, report.MapInput{Title: unit, Crowns: crowns, Tops: tops, Stems: unitStems, Cases: cases})
}

func writeFile(dir, name string, write func(io.Writer) error) error {
	path, err := security.UnitOutputPath(dir, name, "")
	if err != nil {
		return err
	}
	return writePath(path, write)
}

func writePath(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
