// Command treecrown segments tree crowns from canopy height models and
// reconciles them with surveyed stems.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/treecrown/internal/canopy/adapters"
	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
	"github.com/banshee-data/treecrown/internal/canopy/l2watershed"
	"github.com/banshee-data/treecrown/internal/canopy/l3vector"
	"github.com/banshee-data/treecrown/internal/canopy/l4trees"
	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
	"github.com/banshee-data/treecrown/internal/canopy/pipeline"
	"github.com/banshee-data/treecrown/internal/canopy/report"
	"github.com/banshee-data/treecrown/internal/canopy/storage/sqlite"
	"github.com/banshee-data/treecrown/internal/config"
	"github.com/banshee-data/treecrown/internal/monitoring"
)

var (
	flagDB       string
	flagConfig   string
	flagLogLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "treecrown",
	Short:         "Tree crown segmentation and stem reconciliation",
	Long:          "treecrown segments tree crowns from LiDAR canopy height models, extracts tree tops and classifies crowns against surveyed stems.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(flagLogLevel, cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "treecrown.db", "sqlite database path")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "tuning config (.json, .yaml); built-in defaults when empty")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "ops", "log streams to enable: off|ops|diag|trace")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

// setupLogging routes every package's log streams to w.
func setupLogging(level string, w io.Writer) error {
	s, err := monitoring.StreamsForLevel(level, w)
	if err != nil {
		return err
	}
	for _, set := range []func(ops, diag, trace io.Writer){
		l1grid.SetLogWriters,
		l2watershed.SetLogWriters,
		l3vector.SetLogWriters,
		l4trees.SetLogWriters,
		l5relation.SetLogWriters,
		pipeline.SetLogWriters,
		adapters.SetLogWriters,
		report.SetLogWriters,
		sqlite.SetLogWriters,
	} {
		set(s.Ops, s.Diag, s.Trace)
	}
	if s.Ops == nil {
		monitoring.SetLogger(nil)
	} else {
		monitoring.SetLogger(func(format string, v ...interface{}) {
			fmt.Fprintf(w, format+"\n", v...)
		})
	}
	return nil
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}
