package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/treecrown/internal/canopy/storage/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

func init() {
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *sqlite.Store) error {
				// Open already migrates; report where that left us.
				return printVersion(cmd, s)
			})
		},
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, dropping all results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *sqlite.Store) error {
				if err := s.MigrateDown(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema removed")
				return nil
			})
		},
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *sqlite.Store) error { return printVersion(cmd, s) })
		},
	})
}

func withStore(f func(*sqlite.Store) error) error {
	s, err := sqlite.Open(flagDB)
	if err != nil {
		return err
	}
	defer s.Close()
	return f(s)
}

func printVersion(cmd *cobra.Command, s *sqlite.Store) error {
	v, dirty, err := s.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d of %d (dirty: %v)\n", v, sqlite.LatestSchemaVersion, dirty)
	return nil
}
