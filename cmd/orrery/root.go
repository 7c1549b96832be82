package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "orrery",
	Short: "Constellation orchestration engine",
	Long: `Orrery orchestrates a dynamically evolving task graph ("constellation")
across workers: it computes ready tasks, dispatches them concurrently,
observes outcomes, and lets a planner edit the graph mid-flight without
ever dispatching against a half-edited structure.

Seed a constellation from a YAML file and run it:

  orrery run constellation.yaml`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
