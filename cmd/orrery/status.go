package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/orbitalworks/orrery/internal/config"
	"github.com/orbitalworks/orrery/internal/state"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show recent runs, or the transition history of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of runs to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ledgerPath := cfg.LedgerPath
	if ledgerPath == "" {
		ledgerPath = state.DefaultPath()
	}
	ledger, err := state.Open(ledgerPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()
	if err := ledger.Migrate(); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}

	if len(args) == 1 {
		return showRun(ledger, args[0])
	}
	return listRuns(ledger)
}

func listRuns(ledger *state.Ledger) error {
	runs, err := ledger.RecentRuns(statusLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	for _, run := range runs {
		mods, _ := ledger.ModificationCount(run.ID)
		fmt.Printf("%s  %s  %s  started %s",
			run.ID,
			run.ConstellationID,
			outcomeString(run.Status),
			run.StartedAt.Format("2006-01-02 15:04:05"))
		if mods > 0 {
			fmt.Printf("  (%d modifications)", mods)
		}
		fmt.Println()
	}
	return nil
}

func showRun(ledger *state.Ledger, runID string) error {
	transitions, err := ledger.RunTransitions(runID)
	if err != nil {
		return fmt.Errorf("load transitions: %w", err)
	}
	if len(transitions) == 0 {
		fmt.Printf("No transitions recorded for run %s.\n", runID)
		return nil
	}

	for _, tr := range transitions {
		line := fmt.Sprintf("%s  %-24s %s",
			tr.At.Format("15:04:05.000"), tr.TaskID, tr.State)
		if tr.Error != "" {
			line += "  " + color.RedString(tr.Error)
		}
		fmt.Println(line)
	}
	return nil
}

func outcomeString(outcome string) string {
	switch outcome {
	case "completed":
		return color.GreenString("%-9s", outcome)
	case "failed":
		return color.RedString("%-9s", outcome)
	case "":
		return color.YellowString("%-9s", "running")
	default:
		return color.YellowString("%-9s", outcome)
	}
}
