package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/orbitalworks/orrery/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or initialize orrery configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		fmt.Printf("%s\n", color.CyanString("Effective configuration"))
		fmt.Printf("  max_workers:                   %d\n", cfg.MaxWorkers)
		fmt.Printf("  modification_timeout_seconds:  %d\n", cfg.ModificationTimeoutSeconds)
		fmt.Printf("  wait_timeout_seconds:          %d\n", cfg.WaitTimeoutSeconds)
		fmt.Printf("  poll_interval_ms:              %d\n", cfg.PollIntervalMS)
		fmt.Printf("  queue_buffer_size:             %d\n", cfg.QueueBufferSize)
		fmt.Printf("  ledger_path:                   %s\n", orDefault(cfg.LedgerPath))
		fmt.Printf("  audit_log_path:                %s\n", orDefault(cfg.AuditLogPath))
		fmt.Printf("  metrics_listen:                %s\n", orDefault(cfg.MetricsListen))
		fmt.Printf("  signals_dir:                   %s\n", cfg.SignalsDir)
		fmt.Println()
		fmt.Printf("  user config:    %s\n", config.GetUserConfigPath())
		fmt.Printf("  project config: %s\n", config.GetProjectConfigPath())
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the current configuration to the user config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.Save(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Printf("Wrote %s\n", config.GetUserConfigPath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func orDefault(s string) string {
	if s == "" {
		return color.New(color.Faint).Sprint("(default)")
	}
	return s
}
