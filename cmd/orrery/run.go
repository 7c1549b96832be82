package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orbitalworks/orrery/internal/config"
	"github.com/orbitalworks/orrery/internal/constellation"
	"github.com/orbitalworks/orrery/internal/events"
	"github.com/orbitalworks/orrery/internal/metrics"
	"github.com/orbitalworks/orrery/internal/observers"
	"github.com/orbitalworks/orrery/internal/orchestrator"
	"github.com/orbitalworks/orrery/internal/planner"
	"github.com/orbitalworks/orrery/internal/state"
	"github.com/orbitalworks/orrery/internal/worker"
	"github.com/orbitalworks/orrery/pkg/models"
)

var (
	runVerbose   bool
	runRetries   int
	runLatency   time.Duration
	runNoPlanner bool
	runNoLedger  bool
)

var runCmd = &cobra.Command{
	Use:   "run <seed-file>",
	Short: "Run a constellation from a YAML seed file",
	Long: `Load a constellation description, dispatch its tasks to the simulated
worker transport, and drive the graph to completion. With the built-in
planner enabled (the default), failed tasks are retried by appending
retry tasks behind completion edges.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Enable debug logging")
	runCmd.Flags().IntVar(&runRetries, "retries", 1, "Retry budget per failed task")
	runCmd.Flags().DurationVar(&runLatency, "latency", 100*time.Millisecond, "Simulated worker latency")
	runCmd.Flags().BoolVar(&runNoPlanner, "no-planner", false, "Run the seeded graph as-is without planner edits")
	runCmd.Flags().BoolVar(&runNoLedger, "no-ledger", false, "Disable the session ledger")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := buildLogger(runVerbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	constel, err := constellation.Load(args[0])
	if err != nil {
		return fmt.Errorf("load constellation: %w", err)
	}

	bus := events.NewBus(logger)
	transport := worker.NewSimulatedTransport(runLatency)

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMaxWorkers(cfg.MaxWorkers),
		orchestrator.WithModificationTimeout(cfg.ModificationTimeout()),
		orchestrator.WithWaitTimeout(cfg.WaitTimeout()),
		orchestrator.WithPollInterval(cfg.PollInterval()),
		orchestrator.WithQueueBufferSize(cfg.QueueBufferSize),
		orchestrator.WithSignalsDir(cfg.SignalsDir),
	}

	if !runNoPlanner {
		opts = append(opts, orchestrator.WithPlanner(planner.NewHeuristic(runRetries)))
	}

	if !runNoLedger && cfg.LedgerPath != "off" {
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
		opts = append(opts, orchestrator.WithLedger(ledger))
	}

	var collector *metrics.Collector
	if cfg.MetricsListen != "" {
		collector = metrics.NewCollector(nil)
		opts = append(opts, orchestrator.WithCollector(collector))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
				logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	if cfg.AuditLogPath != "" {
		audit, err := observers.NewAuditTrail(cfg.AuditLogPath)
		if err != nil {
			return fmt.Errorf("open audit trail: %w", err)
		}
		defer audit.Close()
		bus.Subscribe(audit)
	}
	if collector != nil {
		bus.Subscribe(observers.NewMetricsObserver(collector, nil))
	}

	orch, err := orchestrator.New(orchestrator.RequiredConfig{
		Constellation: constel,
		Transport:     transport,
		Bus:           bus,
	}, opts...)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Running constellation %s (%d tasks, run %s)\n",
		color.CyanString(constel.ID()), constel.Len(), orch.RunID())

	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	printSummary(constel.SnapshotView(), orch)
	return nil
}

// buildLogger returns a console zap logger, verbose at debug level.
func buildLogger(verbose bool) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.OutputPaths = []string{"stderr"}
	if verbose {
		zapCfg = zap.NewDevelopmentConfig()
	}
	return zapCfg.Build()
}

// printSummary renders the final state of every task with state colors.
func printSummary(snap *models.Snapshot, orch *orchestrator.Orchestrator) {
	fmt.Println()
	for _, id := range snap.Order {
		task := snap.Task(id)
		if task == nil {
			continue
		}
		fmt.Printf("  %s %s (%s)\n", stateSymbol(task.State), task.Name, task.ID)
		if task.Error != "" {
			fmt.Printf("      %s\n", color.RedString(task.Error))
		}
	}

	stats := orch.Synchronizer().Statistics()
	fmt.Println()
	switch snap.Status {
	case models.ConstellationCompleted:
		fmt.Printf("%s constellation completed (%d tasks)\n", color.GreenString("✓"), len(snap.Tasks))
	case models.ConstellationFailed:
		fmt.Printf("%s constellation failed\n", color.RedString("✗"))
	default:
		fmt.Printf("%s constellation did not drain\n", color.YellowString("⚠"))
	}
	if stats.Registered > 0 {
		fmt.Printf("  modifications: %d resolved, %d timed out\n", stats.Resolved, stats.TimedOut)
	}
}

func stateSymbol(s models.TaskState) string {
	switch s {
	case models.TaskCompleted:
		return color.GreenString("✓")
	case models.TaskFailed:
		return color.RedString("✗")
	case models.TaskRunning:
		return color.YellowString("…")
	default:
		return color.WhiteString("·")
	}
}
