package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/roostlabs/roost/agent"
	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/logger"
	"github.com/roostlabs/roost/queue"
	"github.com/roostlabs/roost/queue/budget"
	"github.com/roostlabs/roost/queue/schedule"
	"github.com/roostlabs/roost/repos"
	"github.com/roostlabs/roost/server"
	"github.com/roostlabs/roost/sym"
	"github.com/roostlabs/roost/workspace"
)

// StartCmd runs the roost daemon
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: sym.Queue + " Run the roost daemon",
	Long: sym.Queue + ` start — Run the daemon in foreground.

The daemon runs:
- the worker pool, dispatching queued jobs through budget and rate gates
- the scheduler ticker, enqueuing recurring work when due
- the autosave watcher, debouncing filesystem changes into save jobs
- the HTTP/WebSocket API on server.listen_addr

It holds the workspace lock while running, so cron-driven
'roost queue process' skips its runs instead of double-dispatching.
Shutdown is graceful: running jobs checkpoint before exit, and a second
Ctrl+C forces it.

Examples:
  roost start               # Run with configured workers
  roost start --workers 3   # Override the worker count`,
	RunE: runStart,
}

var startWorkers int

func init() {
	StartCmd.Flags().IntVar(&startWorkers, "workers", 0, "Number of concurrent workers (0 = config value)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// The daemon defaults to Info so operators see job flow.
	verbosity, _ := cmd.Flags().GetCount("verbosity")
	if verbosity == 0 {
		verbosity = 1
		if err := logger.Initialize(cfg.Logging.JSON, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ws := workspace.New(cfg)
	if err := ws.Ensure(); err != nil {
		return errors.Wrap(err, "failed to create workspace directories")
	}

	lock, err := workspace.AcquireLock(ws.LockPath())
	if err != nil {
		if errors.IsLockedError(err) {
			return errors.WithHint(err, "is another 'roost start' or 'roost queue process' running?")
		}
		return err
	}
	defer lock.Release()

	printStartupBanner(verbosity, cfg, resolvedDatabasePath())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := buildJobRuntime(cfg, database, ws)

	poolCfg := queue.PoolConfigFromAM(cfg)
	if startWorkers > 0 {
		poolCfg.Workers = startWorkers
	}
	tracker := budget.NewTracker(database, budget.ConfigFromAM(cfg))
	limiter := budget.NewLimiter(cfg.Queue.MaxDispatchPerMinute)
	pool := queue.NewWorkerPoolWithRegistry(ctx, database, cfg, poolCfg, logger.Logger, rt.registry, tracker, limiter)

	scheduleStore := schedule.NewStore(database)
	if err := schedule.EnsureSeedJobs(scheduleStore, cfg, logger.Logger); err != nil {
		logger.Warnw("Failed to seed scheduled jobs", "error", err)
	}

	// The server broadcasts schedule executions, so it is built before the
	// ticker and handed the ticker afterwards.
	srv := server.New(cfg, database, pool.GetQueue(), pool, nil, ws, logger.Logger)
	tickerCfg := schedule.TickerConfigFromAM(cfg)
	ticker := schedule.NewTickerWithContext(ctx, scheduleStore, pool.GetQueue(), pool, srv, tickerCfg, logger.Logger)
	srv.SetTicker(ticker)

	autosaver := repos.NewAutosaver(pool.GetQueue(), rt.manager.Store(), cfg, logger.Logger)

	pool.Start()
	ticker.Start()
	if err := autosaver.Start(ctx); err != nil {
		logger.Warnw("Autosave watcher failed to start", "error", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	fmt.Printf("%s roost daemon started\n", sym.Queue)
	fmt.Printf("  Workers: %d\n", poolCfg.Workers)
	fmt.Printf("  Poll interval: %v\n", poolCfg.PollInterval)
	fmt.Printf("  Budgets: $%.2f/day $%.2f/week $%.2f/month\n",
		cfg.Queue.DailyBudgetUSD, cfg.Queue.WeeklyBudgetUSD, cfg.Queue.MonthlyBudgetUSD)
	fmt.Printf("  Scheduler interval: %v\n", tickerCfg.Interval)
	fmt.Printf("  Listen: http://%s\n", cfg.GetListenAddr())
	if cfg.Autosave.Enabled {
		fmt.Printf("  Autosave: on (debounce %dms)\n", cfg.Autosave.DebounceMs)
	} else {
		fmt.Printf("  Autosave: off\n")
	}
	fmt.Printf("  Lock: %s (pid %d)\n", lock.Path(), lock.PID())
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Queue)

	pingGateway(ctx, cfg)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		// Stop components in reverse order of startup.
		shutdownDone := make(chan error, 1)
		go func() {
			ticker.Stop()
			autosaver.Stop()
			pool.Stop()
			shutCtx, shutCancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
			defer shutCancel()
			shutdownDone <- srv.Shutdown(shutCtx)
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				pterm.Warning.Printf("Shutdown finished with error: %v\n", err)
			} else {
				pterm.Success.Println("roost daemon stopped")
			}
		case <-sigChan:
			pterm.Warning.Println("Forced shutdown")
			lock.Release()
			os.Exit(1)
		}
	}

	return nil
}

// pingGateway reports agent gateway reachability at startup. Advisory only;
// the daemon runs fine with the gateway down, jobs just retry.
func pingGateway(ctx context.Context, cfg *am.Config) {
	if !cfg.Agent.Enabled {
		pterm.Info.Println("Agent gateway disabled; prompt jobs will fail until agent.enabled is set")
		return
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()

	client := agent.NewClient(&cfg.Agent, logger.Logger)
	health, err := client.Ping(pingCtx)
	if err != nil {
		pterm.Warning.Printf("Agent gateway unreachable at %s: %v\n", cfg.Agent.BaseURL, err)
		return
	}
	if !health.Compatible {
		pterm.Warning.Printf("Agent gateway %s is older than agent.min_gateway_version %s\n",
			health.Version, cfg.Agent.MinGatewayVersion)
		return
	}
	pterm.Success.Printf("Agent gateway reachable (%s, version %s)\n", health.Status, health.Version)
}
