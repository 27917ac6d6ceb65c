package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/teranos/vclean/am"
	"github.com/teranos/vclean/cleaner"
	"github.com/teranos/vclean/logger"
	"github.com/teranos/vclean/pulse/schedule"
	"github.com/teranos/vclean/sym"
)

// PulseCmd represents the pulse command - the scheduler daemon
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the cleaner scheduler",
	Long: sym.Pulse + ` Pulse — the cleaner scheduler.

On every tick Pulse lists the Queued cleaner jobs whose next run has come
and invokes them one after another, rate limited. Each invocation is
recorded in the execution history.

Example:
  vclean pulse start            # Start daemon in foreground
  vclean pulse tick             # Run every due job once and exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the Pulse daemon
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	Long: `Start the Pulse daemon in foreground mode.

The daemon will:
- Tick on pulse.tick_schedule and invoke due cleaner jobs
- Serve Prometheus metrics on pulse.metrics_addr when set
- Apply [cleaner] changes from the config file without a restart
- Run until interrupted (Ctrl+C), finishing the current invocation`,
	Args: cobra.NoArgs,
	RunE: runPulseStart,
}

// PulseTickCmd runs a single tick
var PulseTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Invoke every due cleaner job once and exit",
	Args:  cobra.NoArgs,
	RunE:  runPulseTick,
}

func init() {
	PulseCmd.AddCommand(PulseStartCmd)
	PulseCmd.AddCommand(PulseTickCmd)
}

func tickerConfig(cfg *am.Config) schedule.TickerConfig {
	tickerCfg := schedule.DefaultTickerConfig()
	tickerCfg.Schedule = cfg.Pulse.TickSchedule
	tickerCfg.MaxInvocationsPerSecond = cfg.Pulse.MaxInvocationsPerSecond
	return tickerCfg
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	openLog := logger.AddPulseOpenSymbol(logger.Logger)
	closeLog := logger.AddPulseCloseSymbol(logger.Logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := cleaner.NewMetrics(registry)

	a, err := openApp(ctx, metrics)
	if err != nil {
		return err
	}
	defer a.Close()

	tickerCfg := tickerConfig(a.cfg)
	ticker, err := schedule.NewTickerWithContext(ctx, a.jobs, a.runner, schedule.NewExecutionStore(a.db), tickerCfg, logger.Logger)
	if err != nil {
		return err
	}

	var metricsServer *http.Server
	if addr := a.cfg.Pulse.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorw("Metrics server failed", logger.FieldError, err)
			}
		}()
	}

	watcher := startConfigWatcher(a)
	ticker.Start()

	openLog.Infow("Pulse daemon started",
		"schedule", tickerCfg.Schedule,
		"max_invocations_per_second", tickerCfg.MaxInvocationsPerSecond,
		"metrics_addr", a.cfg.Pulse.MetricsAddr)

	fmt.Printf("%s Pulse daemon started\n", sym.PulseOpen)
	fmt.Printf("  Schedule:        %s\n", tickerCfg.Schedule)
	fmt.Printf("  Max invocations: %.1f/s\n", tickerCfg.MaxInvocationsPerSecond)
	fmt.Printf("  Record type:     %s (keep %d)\n", a.cfg.Cleaner.DefaultRecordType, a.cfg.Cleaner.VersionsToKeep)
	if metricsServer != nil {
		fmt.Printf("  Metrics:         http://%s/metrics\n", a.cfg.Pulse.MetricsAddr)
	}
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Printf("\n%s Shutting down...\n", sym.PulseClose)

	// Stop components in reverse order of startup
	ticker.Stop()
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			closeLog.Warnw("Failed to stop config watcher", logger.FieldError, err)
		}
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			closeLog.Warnw("Failed to stop metrics server", logger.FieldError, err)
		}
	}

	cancel()

	closeLog.Infow("Pulse daemon stopped", "stats", ticker.GetStats())
	fmt.Printf("%s Pulse daemon stopped\n", sym.PulseClose)
	return nil
}

// startConfigWatcher reloads cleaner defaults when the config file changes.
// Returns nil when there is no file to watch.
func startConfigWatcher(a *app) *am.ConfigWatcher {
	path := ConfigFile
	if path == "" {
		path = am.ActiveConfigPath()
	}
	if path == "" {
		return nil
	}

	watcher, err := am.NewConfigWatcher(path, logger.Logger)
	if err != nil {
		logger.Warnw("Config hot reload disabled", logger.FieldPath, path, logger.FieldError, err)
		return nil
	}

	current := a.cfg
	watcher.OnReload(func(cfg *am.Config) error {
		a.runner.SetDefaults(cfg.Cleaner.Defaults())
		logger.Infow("Cleaner defaults reloaded",
			logger.FieldRecordType, cfg.Cleaner.DefaultRecordType,
			logger.FieldKeepCount, cfg.Cleaner.VersionsToKeep)

		if cfg.Target != current.Target || !reflect.DeepEqual(cfg.Schema, current.Schema) || cfg.Pulse != current.Pulse {
			logger.Warnw("Target, schema and pulse settings changed; restart to apply them", logger.FieldPath, path)
		}
		return nil
	})

	am.SetGlobalWatcher(watcher)
	watcher.Start()
	return watcher
}

func runPulseTick(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ticker, err := schedule.NewTicker(a.jobs, a.runner, schedule.NewExecutionStore(a.db), tickerConfig(a.cfg), logger.Logger)
	if err != nil {
		return err
	}

	if err := ticker.Tick(ctx, time.Now()); err != nil {
		return err
	}

	stats := ticker.GetStats()
	fmt.Printf("%s Invoked %d cleaner job(s)\n", sym.Pulse, stats["invocations"])
	return nil
}
