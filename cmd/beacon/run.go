package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/beacon/pkg/beacon"
	"mercator-hq/beacon/pkg/cli"
	"mercator-hq/beacon/pkg/looper"
	"mercator-hq/beacon/pkg/server"
	"mercator-hq/beacon/pkg/telemetry/health"
	"mercator-hq/beacon/pkg/telemetry/metrics"
)

var runFlags struct {
	listenAddress string
	refreshRate   int
	page          string
	seed          bool
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline",
	Long: `Run the pipeline until SIGINT or SIGTERM.

A main loop drives frame timing at the refresh rate and is watched for
hangs. Configuration changes made with "beacon config" from another
process apply without a restart when the file store is used.

Examples:
  # Run with the persisted configuration
  beacon run

  # Seed the persisted configuration from a file first
  beacon run --config beacon.yaml --seed

  # Validate config without running
  beacon run --config beacon.yaml --dry-run`,
	RunE: runBeacon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override telemetry listen address")
	runCmd.Flags().IntVar(&runFlags.refreshRate, "refresh-rate", 60, "simulated display refresh rate in Hz")
	runCmd.Flags().StringVar(&runFlags.page, "page", "main", "initial page label")
	runCmd.Flags().BoolVar(&runFlags.seed, "seed", false, "persist the file configuration before starting")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without running")
}

func runBeacon(cmd *cobra.Command, args []string) error {
	cfg, err := loadBootstrap()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Telemetry.ListenAddress = runFlags.listenAddress
	}
	if runFlags.refreshRate <= 0 {
		return cli.NewConfigError("refresh-rate", "must be > 0")
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, registry)

	mainLoop := looper.New(looper.DefaultQueueSize)
	p := beacon.New(beacon.Options{
		Dir:         cfg.Storage.Dir,
		Store:       store,
		Console:     cmd.ErrOrStderr(),
		Metrics:     collector,
		Main:        mainLoop,
		RefreshRate: func() int { return runFlags.refreshRate },
		Build:       Version,
	})
	p.AddListener(&logListener{logger: slog.Default().With("component", "beacon.listener")})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := mainLoop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	initCfg := cfg
	if !runFlags.seed {
		initCfg = nil
	}
	if err := p.Init(gctx, initCfg); err != nil {
		stop()
		_ = g.Wait()
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := p.Shutdown(); err != nil {
			slog.Warn("shutdown finished with errors", "error", err)
		}
	}()

	p.SetForeground(true)
	p.SetCurrentPage(runFlags.page)
	p.Startup().MarkFullyDrawn()

	g.Go(func() error {
		driveFrames(gctx, mainLoop, p, runFlags.refreshRate)
		return nil
	})

	if addr := cfg.Telemetry.ListenAddress; addr != "" {
		checker := health.New(health.DefaultCheckTimeout)
		if err := p.RegisterHealthChecks(checker); err != nil {
			return cli.NewCommandError("run", err)
		}
		srv := server.New(server.Options{
			Addr:        addr,
			Checker:     checker,
			Version:     Version,
			Metrics:     collector.Handler(),
			MetricsPath: cfg.Telemetry.Metrics.Path,
		})
		g.Go(func() error { return srv.Start(gctx) })
		fmt.Fprintf(out, "✓ Telemetry listening on %s\n", addr)
	}

	fmt.Fprintf(out, "✓ Beacon %s running, storage at %s\n", Version, p.Dir())
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	err = g.Wait()
	p.SetForeground(false)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Beacon stopped")
	return nil
}

// driveFrames posts one frame per refresh interval to the main loop. A
// blocked main loop shows up as dropped and frozen frames.
func driveFrames(ctx context.Context, mainLoop *looper.Looper, p *beacon.Pipeline, hz int) {
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mainLoop.Post(func() { p.OnFrame(time.Now()) })
		}
	}
}

// logListener reports pipeline notifications on the diagnostics channel.
type logListener struct {
	beacon.BaseListener
	logger *slog.Logger
}

func (l *logListener) OnCrash(typ, logPath string) {
	l.logger.Error("crash report written", "type", typ, "path", logPath)
}

func (l *logListener) OnLowMemory(usedMB, maxMB int64, ratio float64) {
	l.logger.Warn("memory pressure", "used_mb", usedMB, "max_mb", maxMB, "ratio", ratio)
}

func (l *logListener) OnLowFPS(fps, maxFPS, dropped int) {
	l.logger.Debug("low frame rate", "fps", fps, "max_fps", maxFPS, "dropped", dropped)
}
