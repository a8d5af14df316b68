package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"solwatch/internal/components/chrono"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/config"
	"solwatch/internal/lockfile"
	"solwatch/internal/metrics"
	"solwatch/internal/scheduler"
	"solwatch/lib/dumputil"
	libtelemetry "solwatch/lib/telemetry"

	"github.com/spf13/cobra"
)

var runFlags struct {
	url         string
	interval    int
	dataDir     string
	fetcher     string
	extractor   string
	metricsAddr string
	once        bool
	dryRun      bool
}

func init() {
	flags := runCmd.Flags()
	flags.StringVar(&runFlags.url, "url", "", "The page to poll.")
	flags.IntVar(&runFlags.interval, "interval", 0, "Seconds between the start of two cycles.")
	flags.StringVar(&runFlags.dataDir, "data-dir", "", "The directory holding the seen set and the lock file.")
	flags.StringVar(&runFlags.fetcher, "fetcher", "", "browser or http.")
	flags.StringVar(&runFlags.extractor, "extractor", "", "transactions or kol.")
	flags.StringVar(&runFlags.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090.")
	flags.BoolVar(&runFlags.once, "once", false, "Run a single cycle and exit, the exit code reflects its outcome.")
	flags.BoolVar(&runFlags.dryRun, "dry-run", false, "Print notifications instead of posting them.")
	rootCmd.AddCommand(runCmd)
}

func runOverrides(cmd *cobra.Command) config.Override {
	flags := cmd.Flags()
	return func(c *config.Config) {
		if flags.Changed("url") {
			c.URL = runFlags.url
		}
		if flags.Changed("interval") {
			c.IntervalSeconds = runFlags.interval
		}
		if flags.Changed("data-dir") {
			c.DataDir = runFlags.dataDir
		}
		if flags.Changed("fetcher") {
			c.Fetcher.Kind = runFlags.fetcher
		}
		if flags.Changed("extractor") {
			c.Extractor.Kind = runFlags.extractor
		}
		if flags.Changed("metrics-addr") {
			c.MetricsAddr = runFlags.metricsAddr
		}
		if flags.Changed("dry-run") {
			c.DryRun = runFlags.dryRun
		}
	}
}

var runCmd = &cobra.Command{
	Use:   "run [--url <page>] [--interval <seconds>] [--once]",
	Short: "Polls the page and notifies about activity that was not seen before.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(configPath, runOverrides(cmd))
		if err != nil {
			return err
		}

		lock, err := lockfile.Acquire(cfg.DataDir)
		if err != nil {
			return err
		}
		defer lock.Release()

		tel := telemetry.SlogAPI{}
		p, err := buildPipeline(ctx, cfg, tel)
		if err != nil {
			return err
		}
		defer p.Close()

		libtelemetry.InstrumentPerfStats(ctx)

		m := metrics.New()
		options := []scheduler.Option{
			scheduler.WithClock(p.clock),
			scheduler.WithCustomTelemetryAPI(tel),
			scheduler.WithMetrics(m),
		}
		if p.volume != nil {
			options = append(options, scheduler.WithVolumeRule(p.volume))
		}
		if cfg.MismatchDumps > 0 {
			dumps, err := dumputil.NewFilesystemOutput(cfg.MismatchDir(), cfg.MismatchDumps)
			if err != nil {
				return err
			}
			options = append(options, scheduler.WithMismatchDump(dumps))
		}
		s := scheduler.New(scheduler.Config{
			URL:         cfg.URL,
			Interval:    cfg.Interval(),
			NotifyKinds: cfg.NotifyKinds(),
		}, p.fetcher, p.extractor, p.store, p.notifier, options...)

		if cfg.MetricsAddr != "" {
			server := metrics.NewServer(cfg.MetricsAddr, m)
			go func() {
				err := server.Serve()
				if err != nil {
					slog.Error("metrics server stopped", "err", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				server.Shutdown(shutdownCtx)
			}()
		}

		slog.Info(
			"monitoring",
			"url", cfg.URL,
			"interval", cfg.Interval(),
			"fetcher", cfg.Fetcher.Kind,
			"extractor", cfg.Extractor.Kind,
			"seen", p.store.Len(),
		)

		if cfg.Store.RetentionDays > 0 {
			pruned, err := p.store.Prune(ctx, p.clock.Now().Add(-cfg.Retention()))
			if err != nil {
				return err
			}
			if pruned > 0 {
				slog.Info("pruned seen ids", "count", pruned, "retention_days", cfg.Store.RetentionDays)
			}
		}

		if runFlags.once {
			result, err := s.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("cycle %s: %s: %w", result.ID, result.Outcome, err)
			}
			return nil
		}

		err = s.Run(ctx, chrono.NewStandardCron(tel, p.clock))
		if err != nil {
			return err
		}
		slog.Info("stopped")
		return nil
	},
}
