package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/killswitch/internal/action"
	"github.com/hugo-lorenzo-mato/killswitch/internal/api"
	"github.com/hugo-lorenzo-mato/killswitch/internal/config"
	"github.com/hugo-lorenzo-mato/killswitch/internal/events"
	"github.com/hugo-lorenzo-mato/killswitch/internal/handler"
	"github.com/hugo-lorenzo-mato/killswitch/internal/host/process"
	"github.com/hugo-lorenzo-mato/killswitch/internal/incident"
	"github.com/hugo-lorenzo-mato/killswitch/internal/logging"
	"github.com/hugo-lorenzo-mato/killswitch/internal/metrics"
	"github.com/hugo-lorenzo-mato/killswitch/internal/watch"
)

// finalizeTimeout bounds the wait for the incident to be persisted after
// the target was killed.
const finalizeTimeout = 10 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a JVM and kill it on persistent resource exhaustion",
	Long: `Watch a JVM process and escalate when resource exhaustion persists.

Notifications arrive from any combination of:
  - the resource monitor (--memory-limit-mb, --thread-limit)
  - files created in a drop directory (--drop-dir), e.g. "heap.oom"
  - the HTTP API (--listen), POST /api/v1/notifications

Examples:
  # Kill on the third heap exhaustion within ten seconds
  killswitch watch --pid 4242 --listen 127.0.0.1:7070 --options time=10,count=2

  # Poll the process and treat 2 GiB RSS as heap exhaustion
  killswitch watch --pid 4242 --memory-limit-mb 2048 --options printHeapHistogram=1`,
	RunE: runWatch,
}

var watchOptions string

func init() {
	rootCmd.AddCommand(watchCmd)

	f := watchCmd.Flags()
	f.Int("pid", 0, "process to watch (0 = killswitch itself)")
	f.String("jcmd", "jcmd", "jcmd executable used for heap dumps")
	f.Int("memory-limit-mb", 0, "RSS at which the monitor reports heap exhaustion (0 disables)")
	f.Int("thread-limit", 0, "thread count at which the monitor reports thread exhaustion (0 disables)")
	f.String("interval", "1s", "monitor polling interval")
	f.String("drop-dir", "", "directory watched for notification files")
	f.String("listen", "127.0.0.1:7070", "HTTP API address (empty disables)")
	f.StringVar(&watchOptions, "options", "",
		"agent option string, e.g. time=10,count=2,printHeapHistogram=1")

	_ = viper.BindPFlag("target.pid", f.Lookup("pid"))
	_ = viper.BindPFlag("target.jcmd", f.Lookup("jcmd"))
	_ = viper.BindPFlag("target.memory_limit_mb", f.Lookup("memory-limit-mb"))
	_ = viper.BindPFlag("target.thread_limit", f.Lookup("thread-limit"))
	_ = viper.BindPFlag("watch.interval", f.Lookup("interval"))
	_ = viper.BindPFlag("watch.drop_dir", f.Lookup("drop-dir"))
	_ = viper.BindPFlag("watch.listen", f.Lookup("listen"))
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyOptions(cfg, watchOptions); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target := process.FromConfig(cfg.Target, logger)
	if _, err := target.Sample(ctx); err != nil {
		return fmt.Errorf("target process %d: %w", target.PID, err)
	}
	return watchTarget(ctx, cfg, target, logger)
}

// applyOptions overlays an agent option string on cfg and revalidates it.
func applyOptions(cfg *config.Config, s string) error {
	if s == "" {
		return nil
	}
	opts, err := config.ParseOptions(s)
	if err != nil {
		return err
	}
	opts.Apply(cfg)
	return config.ValidateConfig(cfg)
}

// watchTarget runs every configured notification source against one
// handler until the target is killed, exits or ctx ends.
func watchTarget(ctx context.Context, cfg *config.Config, target *process.Target, logger *logging.Logger) error {
	bus := events.New(100)
	defer bus.Close()

	var store *incident.Store
	if cfg.Incidents.DBPath != "" {
		s, err := incident.NewStore(cfg.Incidents.DBPath)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}
	var reports *incident.ReportWriter
	if cfg.Incidents.ReportDir != "" {
		reports = incident.NewReportWriter(cfg.Incidents.ReportDir, 0, logger)
	}

	collector := metrics.NewCollector(bus)
	h := handler.New(cfg, target, action.Deps{Signaler: target, Logger: logger},
		handler.WithEventBus(bus),
		handler.WithPID(int(target.PID)))

	monitor := watch.NewMonitor(target, h, watch.MonitorConfig{
		Interval:         cfg.Watch.IntervalDuration(),
		MemoryLimitBytes: target.MemoryLimit,
		ThreadLimit:      target.ThreadLimit,
	}, logger)
	recorder := incident.NewRecorder(store, reports, logger, incident.WithHistory(monitor))

	monitorEnabled := target.MemoryLimit > 0 || target.ThreadLimit > 0
	if !monitorEnabled && cfg.Watch.DropDir == "" && cfg.Watch.Listen == "" {
		return errors.New("no notification source configured: set a limit, a drop directory or a listen address")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	metricsCh := bus.Subscribe()
	g.Go(func() error {
		collector.Run(gctx, metricsCh)
		return nil
	})
	recorderCh := bus.SubscribePriority(incident.RecordedTypes...)
	g.Go(func() error {
		recorder.Run(gctx, recorderCh)
		return nil
	})

	if monitorEnabled {
		g.Go(func() error { return monitor.Run(gctx) })
	}
	if cfg.Watch.DropDir != "" {
		drop := watch.NewDropWatcher(cfg.Watch.DropDir, h, logger)
		g.Go(func() error { return drop.Run(gctx) })
	}
	if cfg.Watch.Listen != "" {
		opts := []api.ServerOption{
			api.WithLogger(logger.Logger),
			api.WithEventBus(bus),
			api.WithMetrics(collector.Handler()),
			api.WithCORSOrigins(cfg.API.CORSOrigins),
		}
		if store != nil {
			opts = append(opts, api.WithIncidents(store))
		}
		server := api.NewServer(h, opts...)
		g.Go(func() error { return server.ListenAndServe(gctx, cfg.Watch.Listen) })
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-h.Done():
		}
		select {
		case inc := <-recorder.Finalized():
			logger.Debug("incident persisted, shutting down", "incident", inc.ID)
		case <-time.After(finalizeTimeout):
			logger.Warn("incident was not recorded in time")
		case <-gctx.Done():
		}
		cancel()
		return nil
	})

	return g.Wait()
}
