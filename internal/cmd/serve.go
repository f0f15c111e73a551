package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/config"
	"github.com/cadencectl/cadence/internal/control"
	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/metrics"
	"github.com/cadencectl/cadence/internal/observability"
	"github.com/cadencectl/cadence/internal/scheduler"
	"github.com/cadencectl/cadence/internal/server"
	"github.com/cadencectl/cadence/internal/server/handlers"
	"github.com/cadencectl/cadence/internal/source"
)

var (
	serverPort   int
	serverHost   string
	serveWorker  bool
	serveTargets string
	serveAck     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status server",
	Long: `Start the HTTP status server: health probes, /status, /window, /risk,
/events, /version and a /metrics proxy to the Prometheus exporter.

With --worker the server also runs the worker over --targets in the same
process, so /status and /risk report live health, and housekeeping clears
expired backoff on its cron schedule.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-validate the config file (restart to apply changes)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serverHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = serverPort
		}
		if cmd.Flags().Changed("targets") {
			cfg.Worker.Targets = serveTargets
		}

		namespace := config.AppName
		observability.InitServerLogger(config.AppName, cfg.Logging.Level, cfg.Logging.Format, namespace)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(namespace, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return fmt.Errorf("metrics initialization failed: %w", err)
			}
		}

		var src *source.Slice
		if serveWorker {
			if cfg.Worker.Targets == "" {
				return errors.New("--worker needs targets: pass --targets or set worker.targets")
			}
			if src, err = source.Load(cfg.Worker.Targets); err != nil {
				return err
			}
		}

		plane, cleanup, err := openPlane(ctx, cfg, control.Options{})
		if err != nil {
			return err
		}
		defer cleanup()

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("metrics", cfg.Metrics.Enabled),
			zap.Int("metrics_port", observability.GetMetricsPort()),
			zap.Bool("worker", serveWorker),
			zap.String("store", cfg.Store.Driver))

		hm := handlers.NewHealthManager(versionInfo.Version)
		registerHealthChecks(hm, plane, cfg)

		srv := server.New(cfg.Server, server.Options{
			View:        plane,
			Health:      hm,
			NoEventLog:  control.ErrNoEventLog,
			MetricsPort: cfg.Metrics.Port,
		})

		var sched *scheduler.Scheduler
		if cfg.Housekeeping.Enabled {
			jobs := scheduler.Jobs{
				Health: plane.Risk,
				Snapshot: func(progress core.QuotaProgress, health core.HealthStatus) {
					metrics.SetQuota(progress)
					metrics.SetHealth(health)
					metrics.SetServerUptime(int64(srv.Uptime().Seconds()))
				},
			}
			// Only the process that owns the quota may write it back.
			jobs.Quota = readOnlyQuota{plane.Quota}
			if serveWorker {
				jobs.Quota = plane.Quota
			}
			if plane.Store != nil {
				jobs.Events = plane.Store
			}
			sched, err = scheduler.New(ctx, cfg.Housekeeping, plane.Gate.Location(), jobs, plane.Logger)
			if err != nil {
				return err
			}
			sched.Start()
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}

		workerDone := make(chan struct{})
		errChan := make(chan error, 3)

		// Shutdown handlers run last registered first: stop the worker, then
		// the HTTP server and scheduler, then flush the logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			shutdownCtx, cancelShutdown := context.WithTimeout(ctx, shutdownTimeout)
			defer cancelShutdown()

			if sched != nil {
				sched.Stop(shutdownCtx)
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			logger.Info("HTTP server stopped gracefully")
			observability.ShutdownMetrics()
			return nil
		})
		if serveWorker {
			signals.OnShutdown(func(context.Context) error {
				logger.Info("Stopping worker...")
				cancel()
				select {
				case <-workerDone:
					return nil
				case <-time.After(shutdownTimeout):
					return fmt.Errorf("worker did not stop within %s", shutdownTimeout)
				}
			})
		}

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: re-validating configuration")
			if _, err := loadConfig(ctx); err != nil {
				logger.Error("Configuration is invalid", zap.Error(err))
				return err
			}
			logger.Info("Configuration is valid; restart to apply changes")
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		if serveWorker {
			go func() {
				defer close(workerDone)
				if err := runWorker(ctx, plane, src, serveAck); err != nil {
					logger.Error("Worker stopped with error", zap.Error(err))
					errChan <- err
					return
				}
				logger.Info("Worker finished; status server keeps running")
			}()
		} else {
			close(workerDone)
		}

		go func() {
			err := signals.Listen(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
				return
			}
			errChan <- nil
		}()

		if err := <-errChan; err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	},
}

// readOnlyQuota lets a status-only server publish quota snapshots without
// ever writing quota state owned by a separate worker process.
type readOnlyQuota struct {
	limiter interface {
		Reload(ctx context.Context) error
		Progress() core.QuotaProgress
	}
}

func (q readOnlyQuota) ResetBackoffIfSafe(context.Context) bool { return false }

// Progress re-reads the persisted quota first; the last reading is kept
// when that fails.
func (q readOnlyQuota) Progress() core.QuotaProgress {
	_ = q.limiter.Reload(context.Background())
	return q.limiter.Progress()
}

func registerHealthChecks(hm *handlers.HealthManager, plane *control.Plane, cfg *config.Config) {
	if plane.Store != nil {
		hm.RegisterChecker("store", handlers.CheckFunc(func(ctx context.Context) error {
			return plane.Store.DB.PingContext(ctx)
		}))
	}
	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", handlers.CheckFunc(func(context.Context) error {
			if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
				return errors.New("telemetry system not initialized")
			}
			return nil
		}))
	}
	if serveWorker {
		hm.RegisterChecker("risk", handlers.RiskChecker{View: plane})
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
	serveCmd.Flags().BoolVar(&serveWorker, "worker", false, "also run the worker in this process")
	serveCmd.Flags().StringVarP(&serveTargets, "targets", "t", "", "target list for --worker (YAML or JSON)")
	serveCmd.Flags().BoolVar(&serveAck, "ack", false, "acknowledge a previous crash before starting the worker")
}
