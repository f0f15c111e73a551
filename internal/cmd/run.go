package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/config"
	"github.com/cadencectl/cadence/internal/control"
	"github.com/cadencectl/cadence/internal/core/engine"
	apperrors "github.com/cadencectl/cadence/internal/errors"
	"github.com/cadencectl/cadence/internal/output"
	"github.com/cadencectl/cadence/internal/source"
)

var (
	runTargets           string
	runAck               bool
	runDryRun            bool
	runExitWhenExhausted bool
	runResearch          bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker over a target list",
	Long: `Run the worker over a YAML or JSON target list ("-" reads stdin).

The worker waits for activity windows, spaces actions with the quota
delays, injects pauses and breaks, and stops when the list is exhausted.
When the daily limit is reached it sleeps until the next window unless
--exit-when-exhausted is set.

A previous session that did not shut down cleanly must be acknowledged
first, either with --ack or with "cadence session ack".

Ctrl+C (SIGINT) or SIGTERM stops the worker after the current step and
saves the session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		applyRunFlags(cmd, cfg)
		if cfg.Worker.Targets == "" {
			return errors.New("no targets: pass --targets or set worker.targets")
		}

		src, err := source.Load(cfg.Worker.Targets)
		if err != nil {
			return err
		}

		plane, cleanup, err := openPlane(ctx, cfg, control.Options{})
		if err != nil {
			return err
		}
		defer cleanup()

		plane.Logger.Info("targets loaded",
			zap.String("path", cfg.Worker.Targets),
			zap.Int("count", src.Remaining()))

		done := make(chan struct{})
		listenForShutdown(ctx, cancel, done, cfg.Server.ShutdownTimeout, plane.Logger)

		err = runWorker(ctx, plane, src, runAck)
		close(done)
		if err != nil {
			return err
		}

		return render(cmd, func(f output.Formatter) (string, error) {
			report, err := plane.Status(context.WithoutCancel(ctx))
			if err != nil {
				return "", err
			}
			return f.FormatStatus(report)
		})
	},
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("targets") {
		cfg.Worker.Targets = runTargets
	}
	if flags.Changed("exit-when-exhausted") {
		cfg.Worker.ExitWhenExhausted = runExitWhenExhausted
	}
	if flags.Changed("research") {
		cfg.Worker.Research = runResearch
	}
	if runDryRun {
		cfg.Executor.Kind = config.ExecutorDryRun
	}
}

// runWorker resumes the session and drives the controller until src is
// exhausted. Vacation mode and cancellation are clean stops.
func runWorker(ctx context.Context, plane *control.Plane, src engine.TargetSource, ack bool) error {
	session, err := plane.Controller.Resume(ctx)
	if errors.Is(err, apperrors.ErrCrashUnacknowledged) {
		if !ack {
			return fmt.Errorf("%w (reason: %s); run \"cadence session ack\" or pass --ack", err, session.CrashReason)
		}
		session = plane.Controller.AcknowledgeCrash(ctx)
	} else if err != nil {
		return err
	}

	plane.MarkLive()
	plane.Logger.Info("session resumed",
		zap.String("session_id", session.SessionID),
		zap.Int("actions", session.ActionsCount))

	err = plane.Controller.Run(ctx, src)
	if errors.Is(err, apperrors.ErrVacation) {
		plane.Logger.Info("vacation mode is enabled, worker stopped")
		return nil
	}
	return ignoreCanceled(err)
}

// listenForShutdown cancels the worker on SIGINT or SIGTERM and holds the
// shutdown until done closes, so the session is saved as stopped.
func listenForShutdown(ctx context.Context, cancel context.CancelFunc, done <-chan struct{}, timeout time.Duration, logger *zap.Logger) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	signals.OnShutdown(func(context.Context) error {
		logger.Info("shutdown requested, stopping worker")
		cancel()
		select {
		case <-done:
			return nil
		case <-time.After(timeout):
			return fmt.Errorf("worker did not stop within %s", timeout)
		}
	})

	go func() {
		if err := signals.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("signal listener stopped", zap.Error(err))
		}
	}()
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runTargets, "targets", "t", "", "target list file (YAML or JSON, - for stdin)")
	runCmd.Flags().BoolVar(&runAck, "ack", false, "acknowledge a previous crash and continue")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "use the dry-run executor regardless of config")
	runCmd.Flags().BoolVar(&runExitWhenExhausted, "exit-when-exhausted", false, "stop instead of sleeping when the daily limit is reached")
	runCmd.Flags().BoolVar(&runResearch, "research", false, "simulate reading each target before acting")
	addOutputFlags(runCmd)
}
