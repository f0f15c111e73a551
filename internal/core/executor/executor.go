package executor

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/config"
	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/core/engine"
)

// DryRun logs the action and reports success without side effects.
type DryRun struct {
	Logger *zap.Logger
}

// Perform logs the target.
func (d DryRun) Perform(ctx context.Context, target core.Target) (core.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return core.Outcome{}, err
	}
	d.logger().Info("dry-run perform",
		zap.String("target_id", target.ID),
		zap.String("url", target.URL),
		zap.String("title", target.Title))
	return core.Outcome{Success: true, Detail: "dry-run"}, nil
}

// Substitute logs the substitute action.
func (d DryRun) Substitute(ctx context.Context, target core.Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.logger().Info("dry-run substitute", zap.String("target_id", target.ID))
	return nil
}

func (d DryRun) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// New builds the executor and substituter selected by cfg.
func New(cfg config.ExecutorConfig, logger *zap.Logger) (engine.Executor, engine.Substituter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("executor")

	switch cfg.Kind {
	case "", config.ExecutorDryRun:
		d := DryRun{Logger: logger}
		return d, d, nil
	case config.ExecutorWebhook:
		if cfg.URL == "" {
			return nil, nil, fmt.Errorf("webhook executor requires executor.url")
		}
		w := &Webhook{
			URL:           cfg.URL,
			SubstituteURL: cfg.SubstituteURL,
			Headers:       cfg.Headers,
			Client:        &http.Client{Timeout: cfg.Timeout},
			Logger:        logger,
		}
		return w, w, nil
	default:
		return nil, nil, fmt.Errorf("unsupported executor kind %q", cfg.Kind)
	}
}
