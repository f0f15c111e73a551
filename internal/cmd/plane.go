package cmd

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/config"
	"github.com/cadencectl/cadence/internal/control"
	"github.com/cadencectl/cadence/internal/observability"
)

// openPlane builds the worker logger and the control plane for cfg. The
// returned cleanup closes the state backend, then flushes the logger.
func openPlane(ctx context.Context, cfg *config.Config, opts control.Options) (*control.Plane, func(), error) {
	logger, closer, err := observability.NewWorkerLogger(config.AppName, cfg.Logging, verbose)
	if err != nil {
		return nil, nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}

	plane, err := control.Open(ctx, cfg, opts)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := plane.Close(); err != nil {
			logger.Warn("close state backend", zap.Error(err))
		}
		_ = closer.Close()
	}
	return plane, cleanup, nil
}

// withPlane loads config and runs fn against an open plane.
func withPlane(ctx context.Context, fn func(*control.Plane) error) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	plane, cleanup, err := openPlane(ctx, cfg, control.Options{})
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(plane)
}

// ignoreCanceled treats context cancellation as a clean stop.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
