package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/cadencectl/cadence/internal/control"
	"github.com/cadencectl/cadence/internal/output"
	"github.com/cadencectl/cadence/internal/source"
)

var evaluateTargets string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [--targets FILE]",
	Short: "Show the verdict each target would get right now",
	Long: `Evaluate runs the decision pipeline for every target without performing
any action. Quota, session and handled state are read but not changed;
behavior draws (pauses, substitutions) are random and may differ from a
real run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		path := cfg.Worker.Targets
		if cmd.Flags().Changed("targets") {
			path = evaluateTargets
		}
		if path == "" {
			return errors.New("no targets: pass --targets or set worker.targets")
		}

		src, err := source.Load(path)
		if err != nil {
			return err
		}

		plane, cleanup, err := openPlane(ctx, cfg, control.Options{})
		if err != nil {
			return err
		}
		defer cleanup()

		if err := refuseWhileRunning(ctx, plane); err != nil {
			return err
		}
		decisions, err := evaluateAll(ctx, plane, src)
		if err != nil {
			return err
		}
		return render(cmd, func(f output.Formatter) (string, error) {
			return f.FormatDecisions(decisions)
		})
	},
}

// refuseWhileRunning stops commands that would resume the session from
// racing a live worker. A stale running flag left by a crash is cleared
// with "cadence session ack".
func refuseWhileRunning(ctx context.Context, plane *control.Plane) error {
	report, err := plane.Status(ctx)
	if err != nil {
		return err
	}
	if report.Session.Running {
		return errors.New("session is marked running; stop the worker, or run \"cadence session ack\" if it crashed")
	}
	return nil
}

func evaluateAll(ctx context.Context, plane *control.Plane, src *source.Slice) ([]output.Decision, error) {
	decisions := make([]output.Decision, 0, src.Remaining())
	for {
		target, ok, err := src.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return decisions, nil
		}
		decisions = append(decisions, output.Decision{
			TargetID: target.ID,
			Verdict:  plane.Evaluate(ctx, target),
		})
	}
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&evaluateTargets, "targets", "t", "", "target list file (YAML or JSON, - for stdin)")
	addOutputFlags(evaluateCmd)
}
