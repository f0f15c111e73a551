package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/config"
	"github.com/cadencectl/cadence/internal/control"
	"github.com/cadencectl/cadence/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Run a self-health check: the configuration loads and validates, the
state backend opens and the persisted session is not waiting on a crash
acknowledgement.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSelfCheck(cmd.Context(), cmd.OutOrStdout())
	},
}

type selfCheck struct {
	name string
	err  error
	note string
}

func runSelfCheck(ctx context.Context, out io.Writer) error {
	var checks []selfCheck
	failed := false
	report := func() error {
		lines := []string{"cadence self-check", ""}
		for _, c := range checks {
			switch {
			case c.err != nil:
				lines = append(lines, fmt.Sprintf("FAIL  %-8s %v", c.name, c.err))
			case c.note != "":
				lines = append(lines, fmt.Sprintf("WARN  %-8s %s", c.name, c.note))
			default:
				lines = append(lines, "OK    "+c.name)
			}
		}
		_, _ = fmt.Fprint(out, ascii.DrawBox(strings.Join(lines, "\n"), 0))
		if failed {
			return errors.New("health check failed")
		}
		return nil
	}

	cfg, err := loadConfig(ctx)
	checks = append(checks, selfCheck{name: "config", err: err})
	if err != nil {
		failed = true
		return report()
	}

	plane, cleanup, err := openPlane(ctx, cfg, control.Options{})
	checks = append(checks, selfCheck{name: "store", err: err})
	if err != nil {
		failed = true
		return report()
	}
	defer cleanup()

	status, err := plane.Status(ctx)
	session := selfCheck{name: "session", err: err}
	switch {
	case err != nil:
		failed = true
	case status.Session.Crashed:
		session.note = "crashed (" + status.Session.CrashReason + "); run \"cadence session ack\""
	case status.Session.Running:
		session.note = "marked running; a worker is active or exited uncleanly"
	}
	checks = append(checks, session)

	window := plane.Window(time.Now())
	gate := selfCheck{name: "window"}
	if window.Vacation {
		gate.note = "vacation mode is enabled"
	}
	checks = append(checks, gate)

	if versionInfo.Version == "" {
		checks = append(checks, selfCheck{name: "version", note: "version information missing"})
	}

	if observability.CLILogger != nil {
		observability.CLILogger.Debug("Self-check finished",
			zap.String("store", cfg.Store.Driver),
			zap.String("config", config.ConfigFileUsed(config.LoadOptions{ConfigFile: cfgFile})))
	}
	return report()
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
