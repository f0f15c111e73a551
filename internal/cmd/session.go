package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/cadencectl/cadence/internal/control"
	"github.com/cadencectl/cadence/internal/output"
)

var sessionResetYes bool

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and recover the worker session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the persisted session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPlane(cmd.Context(), func(plane *control.Plane) error {
			report, err := plane.Status(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd, func(f output.Formatter) (string, error) {
				return f.FormatSession(report.Session)
			})
		})
	},
}

var sessionAckCmd = &cobra.Command{
	Use:   "ack",
	Short: "Acknowledge a crashed session so the worker may resume",
	Long: `Ack clears a pending crash. A session still flagged as running is treated
as an unclean shutdown and acknowledged too, so do not run this while a
worker is active.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPlane(cmd.Context(), func(plane *control.Plane) error {
			session := plane.Controller.AcknowledgeCrash(cmd.Context())
			return render(cmd, func(f output.Formatter) (string, error) {
				return f.FormatSession(session)
			})
		})
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Start a new session with zeroed counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !sessionResetYes {
			return errors.New("session reset requires --yes")
		}
		return withPlane(cmd.Context(), func(plane *control.Plane) error {
			session := plane.Controller.ResetSession(cmd.Context())
			return render(cmd, func(f output.Formatter) (string, error) {
				return f.FormatSession(session)
			})
		})
	},
}

func init() {
	sessionResetCmd.Flags().BoolVar(&sessionResetYes, "yes", false, "confirm the reset")
	for _, c := range []*cobra.Command{sessionShowCmd, sessionAckCmd, sessionResetCmd} {
		addOutputFlags(c)
		sessionCmd.AddCommand(c)
	}
	rootCmd.AddCommand(sessionCmd)
}
