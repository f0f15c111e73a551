package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadencectl/cadence/internal/control"
	"github.com/cadencectl/cadence/internal/output"
)

var windowAt string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show quota, session and window state",
	Long: `Status reads the persisted quota and session state. It does not resume
the session, so it is safe to run while a worker is active.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPlane(cmd.Context(), func(plane *control.Plane) error {
			report, err := plane.Status(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd, func(f output.Formatter) (string, error) {
				return f.FormatStatus(report)
			})
		})
	},
}

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Show whether the activity window is open",
	Long: `Window evaluates the activity window gate at the current time, or at
--at (RFC3339). Window edges are jittered on every evaluation, so repeated
calls near an edge may disagree.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		at := time.Now()
		if windowAt != "" {
			parsed, err := time.Parse(time.RFC3339, windowAt)
			if err != nil {
				return fmt.Errorf("invalid --at %q: %w", windowAt, err)
			}
			at = parsed
		}
		return withPlane(cmd.Context(), func(plane *control.Plane) error {
			report := plane.Window(at)
			return render(cmd, func(f output.Formatter) (string, error) {
				return f.FormatWindow(report)
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(windowCmd)

	windowCmd.Flags().StringVar(&windowAt, "at", "", "evaluate at this RFC3339 time instead of now")
	addOutputFlags(statusCmd)
	addOutputFlags(windowCmd)
}
