package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cadencectl/cadence/internal/control"
	"github.com/cadencectl/cadence/internal/output"
)

var (
	quotaResetYes     bool
	quotaBackoffForce bool
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and reset the daily quota",
}

var quotaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show today's quota progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPlane(cmd.Context(), func(plane *control.Plane) error {
			progress := plane.Quota.Progress()
			return render(cmd, func(f output.Formatter) (string, error) {
				return f.FormatQuota(progress)
			})
		})
	},
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero today's action count and clear backoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !quotaResetYes {
			return errors.New("quota reset requires --yes")
		}
		return withPlane(cmd.Context(), func(plane *control.Plane) error {
			plane.Quota.Reset(cmd.Context())
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Quota reset")
			return err
		})
	},
}

var quotaResetBackoffCmd = &cobra.Command{
	Use:   "reset-backoff",
	Short: "Restore normal pacing after a rate-limit backoff",
	Long: `Reset-backoff clears the backoff multiplier once the cooldown since the
last rate-limit detection has elapsed. --force clears it immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPlane(cmd.Context(), func(plane *control.Plane) error {
			out := cmd.OutOrStdout()
			if quotaBackoffForce {
				plane.Quota.ClearBackoff(cmd.Context())
				_, err := fmt.Fprintln(out, "Backoff cleared")
				return err
			}
			if plane.Quota.ResetBackoffIfSafe(cmd.Context()) {
				_, err := fmt.Fprintln(out, "Backoff cleared")
				return err
			}
			progress := plane.Quota.Progress()
			_, err := fmt.Fprintf(out, "Backoff kept at x%.2f (cooldown not elapsed or not backed off)\n", progress.BackoffMultiplier)
			return err
		})
	},
}

func init() {
	quotaResetCmd.Flags().BoolVar(&quotaResetYes, "yes", false, "confirm the reset")
	quotaResetBackoffCmd.Flags().BoolVar(&quotaBackoffForce, "force", false, "clear backoff without waiting for the cooldown")
	addOutputFlags(quotaShowCmd)

	quotaCmd.AddCommand(quotaShowCmd)
	quotaCmd.AddCommand(quotaResetCmd)
	quotaCmd.AddCommand(quotaResetBackoffCmd)
	rootCmd.AddCommand(quotaCmd)
}
