package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadencectl/cadence/internal/control"
	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/output"
)

var (
	eventsCategory  string
	eventsSince     string
	eventsLimit     int
	eventsOlderThan time.Duration
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Browse the control record log",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List control records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := parseSince(eventsSince, time.Now())
		if err != nil {
			return err
		}
		category, err := parseCategory(eventsCategory)
		if err != nil {
			return err
		}
		return withPlane(cmd.Context(), func(plane *control.Plane) error {
			records, err := plane.Events(cmd.Context(), category, since, eventsLimit)
			if err != nil {
				return err
			}
			return render(cmd, func(f output.Formatter) (string, error) {
				return f.FormatEvents(records)
			})
		})
	},
}

var eventsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete control records older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventsOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		return withPlane(cmd.Context(), func(plane *control.Plane) error {
			if plane.Store == nil {
				return control.ErrNoEventLog
			}
			deleted, err := plane.Store.PruneEvents(cmd.Context(), time.Now().Add(-eventsOlderThan))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d record(s)\n", deleted)
			return err
		})
	},
}

// parseSince accepts an RFC3339 time or a duration back from now.
func parseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC3339 or a positive duration like 24h", raw)
	}
	return now.Add(-d), nil
}

var recordCategories = []core.RecordCategory{
	core.CategoryQuota,
	core.CategoryBackoff,
	core.CategorySession,
	core.CategoryAction,
	core.CategorySkip,
	core.CategoryBehavior,
	core.CategoryAnomaly,
	core.CategoryHealth,
}

func parseCategory(raw string) (string, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	for _, c := range recordCategories {
		if string(c) == raw {
			return raw, nil
		}
	}
	names := make([]string, 0, len(recordCategories))
	for _, c := range recordCategories {
		names = append(names, string(c))
	}
	return "", fmt.Errorf("unknown category %q (want one of %s)", raw, strings.Join(names, ", "))
}

func init() {
	eventsListCmd.Flags().StringVar(&eventsCategory, "category", "", "only records of this category")
	eventsListCmd.Flags().StringVar(&eventsSince, "since", "", "only records after this RFC3339 time or duration ago (e.g. 24h)")
	eventsListCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 50, "maximum records to list")
	addOutputFlags(eventsListCmd)
	eventsPruneCmd.Flags().DurationVar(&eventsOlderThan, "older-than", 30*24*time.Hour, "retention window")

	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsPruneCmd)
	rootCmd.AddCommand(eventsCmd)
}
