package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencectl/cadence/internal/control"
	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/core/statefile"
	apperrors "github.com/cadencectl/cadence/internal/errors"
	"github.com/cadencectl/cadence/internal/output"
)

// writeConfig points the file driver at a temp state dir.
func writeConfig(t *testing.T) (configPath, stateDir string) {
	t.Helper()
	dir := t.TempDir()
	stateDir = filepath.Join(dir, "state")
	configPath = filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("store:\n  driver: file\n  state_dir: %q\nlogging:\n  level: error\n", stateDir)
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o600))
	return configPath, stateDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile, overrides, windowAt = "", nil, ""
	quotaResetYes, quotaBackoffForce, sessionResetYes = false, false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseOverrides(t *testing.T) {
	values, err := parseOverrides([]string{"quota.daily_limit=20", " Schedule.Vacation = true "})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"quota.daily_limit": "20",
		"schedule.vacation": "true",
	}, values)

	values, err = parseOverrides(nil)
	require.NoError(t, err)
	assert.Nil(t, values)

	_, err = parseOverrides([]string{"quota.daily_limit"})
	assert.Error(t, err)
	_, err = parseOverrides([]string{"=5"})
	assert.Error(t, err)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

	since, err := parseSince("", now)
	require.NoError(t, err)
	assert.True(t, since.IsZero())

	since, err = parseSince("24h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), since)

	since, err = parseSince("2025-01-05T08:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 5, 8, 0, 0, 0, time.UTC), since)

	_, err = parseSince("yesterday", now)
	assert.Error(t, err)
	_, err = parseSince("-1h", now)
	assert.Error(t, err)
}

func TestParseCategory(t *testing.T) {
	category, err := parseCategory(" Backoff ")
	require.NoError(t, err)
	assert.Equal(t, "backoff", category)

	category, err = parseCategory("")
	require.NoError(t, err)
	assert.Empty(t, category)

	_, err = parseCategory("login")
	assert.ErrorContains(t, err, "unknown category")
}

func TestExitCodeFor(t *testing.T) {
	assert.EqualValues(t, 0, ExitCodeFor(nil))
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(apperrors.NewConfigurationError("quota.daily_limit", "must be positive")))
	assert.Equal(t, foundry.ExitFileNotFound, ExitCodeFor(fmt.Errorf("load targets: %w", os.ErrNotExist)))
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(apperrors.ErrCrashUnacknowledged))
}

func TestStatusCommandJSON(t *testing.T) {
	configPath, _ := writeConfig(t)

	out, err := execute(t, "status", "--config", configPath, "-o", "json")
	require.NoError(t, err)

	var report output.StatusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 0, report.Quota.Count)
	// Weekends run at the light-day multiplier.
	assert.Contains(t, []int{25, 50}, report.Quota.EffectiveLimit)
	assert.Nil(t, report.Health)
}

func TestWindowCommandAt(t *testing.T) {
	configPath, _ := writeConfig(t)

	out, err := execute(t, "window", "--config", configPath, "--at", "2025-01-06T10:00:00Z", "-o", "json")
	require.NoError(t, err)

	var report output.WindowReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Active)
	assert.Equal(t, []string{"09:00-11:00", "13:00-15:00", "18:00-21:00"}, report.Windows)

	_, err = execute(t, "window", "--config", configPath, "--at", "tomorrow")
	assert.ErrorContains(t, err, "invalid --at")
}

func TestSetOverridesConfig(t *testing.T) {
	configPath, _ := writeConfig(t)

	out, err := execute(t, "quota", "show", "--config", configPath, "--set", "quota.daily_limit=20", "-o", "json")
	require.NoError(t, err)

	var progress core.QuotaProgress
	require.NoError(t, json.Unmarshal([]byte(out), &progress))
	assert.Contains(t, []int{10, 20}, progress.EffectiveLimit)

	_, err = execute(t, "status", "--config", configPath, "--set", "quota.daily_limit=0")
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestQuotaResetRequiresYes(t *testing.T) {
	configPath, _ := writeConfig(t)

	_, err := execute(t, "quota", "reset", "--config", configPath)
	assert.ErrorContains(t, err, "--yes")

	out, err := execute(t, "quota", "reset", "--config", configPath, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Quota reset")
}

func TestEventsWithoutEventLog(t *testing.T) {
	configPath, _ := writeConfig(t)

	_, err := execute(t, "events", "list", "--config", configPath)
	assert.ErrorIs(t, err, control.ErrNoEventLog)
}

func TestSessionAckClearsStaleRunningFlag(t *testing.T) {
	configPath, stateDir := writeConfig(t)
	files, err := statefile.New(stateDir)
	require.NoError(t, err)
	require.NoError(t, files.SaveSession(context.Background(), &core.SessionState{
		SessionID: "sess-1",
		StartedAt: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC),
		Running:   true,
	}))

	targets := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(targets, []byte("- id: job-1\n  url: https://jobs.example.test/1\n"), 0o600))

	_, err = execute(t, "evaluate", "--config", configPath, "--targets", targets)
	assert.ErrorContains(t, err, "session is marked running")

	out, err := execute(t, "session", "ack", "--config", configPath, "-o", "json")
	require.NoError(t, err)

	var session core.SessionState
	require.NoError(t, json.Unmarshal([]byte(out), &session))
	assert.Equal(t, "sess-1", session.SessionID)
	assert.False(t, session.Running)
	assert.False(t, session.Crashed)
}

func TestHealthCommandReportsVacation(t *testing.T) {
	configPath, _ := writeConfig(t)

	out, err := execute(t, "--config", configPath, "--set", "schedule.vacation=true", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "cadence self-check")
	assert.Contains(t, out, "OK    config")
	assert.Contains(t, out, "OK    store")
	assert.Contains(t, out, "vacation mode is enabled")
}
