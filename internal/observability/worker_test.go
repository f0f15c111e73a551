package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/config"
)

func TestWorkerLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newWorkerLogger("cadence", config.LoggingConfig{Level: "info", Format: "json"}, false, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Named("quota").Info("action recorded", zap.Int("count", 3))
	require.NoError(t, closer.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "action recorded", entry["msg"])
	assert.Equal(t, "cadence.quota", entry["logger"])
	assert.Equal(t, float64(3), entry["count"])
}

func TestWorkerLoggerVerbose(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := newWorkerLogger("cadence", config.LoggingConfig{Level: "warn", Format: "console"}, true, &buf)
	require.NoError(t, err)

	logger.Debug("visible in verbose mode")
	assert.Contains(t, buf.String(), "visible in verbose mode")
}

func TestWorkerLoggerFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")
	var buf bytes.Buffer
	logger, closer, err := newWorkerLogger("cadence", config.LoggingConfig{Level: "info", File: path, MaxSizeMB: 1}, false, &buf)
	require.NoError(t, err)

	logger.Warn("backoff raised")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "backoff raised")
}

func TestWorkerLoggerInvalidLevel(t *testing.T) {
	_, _, err := newWorkerLogger("cadence", config.LoggingConfig{Level: "loud"}, false, &bytes.Buffer{})
	require.Error(t, err)
}
