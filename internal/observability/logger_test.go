package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitLoggers(t *testing.T) {
	t.Run("CLILogger", func(t *testing.T) {
		InitCLILogger("cadence-test", true)
		require.NotNil(t, CLILogger)

		CLILogger.Debug("debug output in verbose mode", zap.String("command", "status"))
	})

	t.Run("ServerLoggerJSON", func(t *testing.T) {
		InitServerLogger("cadence-test", "info", "json")
		require.NotNil(t, ServerLogger)

		ServerLogger.Info("status server started",
			zap.String("component", "test"),
			zap.Int("port", 8080))
	})

	t.Run("ServerLoggerConsoleWithNamespace", func(t *testing.T) {
		InitServerLogger("cadence-test", "debug", "console", "cadence")
		require.NotNil(t, ServerLogger)
	})

	t.Run("StructuredProfileDirect", func(t *testing.T) {
		logger, err := logging.New(&logging.LoggerConfig{
			Profile:      logging.ProfileSimple,
			DefaultLevel: "INFO",
			Service:      "schema-test",
			Environment:  "test",
			Sinks: []logging.SinkConfig{
				{
					Type:   "console",
					Format: "console",
					Console: &logging.ConsoleSinkConfig{
						Stream:   "stderr",
						Colorize: false,
					},
				},
			},
		})
		require.NoError(t, err)
		require.NotNil(t, logger)
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]string{
		"trace":   "TRACE",
		"debug":   "DEBUG",
		" Info ":  "INFO",
		"warning": "WARN",
		"ERROR":   "ERROR",
		"loud":    "INFO",
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestInitMetricsRandomPort(t *testing.T) {
	t.Cleanup(ShutdownMetrics)

	require.NoError(t, InitMetrics("cadence_test", 0))
	require.NotNil(t, TelemetrySystem)
	require.NotNil(t, PrometheusExporter)
	first := GetMetricsPort()
	assert.Positive(t, first, "the bound port replaces 0")

	require.NoError(t, InitMetrics("cadence_test", 0), "re-init stops the previous exporter")
	assert.Positive(t, GetMetricsPort())

	ShutdownMetrics()
	assert.Nil(t, TelemetrySystem)
	assert.Nil(t, PrometheusExporter)
	assert.Zero(t, GetMetricsPort())
}

func TestResolvePort(t *testing.T) {
	port, err := resolvePort("127.0.0.1:9464")
	require.NoError(t, err)
	assert.Equal(t, 9464, port)

	_, err = resolvePort("no-port")
	require.Error(t, err)
}
