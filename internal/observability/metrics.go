package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

var (
	// TelemetrySystem receives every control and HTTP metric. Emitters
	// skip silently while it is nil.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the text exposition the status server
	// proxies at /metrics.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts the exporter on port (0 picks a free one) with
// metric names prefixed by namespace. A previous exporter is stopped.
func InitMetrics(namespace string, port int) error {
	ShutdownMetrics()

	port = max(port, 0)
	exporter := exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start metrics exporter: %w", err)
	}
	if bound, err := resolvePort(exporter.GetAddr()); err == nil {
		port = bound
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		_ = exporter.Stop()
		return err
	}

	PrometheusExporter, TelemetrySystem, metricsPort = exporter, sys, port
	return nil
}

// ShutdownMetrics stops the exporter and disables emission.
func ShutdownMetrics() {
	if PrometheusExporter != nil {
		_ = PrometheusExporter.Stop()
	}
	PrometheusExporter, TelemetrySystem, metricsPort = nil, nil, 0
}

// GetMetricsPort is the port the exporter bound, or 0 before InitMetrics.
func GetMetricsPort() int {
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
