package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/core/engine"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// StatusReport is what `cadence status` prints.
type StatusReport struct {
	Quota   core.QuotaProgress `json:"quota"`
	Session core.SessionState  `json:"session"`
	Window  WindowReport       `json:"window"`
	Handled map[string]int     `json:"handled,omitempty"`
	Health  *core.HealthStatus `json:"health,omitempty"`
}

// WindowReport describes the activity window gate at Now.
type WindowReport struct {
	Now        time.Time `json:"now"`
	Timezone   string    `json:"timezone"`
	Active     bool      `json:"active"`
	NextStart  time.Time `json:"next_start,omitempty"`
	LightDay   bool      `json:"light_day"`
	Multiplier float64   `json:"quota_multiplier"`
	NightBlock bool      `json:"night_block"`
	Vacation   bool      `json:"vacation"`
	Windows    []string  `json:"windows"`
}

// Decision pairs a target with the verdict `cadence evaluate` computed.
type Decision struct {
	TargetID string         `json:"target_id"`
	Verdict  engine.Verdict `json:"verdict"`
}

// Formatter renders control plane reports.
type Formatter interface {
	FormatStatus(report *StatusReport) (string, error)
	FormatQuota(progress core.QuotaProgress) (string, error)
	FormatSession(session core.SessionState) (string, error)
	FormatWindow(report WindowReport) (string, error)
	FormatEvents(records []core.ControlRecord) (string, error)
	FormatDecisions(decisions []Decision) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &TableFormatter{Markdown: true}
	default:
		return &TableFormatter{}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sortStrings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, " ")
}
