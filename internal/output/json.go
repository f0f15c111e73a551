package output

import (
	"encoding/json"

	"github.com/cadencectl/cadence/internal/core"
)

// JSONFormatter renders reports as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatStatus renders a status report as JSON.
func (f *JSONFormatter) FormatStatus(report *StatusReport) (string, error) {
	if report == nil {
		return "", nil
	}
	return f.marshal(report)
}

// FormatQuota renders quota progress as JSON.
func (f *JSONFormatter) FormatQuota(progress core.QuotaProgress) (string, error) {
	return f.marshal(progress)
}

// FormatSession renders session state as JSON.
func (f *JSONFormatter) FormatSession(session core.SessionState) (string, error) {
	return f.marshal(session)
}

// FormatWindow renders a window report as JSON.
func (f *JSONFormatter) FormatWindow(report WindowReport) (string, error) {
	return f.marshal(report)
}

// FormatEvents renders control records as a JSON array.
func (f *JSONFormatter) FormatEvents(records []core.ControlRecord) (string, error) {
	if records == nil {
		records = []core.ControlRecord{}
	}
	return f.marshal(records)
}

// FormatDecisions renders evaluated verdicts as a JSON array.
func (f *JSONFormatter) FormatDecisions(decisions []Decision) (string, error) {
	if decisions == nil {
		decisions = []Decision{}
	}
	return f.marshal(decisions)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
