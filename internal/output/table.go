package output

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/core/engine"
)

// TableFormatter renders reports as ASCII tables, or Markdown tables when
// Markdown is set.
type TableFormatter struct {
	Markdown bool
}

func (f *TableFormatter) render(t table.Writer) string {
	if f.Markdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

func (f *TableFormatter) newWriter(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	if title != "" && !f.Markdown {
		t.SetTitle(title)
	}
	return t
}

// FormatStatus renders quota, session and health sections.
func (f *TableFormatter) FormatStatus(report *StatusReport) (string, error) {
	if report == nil {
		return "", nil
	}

	sections := []string{
		f.quotaTable(report.Quota),
		f.sessionTable(report.Session),
	}
	window, err := f.FormatWindow(report.Window)
	if err != nil {
		return "", err
	}
	sections = append(sections, window)

	if len(report.Handled) > 0 {
		t := f.newWriter("Handled targets")
		t.AppendHeader(table.Row{"Outcome", "Count"})
		keys := make([]string, 0, len(report.Handled))
		for k := range report.Handled {
			keys = append(keys, k)
		}
		sortStrings(keys)
		for _, k := range keys {
			t.AppendRow(table.Row{k, report.Handled[k]})
		}
		sections = append(sections, f.render(t))
	}

	if report.Health != nil {
		sections = append(sections, f.healthTable(*report.Health))
	}
	return strings.Join(sections, "\n\n"), nil
}

func (f *TableFormatter) quotaTable(q core.QuotaProgress) string {
	t := f.newWriter("Quota")
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Date", q.Date},
		{"Used", fmt.Sprintf("%d/%d (%.0f%%)", q.Count, q.EffectiveLimit, q.PercentUsed)},
		{"Remaining", q.Remaining},
		{"Limit reached", yesNo(q.LimitReached)},
		{"Backoff multiplier", fmt.Sprintf("%.2f", q.BackoffMultiplier)},
		{"Last action", formatTimePtr(q.LastActionAt)},
	})
	return f.render(t)
}

func (f *TableFormatter) sessionTable(s core.SessionState) string {
	t := f.newWriter("Session")
	t.AppendHeader(table.Row{"Field", "Value"})
	status := "idle"
	switch {
	case s.Crashed:
		status = "crashed: " + s.CrashReason
	case s.Running:
		status = "running"
	}
	t.AppendRows([]table.Row{
		{"ID", s.SessionID},
		{"Status", status},
		{"Started", formatTime(s.StartedAt)},
		{"Actions", s.ActionsCount},
		{"Skipped", s.SkippedCount},
		{"Substituted", s.SubstitutedCount},
		{"Failed", s.FailedCount},
		{"Last handled", s.LastHandledID},
	})
	return f.render(t)
}

func (f *TableFormatter) healthTable(h core.HealthStatus) string {
	t := f.newWriter("Health")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"score", fmt.Sprintf("%d (%s)", h.Score, h.Status)})
	keys := make([]string, 0, len(h.Metrics))
	for k := range h.Metrics {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		t.AppendRow(table.Row{k, h.Metrics[k]})
	}
	return f.render(t)
}

// FormatQuota renders the quota section alone.
func (f *TableFormatter) FormatQuota(progress core.QuotaProgress) (string, error) {
	return f.quotaTable(progress), nil
}

// FormatSession renders the session section alone.
func (f *TableFormatter) FormatSession(session core.SessionState) (string, error) {
	return f.sessionTable(session), nil
}

// FormatWindow renders the gate state.
func (f *TableFormatter) FormatWindow(report WindowReport) (string, error) {
	t := f.newWriter("Activity window")
	t.AppendHeader(table.Row{"Field", "Value"})
	next := "now"
	if !report.Active {
		next = formatTime(report.NextStart)
	}
	t.AppendRows([]table.Row{
		{"Now", formatTime(report.Now)},
		{"Timezone", report.Timezone},
		{"Active", yesNo(report.Active)},
		{"Next start", next},
		{"Night block", yesNo(report.NightBlock)},
		{"Light day", fmt.Sprintf("%s (x%.2f)", yesNo(report.LightDay), report.Multiplier)},
		{"Vacation", yesNo(report.Vacation)},
		{"Windows", strings.Join(report.Windows, ", ")},
	})
	return f.render(t), nil
}

// FormatEvents renders control records newest first.
func (f *TableFormatter) FormatEvents(records []core.ControlRecord) (string, error) {
	t := f.newWriter("")
	t.AppendHeader(table.Row{"Time", "Category", "Severity", "Detail", "Fields"})
	for _, r := range records {
		t.AppendRow(table.Row{
			formatTime(r.Timestamp),
			string(r.Category),
			string(r.Severity),
			r.Detail,
			formatFields(r.Fields),
		})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d records", len(records)), ""})
	return f.render(t), nil
}

// FormatDecisions renders one row per evaluated target.
func (f *TableFormatter) FormatDecisions(decisions []Decision) (string, error) {
	t := f.newWriter("")
	t.AppendHeader(table.Row{"Target", "Verdict", "Reason", "When"})
	counts := make(map[engine.VerdictKind]int)
	for _, d := range decisions {
		counts[d.Verdict.Kind]++
		t.AppendRow(table.Row{d.TargetID, string(d.Verdict.Kind), verdictReason(d.Verdict), verdictWhen(d.Verdict)})
	}
	t.AppendFooter(table.Row{"", "", summarizeKinds(counts), fmt.Sprintf("%d targets", len(decisions))})
	return f.render(t), nil
}

func verdictReason(v engine.Verdict) string {
	switch {
	case v.Skip.Skip && v.Skip.Detail != "":
		return string(v.Skip.Reason) + ": " + v.Skip.Detail
	case v.Skip.Skip:
		return string(v.Skip.Reason)
	case v.Reason != "":
		return v.Reason
	case v.Behavior.Reason != "":
		return v.Behavior.Reason
	}
	return ""
}

func verdictWhen(v engine.Verdict) string {
	switch {
	case !v.Until.IsZero():
		return formatTime(v.Until)
	case v.Delay > 0:
		return "in " + v.Delay.Round(time.Second).String()
	}
	return "-"
}

func summarizeKinds(counts map[engine.VerdictKind]int) string {
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sortStrings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[engine.VerdictKind(k)]))
	}
	return strings.Join(parts, " ")
}

func sortStrings(s []string) {
	slices.Sort(s)
}
