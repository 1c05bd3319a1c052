package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/actiongate/internal/model"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	scope := scopeLabel(result)
	if len(result.Records) == 0 {
		return fmt.Sprintf("%s | No records found.\n", scope)
	}

	var b strings.Builder

	first := formatDateRange(result.Summary.FirstTimestamp)
	last := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("%s | %s–%s UTC\n", scope, first, last))
	b.WriteString(separator + "\n")

	for _, r := range result.Records {
		ts := formatTimeOnly(r.Timestamp)
		kind := strings.ToUpper(string(r.Kind))
		action := truncate(r.Action, 16)
		actor := truncate(r.ActorID, 12)
		amount := ""
		if r.Amount != nil {
			amount = model.FormatNumber(*r.Amount)
		}
		b.WriteString(fmt.Sprintf("%-10s %-10s %-12s %-16s %-10s %s\n",
			ts, kind, actor, action, amount, truncate(r.Reason, 48)))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func scopeLabel(result *ReplayResult) string {
	tenant := result.TenantID
	if tenant == "" {
		tenant = "*"
	}
	actor := result.ActorID
	if actor == "" {
		actor = "*"
	}
	return fmt.Sprintf("Tenant: %s | Actor: %s", tenant, actor)
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s Summary) string {
	parts := []string{}
	if s.Executions > 0 {
		parts = append(parts, fmt.Sprintf("%d execution", s.Executions))
	}
	if s.Proposals > 0 {
		parts = append(parts, fmt.Sprintf("%d proposal", s.Proposals))
	}
	if s.Denials > 0 {
		parts = append(parts, fmt.Sprintf("%d denial", s.Denials))
	}
	if s.Failures > 0 {
		parts = append(parts, fmt.Sprintf("%d failure", s.Failures))
	}
	return fmt.Sprintf("Summary: %d records (%s)\n", s.Total, strings.Join(parts, ", "))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
