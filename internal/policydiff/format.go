package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the diff in a patch-like layout: "~" for scalar
// changes, "+" and "-" for list entries, each tagged with its effect.
func FormatText(r *DiffResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", r.OldPath, r.NewPath)
	if !r.HasChanges {
		b.WriteString("(identical)\n")
		return b.String()
	}

	for _, c := range r.Changes {
		line := fmt.Sprintf("~ %s: %s => %s", c.Field, c.Old, c.New)
		b.WriteString(tagged(line, c.Comment))
	}
	for _, c := range r.ListChanges {
		line := fmt.Sprintf("%s %s: %s", c.mark(), c.Field, c.Item)
		b.WriteString(tagged(line, c.Comment))
	}

	if r.Loosened {
		b.WriteString("\nresult: LOOSER (at least one change weakens the guardrails)\n")
	} else {
		b.WriteString("\nresult: not looser\n")
	}
	return b.String()
}

func tagged(line, effect string) string {
	if effect == "" {
		return line + "\n"
	}
	return fmt.Sprintf("%-48s [%s]\n", line, effect)
}

// FormatJSON renders the diff result as JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}
