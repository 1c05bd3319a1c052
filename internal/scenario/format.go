package scenario

import (
	"encoding/json"
	"fmt"
	"strings"
)

const labelWidth = 32

// FormatText renders run results for a terminal: one line per file, one
// indented line per failing case, then a totals line.
func FormatText(results []*RunResult) string {
	var b strings.Builder
	cases, passed, badFiles := 0, 0, 0
	for _, r := range results {
		cases += r.Total
		passed += r.Passed

		status := "ok  "
		if r.Failed > 0 {
			status = "FAIL"
			badFiles++
		}
		fmt.Fprintf(&b, "%s %s  %d/%d", status, r.Name, r.Passed, r.Total)
		if h := shortHash(r.PolicyHash); h != "" {
			fmt.Fprintf(&b, "  [%s]", h)
		}
		b.WriteByte('\n')

		for _, c := range r.Cases {
			if !c.Passed {
				b.WriteString("     " + describeFailure(c) + "\n")
			}
		}
	}

	if len(results) == 0 {
		b.WriteString("no scenario files\n")
		return b.String()
	}
	fmt.Fprintf(&b, "\n%d/%d cases passed", passed, cases)
	if badFiles > 0 {
		fmt.Fprintf(&b, ", %d/%d files failing", badFiles, len(results))
	}
	b.WriteByte('\n')
	return b.String()
}

func describeFailure(c CaseResult) string {
	label := c.Name
	if label == "" {
		label = c.Action
	}
	if r := []rune(label); len(r) > labelWidth {
		label = string(r[:labelWidth-1]) + "~"
	}
	head := fmt.Sprintf("#%d %-*s ", c.Index, labelWidth, label)
	if c.Actual == "" {
		return head + c.Problem
	}
	msg := fmt.Sprintf("%swant %s, got %s: %s", head, c.Expected, c.Actual, c.Reason)
	if c.Problem != "" {
		msg += " (" + c.Problem + ")"
	}
	return msg
}

func shortHash(h string) string {
	h = strings.TrimPrefix(h, "sha256:")
	if len(h) > 12 {
		h = h[:12]
	}
	return h
}

// FormatJSON renders run results as indented JSON.
func FormatJSON(results []*RunResult) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(data), nil
}
