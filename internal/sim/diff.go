package sim

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ppiankov/actiongate/internal/model"
)

// Shift classifies how a changed decision moves the action.
type Shift string

const (
	// ShiftBlocked: the action ran unattended before and no longer would.
	ShiftBlocked Shift = "blocked"
	// ShiftAllowed: the action needed a human or was denied and now runs.
	ShiftAllowed Shift = "allowed"
	// ShiftLateral: deny and needs_approval swapped.
	ShiftLateral Shift = "lateral"
)

// DiffEntry is one recorded action whose decision changes under the
// candidate policy.
type DiffEntry struct {
	Timestamp   string        `json:"ts"`
	TenantID    string        `json:"tenant_id"`
	ActorID     string        `json:"actor_id"`
	Action      string        `json:"action"`
	OldDecision model.Verdict `json:"old_decision"`
	NewDecision model.Verdict `json:"new_decision"`
	OldReason   string        `json:"old_reason"`
	NewReason   string        `json:"new_reason"`
	Shift       Shift         `json:"shift"`
}

// SimResult holds the complete simulation output.
type SimResult struct {
	PolicyPath     string      `json:"policy_path"`
	PolicyHash     string      `json:"policy_hash,omitempty"`
	TotalActions   int         `json:"total_actions"`
	ChangedActions int         `json:"changed_actions"`
	NewlyBlocked   int         `json:"newly_blocked"`
	NewlyAllowed   int         `json:"newly_allowed"`
	Changes        []DiffEntry `json:"changes"`
}

func (r *SimResult) add(e DiffEntry) {
	e.Shift = shiftOf(e.OldDecision, e.NewDecision)
	switch e.Shift {
	case ShiftBlocked:
		r.NewlyBlocked++
	case ShiftAllowed:
		r.NewlyAllowed++
	}
	r.ChangedActions++
	r.Changes = append(r.Changes, e)
}

func shiftOf(from, to model.Verdict) Shift {
	switch {
	case from == model.VerdictAllow:
		return ShiftBlocked
	case to == model.VerdictAllow:
		return ShiftAllowed
	default:
		return ShiftLateral
	}
}

// FormatText renders the changed decisions as a table followed by a tally
// per transition.
func FormatText(r *SimResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "policy %s, %d recorded actions replayed\n", r.PolicyPath, r.TotalActions)
	if len(r.Changes) == 0 {
		b.WriteString("no decision changes\n")
		return b.String()
	}

	b.WriteByte('\n')
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTENANT/ACTOR\tACTION\tCHANGE\tREASON")
	tally := make(map[string]int)
	for _, c := range r.Changes {
		move := fmt.Sprintf("%s -> %s", c.OldDecision, c.NewDecision)
		tally[move]++
		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%s\n", clock(c.Timestamp), c.TenantID, c.ActorID, c.Action, move, c.NewReason)
	}
	tw.Flush()

	moves := make([]string, 0, len(tally))
	for m := range tally {
		moves = append(moves, m)
	}
	sort.Strings(moves)
	b.WriteByte('\n')
	for _, m := range moves {
		fmt.Fprintf(&b, "  %-32s %d\n", m, tally[m])
	}
	fmt.Fprintf(&b, "changed %d/%d (blocked %d, allowed %d)\n",
		r.ChangedActions, r.TotalActions, r.NewlyBlocked, r.NewlyAllowed)
	return b.String()
}

// clock trims an RFC 3339 timestamp to hh:mm:ss.
func clock(ts string) string {
	if i := strings.IndexByte(ts, 'T'); i >= 0 && len(ts) >= i+9 {
		return ts[i+1 : i+9]
	}
	return ts
}

// FormatJSON renders the simulation result as JSON.
func FormatJSON(r *SimResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sim result: %w", err)
	}
	return string(data), nil
}
