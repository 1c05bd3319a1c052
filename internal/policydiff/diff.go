package policydiff

import (
	"sort"
	"strings"

	"github.com/ppiankov/actiongate/internal/model"
)

// Change represents a scalar field change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// ListChange represents an entry added to or removed from a list field.
type ListChange struct {
	Field   string `json:"field"`
	Type    string `json:"type"` // "added", "removed"
	Item    string `json:"item"`
	Comment string `json:"comment"`
}

// DiffResult holds the comparison of two PolicyConfigs.
type DiffResult struct {
	OldPath     string       `json:"old_path"`
	NewPath     string       `json:"new_path"`
	Changes     []Change     `json:"changes"`
	ListChanges []ListChange `json:"list_changes"`
	HasChanges  bool         `json:"has_changes"`
	Loosened    bool         `json:"loosened"`
}

// modeRank orders modes from strictest to loosest.
var modeRank = map[model.Mode]int{
	model.ModeReadOnly: 0,
	model.ModePropose:  1,
	model.ModeAutoSafe: 2,
	model.ModeAutoAll:  3,
}

// Diff compares two PolicyConfigs and returns the differences. Every change
// is labelled stricter or looser by its effect on the guardrail chain.
func Diff(old, new *model.PolicyConfig) *DiffResult {
	r := &DiffResult{}

	oldMode, newMode := model.ParseMode(old.Mode), model.ParseMode(new.Mode)
	if oldMode != newMode {
		r.Changes = append(r.Changes, Change{
			Field:   "mode",
			Old:     string(oldMode),
			New:     string(newMode),
			Comment: rankComment(modeRank[oldMode], modeRank[newMode]),
		})
	}

	if old.ApprovalRequiredOverAmount != new.ApprovalRequiredOverAmount {
		r.Changes = append(r.Changes, Change{
			Field:   "approval_required_over_amount",
			Old:     model.FormatNumber(old.ApprovalRequiredOverAmount),
			New:     model.FormatNumber(new.ApprovalRequiredOverAmount),
			Comment: amountComment(old.ApprovalRequiredOverAmount, new.ApprovalRequiredOverAmount),
		})
	}

	// Granting more is looser for every list but restricted fields.
	diffList(r, "authorities", old.Authorities, new.Authorities, false)
	diffList(r, "email_domain_trustlist", lower(old.EmailDomainTrustlist), lower(new.EmailDomainTrustlist), false)
	diffList(r, "auto_safe_actions", old.AutoSafeActions, new.AutoSafeActions, false)

	for _, table := range tables(old.RestrictedFields, new.RestrictedFields) {
		diffList(r, "restricted_fields."+table,
			old.RestrictedFields[table], new.RestrictedFields[table], true)
	}

	for _, c := range r.Changes {
		if c.Comment == "looser" {
			r.Loosened = true
		}
	}
	for _, c := range r.ListChanges {
		if c.Comment == "looser" {
			r.Loosened = true
		}
	}
	r.HasChanges = len(r.Changes) > 0 || len(r.ListChanges) > 0
	return r
}

// rankComment labels a move from rank old to rank new, where a higher
// rank is looser.
func rankComment(old, new int) string {
	if new > old {
		return "looser"
	}
	return "stricter"
}

// amountComment labels a limit change. Negative limits behave as zero.
func amountComment(old, new float64) string {
	if max(new, 0) > max(old, 0) {
		return "looser"
	}
	return "stricter"
}

func diffList(r *DiffResult, field string, oldItems, newItems []string, addIsStricter bool) {
	oldSet := set(oldItems)
	newSet := set(newItems)

	added, removed := "looser", "stricter"
	if addIsStricter {
		added, removed = removed, added
	}

	for _, k := range sortedKeys(newSet) {
		if !oldSet[k] {
			r.ListChanges = append(r.ListChanges, ListChange{Field: field, Type: "added", Item: k, Comment: added})
		}
	}
	for _, k := range sortedKeys(oldSet) {
		if !newSet[k] {
			r.ListChanges = append(r.ListChanges, ListChange{Field: field, Type: "removed", Item: k, Comment: removed})
		}
	}
}

func set(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out[s] = true
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func tables(a, b map[string][]string) []string {
	all := make(map[string]bool, len(a)+len(b))
	for k := range a {
		all[k] = true
	}
	for k := range b {
		all[k] = true
	}
	return sortedKeys(all)
}

func lower(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

func (c ListChange) mark() string {
	if c.Type == "removed" {
		return "-"
	}
	return "+"
}
