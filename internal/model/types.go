package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode is the autonomy level a tenant grants the agent.
type Mode string

const (
	ModeReadOnly Mode = "read_only"
	ModePropose  Mode = "propose"
	ModeAutoSafe Mode = "auto_safe"
	ModeAutoAll  Mode = "auto_all"
)

// ParseMode maps a string to a Mode. Fail-closed: unknown → read_only.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePropose:
		return ModePropose
	case ModeAutoSafe:
		return ModeAutoSafe
	case ModeAutoAll:
		return ModeAutoAll
	default:
		return ModeReadOnly
	}
}

// Valid reports whether m is one of the four known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeReadOnly, ModePropose, ModeAutoSafe, ModeAutoAll:
		return true
	}
	return false
}

// Risk is the caller-assessed risk of a single action.
type Risk string

const (
	RiskNone Risk = ""
	RiskLow  Risk = "low"
	RiskMed  Risk = "med"
	RiskHigh Risk = "high"
)

// ParseRisk accepts low/med/high (and "medium"). Empty stays empty.
// Anything else is treated as high.
func ParseRisk(s string) Risk {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return RiskNone
	case "low":
		return RiskLow
	case "med", "medium":
		return RiskMed
	default:
		return RiskHigh
	}
}

// Verdict is the guardrail outcome.
type Verdict string

const (
	VerdictAllow         Verdict = "allow"
	VerdictNeedsApproval Verdict = "needs_approval"
	VerdictDeny          Verdict = "deny"
)

// Decision is the result of one guardrail evaluation. Reason is empty for Allow.
type Decision struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason,omitempty"`
}

// Allow returns an Allow decision.
func Allow() Decision { return Decision{Verdict: VerdictAllow} }

// NeedsApproval returns a NeedsApproval decision with a human-readable reason.
func NeedsApproval(reason string) Decision {
	return Decision{Verdict: VerdictNeedsApproval, Reason: reason}
}

// Deny returns a Deny decision with a human-readable reason.
func Deny(reason string) Decision {
	return Decision{Verdict: VerdictDeny, Reason: reason}
}

func (d Decision) Allowed() bool { return d.Verdict == VerdictAllow }
func (d Decision) Denied() bool { return d.Verdict == VerdictDeny }
func (d Decision) NeedsApproval() bool { return d.Verdict == VerdictNeedsApproval }

func (d Decision) String() string {
	if d.Reason == "" {
		return string(d.Verdict)
	}
	return fmt.Sprintf("%s: %s", d.Verdict, d.Reason)
}

// ActionRequest describes one action the agent wants to perform.
// Only Authority is required; every other field is optional and an
// absent field means the corresponding rule does not apply.
type ActionRequest struct {
	Authority   string         `json:"authority" yaml:"authority"`
	Action      string         `json:"action,omitempty" yaml:"action,omitempty"`
	Table       string         `json:"table,omitempty" yaml:"table,omitempty"`
	Fields      map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
	Amount      *float64       `json:"amount,omitempty" yaml:"amount,omitempty"`
	Risk        Risk           `json:"risk,omitempty" yaml:"risk,omitempty"`
	EmailDomain string         `json:"email_domain,omitempty" yaml:"email_domain,omitempty"`
}

// WithAmount returns a copy of r with Amount set.
func (r ActionRequest) WithAmount(v float64) ActionRequest {
	r.Amount = &v
	return r
}

// FieldNames returns the field names being written, in map order.
func (r ActionRequest) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	return names
}

// FormatNumber renders amounts and limits without trailing zeros.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DomainOf extracts the lower-cased domain from an email address.
// A bare domain is returned as-is (lower-cased).
func DomainOf(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.LastIndexByte(address, '@'); i >= 0 {
		address = address[i+1:]
	}
	return strings.ToLower(strings.TrimSuffix(address, ">"))
}
