// Package proposal builds, renders and persists actions that wait for a
// human decision.
package proposal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/actiongate/internal/model"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// DefaultTTL is how long a pending proposal waits before it expires.
const DefaultTTL = 24 * time.Hour

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusExecuted, StatusFailed:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusExpired},
	StatusApproved: {StatusExecuted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Proposal is a deferred action awaiting human sign-off. Args is a deep
// snapshot taken when the proposal was made; later mutation of the
// caller's arguments does not affect it.
type Proposal struct {
	ID                string          `json:"id"`
	Tool              string          `json:"tool"`
	Args              json.RawMessage `json:"args"`
	RequiresApproval  bool            `json:"requires_approval"`
	Summary           string          `json:"summary"`
	Reason            string          `json:"reason"`
	Risk              model.Risk      `json:"risk,omitempty"`
	EstimatedDuration string          `json:"estimated_duration,omitempty"`
	Preview           string          `json:"preview,omitempty"`

	TenantID       string              `json:"tenant_id,omitempty"`
	ActorID        string              `json:"actor_id,omitempty"`
	Request        model.ActionRequest `json:"request"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	Status         Status              `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	ExpiresAt      time.Time           `json:"expires_at"`
	ResolvedAt     *time.Time          `json:"resolved_at,omitempty"`
	ResolvedBy     string              `json:"resolved_by,omitempty"`
	Note           string              `json:"note,omitempty"`
}

// Make builds a pending proposal with a fresh id. args must be JSON
// encodable; nil becomes an empty object.
func Make(tool string, args any, requiresApproval bool, summary, reason string, risk model.Risk, eta, preview string) (*Proposal, error) {
	if tool == "" {
		return nil, fmt.Errorf("proposal tool must not be empty")
	}
	snapshot, err := snapshotArgs(args)
	if err != nil {
		return nil, fmt.Errorf("snapshot args for %s: %w", tool, err)
	}
	now := time.Now().UTC()
	return &Proposal{
		ID:                uuid.NewString(),
		Tool:              tool,
		Args:              snapshot,
		RequiresApproval:  requiresApproval,
		Summary:           summary,
		Reason:            reason,
		Risk:              risk,
		EstimatedDuration: eta,
		Preview:           preview,
		Status:            StatusPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(DefaultTTL),
	}, nil
}

func snapshotArgs(args any) (json.RawMessage, error) {
	switch v := args.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("args are not valid JSON")
		}
		return append(json.RawMessage(nil), v...), nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// ArgsMap decodes the argument snapshot. Each call returns a fresh map.
func (p *Proposal) ArgsMap() (map[string]any, error) {
	out := map[string]any{}
	if len(p.Args) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(p.Args, &out); err != nil {
		return nil, fmt.Errorf("decode proposal args: %w", err)
	}
	return out, nil
}

// Expired reports whether a pending proposal has passed its deadline.
func (p *Proposal) Expired(now time.Time) bool {
	return p.Status == StatusPending && !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// FormatForDisplay renders proposals as a numbered block for chat or CLI.
func FormatForDisplay(proposals []*Proposal) string {
	if len(proposals) == 0 {
		return "No proposals."
	}
	var b strings.Builder
	for i, p := range proposals {
		if i > 0 {
			b.WriteString("\n")
		}
		summary := p.Summary
		if summary == "" {
			summary = p.Tool
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, summary)
		if p.ID != "" {
			fmt.Fprintf(&b, "   id: %s\n", p.ID)
		}
		if p.Reason != "" {
			fmt.Fprintf(&b, "   reason: %s\n", p.Reason)
		}
		risk := string(p.Risk)
		if risk == "" {
			risk = "-"
		}
		eta := p.EstimatedDuration
		if eta == "" {
			eta = "-"
		}
		approval := "auto"
		if p.RequiresApproval {
			approval = "approval required"
		}
		fmt.Fprintf(&b, "   risk: %s | eta: %s | %s\n", risk, eta, approval)
		if p.Preview != "" {
			fmt.Fprintf(&b, "   preview: %s\n", p.Preview)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
