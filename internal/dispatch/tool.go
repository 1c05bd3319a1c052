// Package dispatch resolves tools by name and runs them behind a boundary
// that turns every failure into data.
package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ppiankov/actiongate/internal/model"
)

// ToolContext identifies who a tool runs for.
type ToolContext struct {
	TenantID   string `json:"tenant_id"`
	ActorID    string `json:"actor_id"`
	ProposalID string `json:"proposal_id,omitempty"`
}

// Handler performs one tool call. Business refusals are returned as
// Refuse outcomes; errors and panics are reserved for real failures.
type Handler func(ctx context.Context, args map[string]any, tc ToolContext) (Outcome, error)

// Outcome is what a handler produced.
type Outcome struct {
	Data    any    `json:"data,omitempty"`
	Before  any    `json:"before,omitempty"`
	Refused bool   `json:"refused,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Done is a successful outcome carrying data.
func Done(data any) Outcome { return Outcome{Data: data} }

// Changed is a successful mutation with the prior state for the audit trail.
func Changed(before, after any) Outcome { return Outcome{Data: after, Before: before} }

// Refuse is a business denial, e.g. "invoice already sent".
func Refuse(reason string) Outcome { return Outcome{Refused: true, Reason: reason} }

// Governance tells the gate how to turn a call's arguments into an
// ActionRequest. Field names refer to top-level argument keys.
type Governance struct {
	Authority string     `json:"authority"`
	Action    string     `json:"action,omitempty"`
	Table     string     `json:"table,omitempty"`
	Risk      model.Risk `json:"risk,omitempty"`

	AmountField string `json:"amount_field,omitempty"`
	EmailField  string `json:"email_field,omitempty"`
	// FieldsField names an object argument holding the columns written.
	// Empty with a Table set means every top-level argument is a column.
	FieldsField string `json:"fields_field,omitempty"`
}

// Tool is a registered, schema-described capability.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Governance  Governance
	Handler     Handler
}

// Request derives the ActionRequest the guardrails evaluate for args.
func (t Tool) Request(args map[string]any) model.ActionRequest {
	g := t.Governance
	req := model.ActionRequest{
		Authority: g.Authority,
		Action:    g.Action,
		Table:     g.Table,
		Risk:      g.Risk,
	}
	if req.Action == "" {
		req.Action = t.Name
	}
	if g.AmountField != "" {
		if v, ok := toNumber(args[g.AmountField]); ok {
			req.Amount = &v
		}
	}
	if g.EmailField != "" {
		if s, ok := args[g.EmailField].(string); ok && strings.TrimSpace(s) != "" {
			req.EmailDomain = model.DomainOf(s)
		}
	}
	if g.Table != "" {
		if g.FieldsField != "" {
			if m, ok := args[g.FieldsField].(map[string]any); ok {
				req.Fields = m
			}
		} else if len(args) > 0 {
			req.Fields = args
		}
	}
	return req
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
