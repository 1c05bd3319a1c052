package actiongate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ppiankov/actiongate/internal/dispatch"
	"github.com/ppiankov/actiongate/internal/model"
)

// Verdict is the guardrail outcome.
type Verdict string

const (
	Allow         Verdict = Verdict(model.VerdictAllow)
	NeedsApproval Verdict = Verdict(model.VerdictNeedsApproval)
	Deny          Verdict = Verdict(model.VerdictDeny)
)

// Risk levels a tool can declare.
const (
	RiskLow  = string(model.RiskLow)
	RiskMed  = string(model.RiskMed)
	RiskHigh = string(model.RiskHigh)
)

// ToolFunc is the function signature a governed tool implements.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Governance tells the gate how to read a call's arguments.
type Governance struct {
	Authority   string // required authority, e.g. "CREATE_INVOICE"
	Action      string // auto_safe action name; defaults to the tool name
	Table       string // table written, for restricted field checks
	Risk        string // low, med or high
	AmountField string // argument holding a monetary amount
	EmailField  string // argument holding a recipient address
	FieldsField string // object argument holding the columns written
}

// Tool is a capability exposed to the agent.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage // optional JSON Schema for the arguments
	Governance  Governance
	Func        ToolFunc
}

// Result is a policy evaluation outcome.
type Result struct {
	Verdict Verdict
	Reason  string
}

// Allowed returns true if the decision permits the action.
func (r Result) Allowed() bool {
	return r.Verdict == Allow
}

// BlockedError is returned when a call did not run because the policy
// denied it or asked for approval.
type BlockedError struct {
	Tool       string
	Verdict    Verdict
	Reason     string
	ProposalID string
}

func (e *BlockedError) Error() string {
	if e.ProposalID != "" {
		return fmt.Sprintf("actiongate blocked %s (%s, proposal %s): %s", e.Tool, e.Verdict, e.ProposalID, e.Reason)
	}
	return fmt.Sprintf("actiongate blocked %s (%s): %s", e.Tool, e.Verdict, e.Reason)
}

// toInternalTool maps an SDK Tool to a dispatchable tool.
func toInternalTool(t Tool) dispatch.Tool {
	fn := t.Func
	var handler dispatch.Handler
	if fn != nil {
		handler = func(ctx context.Context, args map[string]any, _ dispatch.ToolContext) (dispatch.Outcome, error) {
			data, err := fn(ctx, args)
			if err != nil {
				return dispatch.Outcome{}, err
			}
			return dispatch.Done(data), nil
		}
	}
	g := t.Governance
	return dispatch.Tool{
		Name:        t.Name,
		Description: t.Description,
		Schema:      t.Schema,
		Governance: dispatch.Governance{
			Authority:   g.Authority,
			Action:      g.Action,
			Table:       g.Table,
			Risk:        model.ParseRisk(g.Risk),
			AmountField: g.AmountField,
			EmailField:  g.EmailField,
			FieldsField: g.FieldsField,
		},
		Handler: handler,
	}
}

// toResult maps an internal decision to an SDK Result.
func toResult(d model.Decision) Result {
	return Result{Verdict: Verdict(d.Verdict), Reason: d.Reason}
}
