package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/actiongate/internal/dispatch"
	"github.com/ppiankov/actiongate/internal/gate"
	"github.com/ppiankov/actiongate/internal/proposal"
)

// --- Input/Output types ---

// ExecuteInput defines parameters for the gate_execute tool.
type ExecuteInput struct {
	Tool string `json:"tool" jsonschema:"name of the studio tool to run"`
	Args string `json:"args,omitempty" jsonschema:"tool arguments as a JSON object string"`
}

// ExecuteOutput reports what the gate did with a call.
type ExecuteOutput struct {
	Decision   string `json:"decision,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Executed   bool   `json:"executed"`
	ProposalID string `json:"proposal_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Result     any    `json:"result,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

// CheckInput defines parameters for the gate_check tool.
type CheckInput struct {
	Tool string `json:"tool" jsonschema:"name of the studio tool"`
	Args string `json:"args,omitempty" jsonschema:"tool arguments as a JSON object string"`
}

// CheckOutput contains the policy decision.
type CheckOutput struct {
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
	Authority  string `json:"authority,omitempty"`
	PolicyHash string `json:"policy_hash,omitempty"`
}

// ApproveInput defines parameters for the gate_approve tool.
type ApproveInput struct {
	ID string `json:"id" jsonschema:"proposal id"`
}

// RejectInput defines parameters for the gate_reject tool.
type RejectInput struct {
	ID   string `json:"id" jsonschema:"proposal id"`
	Note string `json:"note,omitempty" jsonschema:"why the proposal was rejected"`
}

// RejectOutput confirms the rejection.
type RejectOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PendingInput is empty; the tenant comes from the server config.
type PendingInput struct{}

// PendingOutput lists pending proposals.
type PendingOutput struct {
	Proposals []PendingItem `json:"proposals"`
	Display   string        `json:"display"`
}

// PendingItem describes a single proposal.
type PendingItem struct {
	ID        string `json:"id"`
	Tool      string `json:"tool"`
	Summary   string `json:"summary"`
	Reason    string `json:"reason"`
	Actor     string `json:"actor"`
	ExpiresAt string `json:"expires_at"`
}

// --- Handlers ---

func (s *Server) handleExecute(ctx context.Context, req *mcpsdk.CallToolRequest, input ExecuteInput) (*mcpsdk.CallToolResult, ExecuteOutput, error) {
	out := s.gate.Open(ctx, s.cfg.TenantID, s.cfg.ActorID).Execute(ctx, input.Tool, input.Args)
	return toolResult(out), outcomeOutput(out), nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	tool, ok := s.gate.Registry().Lookup(input.Tool)
	if !ok {
		return &mcpsdk.CallToolResult{IsError: true}, CheckOutput{Decision: "deny", Reason: dispatch.CodeUnknownTool}, nil
	}
	args, err := dispatch.ParseArgs(input.Args)
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, CheckOutput{Decision: "deny", Reason: dispatch.CodeBadJSON}, nil
	}

	session := s.gate.Open(ctx, s.cfg.TenantID, s.cfg.ActorID)
	action := tool.Request(args)
	d := session.Check(action)
	return nil, CheckOutput{
		Decision:   string(d.Verdict),
		Reason:     d.Reason,
		Authority:  action.Authority,
		PolicyHash: session.Policy().Hash(),
	}, nil
}

func (s *Server) handleApprove(ctx context.Context, req *mcpsdk.CallToolRequest, input ApproveInput) (*mcpsdk.CallToolResult, ExecuteOutput, error) {
	if err := s.owned(ctx, input.ID); err != nil {
		return nil, ExecuteOutput{}, err
	}
	out, err := s.gate.Approve(ctx, input.ID, s.cfg.Approver)
	if err != nil {
		res := outcomeOutput(out)
		res.Message = err.Error()
		return &mcpsdk.CallToolResult{IsError: true}, res, nil
	}
	return toolResult(out), outcomeOutput(out), nil
}

func (s *Server) handleReject(ctx context.Context, req *mcpsdk.CallToolRequest, input RejectInput) (*mcpsdk.CallToolResult, RejectOutput, error) {
	if err := s.owned(ctx, input.ID); err != nil {
		return nil, RejectOutput{}, err
	}
	p, err := s.gate.Reject(ctx, input.ID, s.cfg.Approver, input.Note)
	if err != nil {
		return nil, RejectOutput{}, err
	}
	return nil, RejectOutput{ID: p.ID, Status: string(p.Status)}, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	list, err := s.gate.Pending(ctx, s.cfg.TenantID)
	if err != nil {
		return nil, PendingOutput{}, err
	}

	items := make([]PendingItem, len(list))
	for i, p := range list {
		items[i] = PendingItem{
			ID:        p.ID,
			Tool:      p.Tool,
			Summary:   p.Summary,
			Reason:    p.Reason,
			Actor:     p.ActorID,
			ExpiresAt: p.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	return nil, PendingOutput{Proposals: items, Display: proposal.FormatForDisplay(list)}, nil
}

// owned rejects proposals belonging to another tenant.
func (s *Server) owned(ctx context.Context, id string) error {
	p, err := s.gate.Proposal(ctx, id)
	if err != nil {
		return err
	}
	if p.TenantID != s.cfg.TenantID {
		return fmt.Errorf("proposal %s belongs to another tenant", id)
	}
	return nil
}

func toolResult(out gate.Outcome) *mcpsdk.CallToolResult {
	if out.Executed() || out.Proposal != nil {
		return nil
	}
	return &mcpsdk.CallToolResult{IsError: true}
}

func outcomeOutput(out gate.Outcome) ExecuteOutput {
	o := ExecuteOutput{
		Decision: string(out.Decision.Verdict),
		Reason:   out.Decision.Reason,
		Executed: out.Executed(),
		Message:  out.Message(),
	}
	if out.Proposal != nil {
		o.ProposalID = out.Proposal.ID
		o.Status = string(out.Proposal.Status)
	}
	if out.Result != nil {
		o.Code = out.Result.Code
		if out.Result.OK {
			o.Result = out.Result.Data
		}
	}
	return o
}
