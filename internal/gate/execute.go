package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/actiongate/internal/alert"
	"github.com/ppiankov/actiongate/internal/audit"
	"github.com/ppiankov/actiongate/internal/dispatch"
	"github.com/ppiankov/actiongate/internal/model"
	"github.com/ppiankov/actiongate/internal/proposal"
)

const maxPreviewRunes = 200

// ToolCall is one entry of a batch.
type ToolCall struct {
	Name string `json:"name"`
	Args string `json:"args"`
}

// Execute governs one tool call: evaluate, then run, propose or deny.
func (s *Session) Execute(ctx context.Context, toolName, rawArgs string) Outcome {
	g := s.gate
	call := dispatch.Call{
		ToolName: toolName,
		RawArgs:  rawArgs,
		Context:  dispatch.ToolContext{TenantID: s.tenantID, ActorID: s.actorID},
	}

	tool, args, ok := s.resolve(call)
	if !ok {
		// The dispatcher reports the same parse/lookup/schema failure as data.
		res := g.dispatcher.Dispatch(ctx, call)
		g.recordResult(s.tenantID, s.actorID, model.ActionRequest{Action: toolName}, model.Decision{}, "", s.policy.Hash(), res, nil)
		return Outcome{Result: &res}
	}

	req := tool.Request(args)
	d := s.Check(req)

	switch d.Verdict {
	case model.VerdictDeny:
		g.emit(audit.Record{
			TenantID:   s.tenantID,
			ActorID:    s.actorID,
			Kind:       audit.KindDenial,
			Decision:   d.Verdict,
			Reason:     d.Reason,
			PolicyHash: s.policy.Hash(),
			Payload:    marshalPayload(map[string]any{"tool": toolName, "args": json.RawMessage(normalizeArgs(rawArgs))}),
		}, req)
		return Outcome{Decision: d}

	case model.VerdictNeedsApproval:
		p, err := s.propose(ctx, tool, rawArgs, req, d)
		if err != nil {
			g.logger.Error("proposal not stored", "tenant", s.tenantID, "actor", s.actorID, "tool", toolName, "error", err)
			return Outcome{Decision: d, Error: err.Error()}
		}
		return Outcome{Decision: d, Proposal: p}
	}

	res := g.dispatcher.Dispatch(ctx, call)
	g.recordResult(s.tenantID, s.actorID, req, d, "", s.policy.Hash(), res, nil)
	return Outcome{Decision: d, Result: &res}
}

// ExecuteBatch runs calls concurrently. Outcomes keep call order.
func (s *Session) ExecuteBatch(ctx context.Context, calls []ToolCall) []Outcome {
	out := make([]Outcome, len(calls))
	var eg errgroup.Group
	eg.SetLimit(8)
	for i, c := range calls {
		eg.Go(func() error {
			out[i] = s.Execute(ctx, c.Name, c.Args)
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// resolve performs the dispatcher's pre-invocation checks so that a call
// which would fail before running is never evaluated or proposed.
func (s *Session) resolve(call dispatch.Call) (dispatch.Tool, map[string]any, bool) {
	args, err := dispatch.ParseArgs(call.RawArgs)
	if err != nil {
		return dispatch.Tool{}, nil, false
	}
	reg := s.gate.dispatcher.Registry()
	tool, ok := reg.Lookup(call.ToolName)
	if !ok {
		return dispatch.Tool{}, nil, false
	}
	if err := reg.Validate(call.ToolName, normalizeArgs(call.RawArgs)); err != nil {
		return dispatch.Tool{}, nil, false
	}
	return tool, args, true
}

// propose returns the live pending proposal for this exact call, or
// creates and audits one. Creation is serialized per idempotency key, so
// concurrent identical calls share a single proposal. A pending proposal
// past its deadline is expired first and replaced.
func (s *Session) propose(ctx context.Context, tool dispatch.Tool, rawArgs string, req model.ActionRequest, d model.Decision) (*proposal.Proposal, error) {
	g := s.gate
	args := json.RawMessage(normalizeArgs(rawArgs))

	key, err := proposal.IdempotencyKey(s.tenantID, s.actorID, tool.Name, args)
	if err != nil {
		return nil, err
	}
	release, err := g.acquireWait(ctx, proposeLockPrefix+key)
	if err != nil {
		return nil, err
	}
	defer release()

	// A second pass covers a writer that bypassed the locker, e.g. another
	// process with its own in-memory locker; the store still refuses the
	// duplicate and the winner is picked up.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := g.proposals.FindPending(ctx, key)
		switch {
		case err == nil && !existing.Expired(g.now()):
			return existing, nil
		case err == nil:
			if err := g.expireStale(ctx, existing); err != nil {
				return nil, err
			}
		case !errors.Is(err, proposal.ErrNotFound):
			return nil, err
		}

		p, err := proposal.Make(tool.Name, args, true, summarize(tool, req), d.Reason, req.Risk, "", preview(args))
		if err != nil {
			return nil, err
		}
		now := g.now().UTC()
		p.TenantID = s.tenantID
		p.ActorID = s.actorID
		p.Request = req
		p.IdempotencyKey = key
		p.CreatedAt = now
		p.ExpiresAt = now.Add(g.ttl)

		err = g.proposals.Save(ctx, p)
		if errors.Is(err, proposal.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}

		g.emit(audit.Record{
			TenantID:   s.tenantID,
			ActorID:    s.actorID,
			Kind:       audit.KindProposal,
			Decision:   d.Verdict,
			Reason:     d.Reason,
			ProposalID: p.ID,
			PolicyHash: s.policy.Hash(),
			Payload:    marshalPayload(map[string]any{"tool": tool.Name, "args": args, "expires_at": p.ExpiresAt}),
		}, req)
		return p, nil
	}
	return nil, errors.Wrapf(proposal.ErrDuplicate, "proposal for %s kept changing", tool.Name)
}

// expireStale closes an overdue pending proposal the sweep has not
// reached yet, auditing it like ExpireDue does.
func (g *Gate) expireStale(ctx context.Context, p *proposal.Proposal) error {
	expired, err := g.proposals.Transition(ctx, p.ID, proposal.StatusPending, proposal.StatusExpired, SystemActor, "")
	if errors.Is(err, proposal.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	g.recordResolution(expired, model.Deny(expiredReason), nil)
	return nil
}

// recordResult audits a dispatcher result: execution, failure, or denial
// for business refusals.
func (g *Gate) recordResult(tenantID, actorID string, req model.ActionRequest, d model.Decision, proposalID, policyHash string, res dispatch.Result, extra map[string]any) {
	payload := map[string]any{"tool": res.Tool}
	for k, v := range extra {
		payload[k] = v
	}
	rec := audit.Record{
		TenantID:   tenantID,
		ActorID:    actorID,
		Decision:   d.Verdict,
		ProposalID: proposalID,
		PolicyHash: policyHash,
	}
	switch {
	case res.OK:
		rec.Kind = audit.KindExecution
		payload["result"] = res.Data
		if res.Before != nil {
			payload["before"] = res.Before
		}
	case res.Refused:
		rec.Kind = audit.KindDenial
		rec.Reason = res.Reason
		payload["code"] = res.Code
	default:
		rec.Kind = audit.KindFailure
		rec.Reason = res.Error
		payload["code"] = res.Code
		payload["args"] = res.Args
		if len(res.Stack) > 0 {
			payload["stack"] = res.Stack
		}
	}
	rec.Payload = marshalPayload(payload)
	g.emit(rec, req)
}

// emit fills the request-derived columns, writes the record and raises an
// alert for everything except successful executions.
func (g *Gate) emit(rec audit.Record, req model.ActionRequest) {
	rec.Action = req.Action
	rec.TargetTable = req.Table
	rec.Amount = req.Amount
	if req.Authority != "" {
		r := req
		rec.Request = &r
	}
	rec.Timestamp = audit.Stamp(g.now())
	g.audit.Write(rec)

	if g.alerts == nil || rec.Kind == audit.KindExecution {
		return
	}
	g.alerts.Dispatch(alert.Event{
		Timestamp:  rec.Timestamp,
		TenantID:   rec.TenantID,
		ActorID:    rec.ActorID,
		Kind:       string(rec.Kind),
		Action:     rec.Action,
		Amount:     rec.Amount,
		ProposalID: rec.ProposalID,
		Reason:     rec.Reason,
		PolicyHash: rec.PolicyHash,
	})
}

func normalizeArgs(raw string) []byte {
	if strings.TrimSpace(raw) == "" {
		return []byte("{}")
	}
	return []byte(raw)
}

func summarize(tool dispatch.Tool, req model.ActionRequest) string {
	var b strings.Builder
	b.WriteString(tool.Name)
	if req.Table != "" {
		fmt.Fprintf(&b, " on %s", req.Table)
	}
	if req.Amount != nil {
		fmt.Fprintf(&b, " for %s", model.FormatNumber(*req.Amount))
	}
	if req.EmailDomain != "" {
		fmt.Fprintf(&b, " to %s", req.EmailDomain)
	}
	return b.String()
}

func preview(args json.RawMessage) string {
	r := []rune(string(args))
	if len(r) <= maxPreviewRunes {
		return string(r)
	}
	return string(r[:maxPreviewRunes]) + "..."
}
