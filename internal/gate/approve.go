package gate

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/ppiankov/actiongate/internal/audit"
	"github.com/ppiankov/actiongate/internal/dispatch"
	"github.com/ppiankov/actiongate/internal/model"
	"github.com/ppiankov/actiongate/internal/policy"
	"github.com/ppiankov/actiongate/internal/proposal"
)

// SystemActor resolves proposals that nobody decided on.
const SystemActor = "system"

const expiredReason = "Proposal expired."

// Approve executes a pending proposal on behalf of approver. The returned
// error is non-nil when nothing ran: unknown or resolved proposal, lock
// contention, expiry, or a policy that now denies the action.
func (g *Gate) Approve(ctx context.Context, id, approver string) (Outcome, error) {
	p, err := g.proposals.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if p.Status != proposal.StatusPending {
		return Outcome{Proposal: p}, errors.Wrapf(proposal.ErrConflict, "proposal %s is %s", id, p.Status)
	}

	key := p.IdempotencyKey
	if key == "" {
		key = p.ID
	}
	release, err := g.locker.Acquire(ctx, key, g.lockTTL)
	if err != nil {
		return Outcome{Proposal: p}, err
	}
	defer release()

	if p.Expired(g.now()) {
		expired, err := g.proposals.Transition(ctx, id, proposal.StatusPending, proposal.StatusExpired, SystemActor, "")
		if err != nil {
			return Outcome{Proposal: p}, err
		}
		d := model.Deny(expiredReason)
		g.recordResolution(expired, d, map[string]any{"approver": approver})
		return Outcome{Decision: d, Proposal: expired}, errors.Mark(errors.Newf("proposal %s expired at %s", id, p.ExpiresAt.Format("2006-01-02T15:04:05Z")), model.ErrProposalExpired)
	}

	// The policy may have changed since the proposal was made.
	pol := g.policies.Load(ctx, p.TenantID)
	if d := policy.Evaluate(pol, p.Request); d.Denied() {
		rejected, err := g.proposals.Transition(ctx, id, proposal.StatusPending, proposal.StatusRejected, SystemActor, d.Reason)
		if err != nil {
			return Outcome{Proposal: p}, err
		}
		g.recordResolution(rejected, d, map[string]any{"approver": approver, "revalidated": true})
		return Outcome{Decision: d, Proposal: rejected}, model.DecisionError(d)
	}

	approved, err := g.proposals.Transition(ctx, id, proposal.StatusPending, proposal.StatusApproved, approver, "")
	if err != nil {
		return Outcome{Proposal: p}, err
	}
	g.logger.Info("proposal approved", "id", id, "tenant", p.TenantID, "tool", p.Tool, "approver", approver)

	res := g.dispatcher.Dispatch(ctx, dispatch.Call{
		ToolName: approved.Tool,
		RawArgs:  string(approved.Args),
		Context: dispatch.ToolContext{
			TenantID:   approved.TenantID,
			ActorID:    approved.ActorID,
			ProposalID: approved.ID,
		},
	})

	to, note := proposal.StatusExecuted, ""
	if !res.OK {
		to = proposal.StatusFailed
		note = res.Error
		if res.Refused {
			note = "refused: " + res.Reason
		}
	}
	// Finalize even if the caller gave up; the tool already ran.
	final, err := g.proposals.Transition(context.WithoutCancel(ctx), id, proposal.StatusApproved, to, "", note)
	if err != nil {
		g.logger.Error("proposal result not stored", "id", id, "status", to, "error", err)
		final = approved
	}

	d := model.Allow()
	g.recordResult(approved.TenantID, approved.ActorID, approved.Request, d, approved.ID, pol.Hash(), res, map[string]any{"approver": approver})
	return Outcome{Decision: d, Proposal: final, Result: &res}, nil
}

// Reject closes a pending proposal without running it.
func (g *Gate) Reject(ctx context.Context, id, approver, note string) (*proposal.Proposal, error) {
	p, err := g.proposals.Transition(ctx, id, proposal.StatusPending, proposal.StatusRejected, approver, note)
	if err != nil {
		return nil, err
	}
	reason := fmt.Sprintf("Rejected by %s.", approver)
	if note != "" {
		reason = fmt.Sprintf("Rejected by %s: %s", approver, note)
	}
	g.recordResolution(p, model.Deny(reason), nil)
	return p, nil
}

// ExpireDue expires every overdue pending proposal and audits each one.
func (g *Gate) ExpireDue(ctx context.Context) ([]*proposal.Proposal, error) {
	expired, err := g.proposals.ExpireDue(ctx, g.now())
	for _, p := range expired {
		g.recordResolution(p, model.Deny(expiredReason), nil)
	}
	if len(expired) > 0 {
		g.logger.Info("proposals expired", "count", len(expired))
	}
	return expired, err
}

// Pending lists a tenant's pending proposals, oldest first. An empty
// tenant lists every tenant.
func (g *Gate) Pending(ctx context.Context, tenantID string) ([]*proposal.Proposal, error) {
	return g.proposals.List(ctx, proposal.Filter{TenantID: tenantID, Status: proposal.StatusPending})
}

// Proposal returns one proposal by id.
func (g *Gate) Proposal(ctx context.Context, id string) (*proposal.Proposal, error) {
	return g.proposals.Get(ctx, id)
}

// recordResolution audits a proposal that ended without running.
func (g *Gate) recordResolution(p *proposal.Proposal, d model.Decision, extra map[string]any) {
	payload := map[string]any{"tool": p.Tool, "status": p.Status}
	for k, v := range extra {
		payload[k] = v
	}
	g.emit(audit.Record{
		TenantID:   p.TenantID,
		ActorID:    p.ActorID,
		Kind:       audit.KindDenial,
		Decision:   d.Verdict,
		Reason:     d.Reason,
		ProposalID: p.ID,
		Payload:    marshalPayload(payload),
	}, p.Request)
}
