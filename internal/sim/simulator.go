package sim

import (
	"fmt"

	"github.com/ppiankov/actiongate/internal/audit"
	"github.com/ppiankov/actiongate/internal/model"
	"github.com/ppiankov/actiongate/internal/policy"
)

// Simulate replays the gate decisions recorded in an audit log against a
// candidate policy and returns the decisions that would change.
// Records without a request (tool failures) and records resolving an
// earlier proposal are skipped; the proposal record already carries the
// gate's original decision.
func Simulate(logPath, policyPath string, filter audit.Filter) (*SimResult, error) {
	cfg, err := policy.LoadConfig(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	replay, err := audit.Replay(logPath, filter)
	if err != nil {
		return nil, err
	}

	result := &SimResult{
		PolicyPath: policyPath,
	}

	snapshots := make(map[string]*model.Policy)
	for _, rec := range replay.Records {
		if !replayable(rec) {
			continue
		}
		result.TotalActions++

		p, ok := snapshots[rec.TenantID]
		if !ok {
			p = model.NewPolicy(rec.TenantID, policyPath, *cfg)
			snapshots[rec.TenantID] = p
		}
		if result.PolicyHash == "" {
			result.PolicyHash = p.Hash()
		}

		d := policy.Evaluate(p, *rec.Request)
		if d.Verdict == rec.Decision {
			continue
		}
		result.add(DiffEntry{
			Timestamp:   rec.Timestamp,
			TenantID:    rec.TenantID,
			ActorID:     rec.ActorID,
			Action:      rec.Action,
			OldDecision: rec.Decision,
			NewDecision: d.Verdict,
			OldReason:   rec.Reason,
			NewReason:   d.Reason,
		})
	}

	return result, nil
}

func replayable(rec audit.Record) bool {
	if rec.Request == nil || rec.Decision == "" {
		return false
	}
	if rec.ProposalID != "" && rec.Kind != audit.KindProposal {
		return false
	}
	return true
}
