package model

import "github.com/cockroachdb/errors"

// Error taxonomy for the governed path. Decisions are normally returned as
// data; these sentinels exist for callers that surface them as errors and
// for errors.Is checks across package boundaries.
var (
	ErrAuthorityDenied  = errors.New("authority denied")
	ErrPolicyDenied     = errors.New("policy denied")
	ErrApprovalRequired = errors.New("approval required")
	ErrToolNotFound     = errors.New("tool not found")
	ErrArgumentParse    = errors.New("argument parse error")
	ErrToolExecution    = errors.New("tool execution error")
	ErrAuditWrite       = errors.New("audit write error")

	ErrProposalNotFound = errors.New("proposal not found")
	ErrProposalResolved = errors.New("proposal already resolved")
	ErrProposalExpired  = errors.New("proposal expired")
	ErrProposalPending  = errors.New("pending proposal already exists")
	ErrLocked           = errors.New("resource locked")
)

// DecisionError converts a non-Allow decision into an error carrying the
// reason. Returns nil for Allow.
func DecisionError(d Decision) error {
	switch d.Verdict {
	case VerdictAllow:
		return nil
	case VerdictNeedsApproval:
		return errors.Mark(errors.New(d.Reason), ErrApprovalRequired)
	default:
		if isAuthorityReason(d.Reason) {
			return errors.Mark(errors.New(d.Reason), ErrAuthorityDenied)
		}
		return errors.Mark(errors.New(d.Reason), ErrPolicyDenied)
	}
}

func isAuthorityReason(reason string) bool {
	const prefix = "Authority "
	return len(reason) > len(prefix) && reason[:len(prefix)] == prefix
}
