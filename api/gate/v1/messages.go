package gatev1

import (
	"github.com/ppiankov/actiongate/internal/dispatch"
	"github.com/ppiankov/actiongate/internal/model"
	"github.com/ppiankov/actiongate/internal/proposal"
)

// EvaluateRequest asks for a decision without side effects. Either Request
// is given, or Tool (plus Args) from which the request is derived.
type EvaluateRequest struct {
	TenantID string               `json:"tenant_id"`
	ActorID  string               `json:"actor_id,omitempty"`
	Tool     string               `json:"tool,omitempty"`
	Args     string               `json:"args,omitempty"`
	Request  *model.ActionRequest `json:"request,omitempty"`
}

type EvaluateResponse struct {
	Decision     model.Decision      `json:"decision"`
	Request      model.ActionRequest `json:"request"`
	PolicyHash   string              `json:"policy_hash,omitempty"`
	PolicySource string              `json:"policy_source,omitempty"`
}

type ExecuteRequest struct {
	TenantID string `json:"tenant_id"`
	ActorID  string `json:"actor_id"`
	Tool     string `json:"tool"`
	Args     string `json:"args,omitempty"`
}

// ExecuteResponse mirrors a governed outcome. Message is the user-facing text.
type ExecuteResponse struct {
	Decision model.Decision     `json:"decision"`
	Proposal *proposal.Proposal `json:"proposal,omitempty"`
	Result   *dispatch.Result   `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
	Message  string             `json:"message"`
}

type ApproveRequest struct {
	ID       string `json:"id"`
	Approver string `json:"approver"`
}

type RejectRequest struct {
	ID       string `json:"id"`
	Approver string `json:"approver"`
	Note     string `json:"note,omitempty"`
}

type ProposalResponse struct {
	Proposal *proposal.Proposal `json:"proposal"`
}

type ListPendingRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
}

type ListPendingResponse struct {
	Proposals []*proposal.Proposal `json:"proposals"`
}
