package policy

import (
	"fmt"
	"strings"

	"github.com/ppiankov/actiongate/internal/model"
)

// Evaluate runs the guardrail chain for one request against a policy snapshot.
//
// Evaluation order (must not be changed):
//  1. Authority check: deny, no mode can bypass it
//  2. read_only mode: approval
//  3. Restricted fields on the target table: approval
//  4. Amount over the auto limit: approval (applies in every mode)
//  5. Email domain outside the trustlist: approval
//  6. propose mode: approval
//  7. auto_safe mode: action must be listed, risk must be low
//  8. Allow
//
// Absent optional request fields skip the rule that reads them.
// A nil policy evaluates as the tenant-less safe default.
func Evaluate(p *model.Policy, req model.ActionRequest) model.Decision {
	if p == nil {
		p = model.SafeDefault("")
	}

	// Step 1: Authority
	if !p.HasAuthority(req.Authority) {
		return model.Deny(fmt.Sprintf("Authority %s not granted.", req.Authority))
	}

	mode := p.Mode()

	// Step 2: read_only
	if mode == model.ModeReadOnly {
		return model.NeedsApproval("Policy read_only.")
	}

	// Step 3: Restricted fields
	if req.Table != "" && len(req.Fields) > 0 {
		if hits := p.RestrictedHits(req.Table, req.FieldNames()); len(hits) > 0 {
			return model.NeedsApproval(fmt.Sprintf("Restricted fields: %s.", strings.Join(hits, ", ")))
		}
	}

	// Step 4: Amount threshold
	if req.Amount != nil && *req.Amount > p.ApprovalLimit() {
		return model.NeedsApproval(fmt.Sprintf("Amount %s exceeds auto limit %s.",
			model.FormatNumber(*req.Amount), model.FormatNumber(p.ApprovalLimit())))
	}

	// Step 5: Email domain trustlist
	if req.EmailDomain != "" && !p.TrustsDomain(req.EmailDomain) {
		return model.NeedsApproval(fmt.Sprintf("Email domain %s not in trustlist.", req.EmailDomain))
	}

	switch mode {
	// Step 6: propose
	case model.ModePropose:
		return model.NeedsApproval("Propose mode.")

	// Step 7: auto_safe
	case model.ModeAutoSafe:
		if req.Action != "" && !p.IsAutoSafe(req.Action) {
			return model.NeedsApproval(fmt.Sprintf("Action %s not in auto_safe list.", req.Action))
		}
		if req.Risk != model.RiskNone && req.Risk != model.RiskLow {
			return model.NeedsApproval(fmt.Sprintf("Risk %s requires approval.", req.Risk))
		}
	}

	// Step 8: auto_all, or auto_safe that survived every check
	return model.Allow()
}
