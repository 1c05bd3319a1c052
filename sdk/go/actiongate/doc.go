// Package actiongate embeds the governed tool path in a Go agent process.
// Tools are registered with their governance metadata; every call is
// evaluated against the tenant policy and then executed, turned into a
// proposal for a human, or denied. Every outcome is audited.
//
// Usage:
//
//	ag, err := actiongate.New(
//	    actiongate.WithPolicyDir("/etc/actiongate/tenants"),
//	    actiongate.WithTenant("acme"),
//	    actiongate.WithActor("billing-agent"),
//	    actiongate.WithTools(actiongate.Tool{
//	        Name:       "create_invoice",
//	        Governance: actiongate.Governance{Authority: "CREATE_INVOICE", AmountField: "total"},
//	        Func:       createInvoice,
//	    }),
//	)
//	defer ag.Close()
//	data, err := ag.Execute(ctx, "create_invoice", map[string]any{"client_id": "c1", "total": 900})
//
// A call that did not run returns a *BlockedError. When the policy asks for
// approval, BlockedError.ProposalID names the pending proposal; Approve runs it.
//
// The SDK links directly against internal packages for zero-subprocess
// overhead. External users import github.com/ppiankov/actiongate/sdk/go/actiongate.
package actiongate
