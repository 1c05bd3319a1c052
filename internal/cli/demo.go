package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/actiongate/internal/audit"
	"github.com/ppiankov/actiongate/internal/config"
	"github.com/ppiankov/actiongate/internal/gate"
	"github.com/ppiankov/actiongate/internal/studio"
)

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.AddCommand(studioDemoCmd)
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run demonstration scenarios",
}

var studioDemoCmd = &cobra.Command{
	Use:   "studio",
	Short: "Run the studio demo (invoice over limit must wait for approval)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStudioDemo(cmd.Context(), os.Stdout)
	},
}

const demoPolicy = `mode: auto_safe
authorities: [READ_CLIENTS, CREATE_LEAD, CREATE_INVOICE, SEND_EMAIL]
approval_required_over_amount: 500
restricted_fields:
  clients: [iban, tax_id]
email_domain_trustlist: [northwind.io]
auto_safe_actions: [list_clients, create_lead, create_invoice]
`

const demoTenant = "demo"

// demoStep is one governed call and the outcome it must produce.
type demoStep struct {
	tool string
	args string
	want string // executed | proposed | denied
}

func runStudioDemo(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Fprintln(w, "=== actiongate studio demo ===")
	fmt.Fprintln(w, "Purpose: prove the gate decides before any tool runs.")
	fmt.Fprintln(w)

	tmpDir, err := os.MkdirTemp("", "actiongate-demo-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := &config.Config{
		PolicyDir: filepath.Join(tmpDir, "tenants"),
		Proposals: config.ProposalConfig{Store: config.StoreFile, Path: filepath.Join(tmpDir, "proposals")},
		AuditLog:  filepath.Join(tmpDir, "audit.jsonl"),
	}
	if err := os.MkdirAll(cfg.PolicyDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(cfg.PolicyDir, demoTenant+".yaml"), []byte(demoPolicy), 0o644); err != nil {
		return fmt.Errorf("failed to write demo policy: %w", err)
	}

	crm := studio.NewDemoCRM()
	clientID := crm.Clients()[0].ID

	rt, err := newRuntime(ctx, cfg, crm)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			rt.Close()
		}
	}()

	fmt.Fprintf(w, "Tenant %q policy:\n", demoTenant)
	fmt.Fprintln(w, indent(demoPolicy))

	steps := []demoStep{
		{"list_clients", `{}`, "executed"},
		{"create_lead", `{"name":"Ada Lovelace","email":"ada@northwind.io"}`, "executed"},
		{"create_invoice", fmt.Sprintf(`{"client_id":%q,"total":2000,"currency":"EUR"}`, clientID), "proposed"},
		{"send_invoice", `{"invoice_id":"inv-1"}`, "denied"},
	}

	session := rt.gate.Open(ctx, demoTenant, "demo-agent")
	var pendingID string
	failed := 0
	for _, step := range steps {
		out := session.Execute(ctx, step.tool, step.args)
		got := outcomeLabel(out)
		icon := "✓"
		if got != step.want {
			icon = "✗"
			failed++
		}
		fmt.Fprintf(w, "  %s %-15s → %-8s %s\n", icon, step.tool, got, out.Decision.Reason)
		if out.Proposal != nil && pendingID == "" {
			pendingID = out.Proposal.ID
		}
	}

	fmt.Fprintln(w)
	if pendingID == "" {
		return fmt.Errorf("demo failed: invoice over the limit was not proposed")
	}
	out, err := rt.gate.Approve(ctx, pendingID, "owner")
	if err != nil {
		return fmt.Errorf("demo failed: approve %s: %w", pendingID, err)
	}
	fmt.Fprintf(w, "Approved %s by owner: %s\n", pendingID, out.Message())
	if !out.Executed() {
		failed++
	}

	closed = true
	if err := rt.Close(); err != nil {
		return err
	}

	vr := audit.Verify(cfg.AuditLog)
	fmt.Fprintln(w)
	if !vr.Valid {
		return fmt.Errorf("demo failed: audit chain broken at line %d: %s", vr.ErrorLine, vr.Error)
	}
	fmt.Fprintf(w, "Audit chain intact: %d records.\n", vr.Lines)

	if failed > 0 {
		return fmt.Errorf("demo failed: %d step(s) produced an unexpected outcome", failed)
	}
	fmt.Fprintln(w, "Result: every call was governed before it ran.")
	return nil
}

func outcomeLabel(out gate.Outcome) string {
	switch {
	case out.Executed():
		return "executed"
	case out.Proposal != nil:
		return "proposed"
	case out.Decision.Denied():
		return "denied"
	}
	return "failed"
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return "    " + strings.Join(lines, "\n    ") + "\n"
}
