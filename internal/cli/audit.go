package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/actiongate/internal/audit"
	"github.com/ppiankov/actiongate/internal/model"
)

var (
	tailLines int

	replayTenant string
	replayActor  string
	replayKind   string
	replayFrom   string
	replayTo     string
	replayFormat string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditReplayCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent records to show")

	for _, c := range []*cobra.Command{auditTailCmd, auditReplayCmd} {
		c.Flags().StringVar(&replayTenant, "tenant-id", "", "Only records for this tenant")
		c.Flags().StringVar(&replayActor, "actor-id", "", "Only records for this actor")
		c.Flags().StringVar(&replayKind, "kind", "", "Only records of this kind (proposal|execution|denial|failure)")
		c.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
		c.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
		c.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
	}
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.\nWithout a path argument, the configured audit_log is used.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every record's prev_hash\nmatches the SHA-256 of the previous line. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit records",
	Long:  "Prints the last N records, one per line, after applying the same\nfilters as replay.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay [path]",
	Short: "Replay audit records as a timeline",
	Long:  "Reads the audit log, filters by tenant, actor, kind and time range,\nand renders a decision timeline with per-kind counts.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditReplay,
}

func auditPath(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return appConfig.AuditLog
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(auditPath(args))
	if result.Valid {
		fmt.Printf("OK: %d records verified (%d proposal, %d execution, %d denial, %d failure)\n",
			result.Lines,
			result.Kinds[audit.KindProposal],
			result.Kinds[audit.KindExecution],
			result.Kinds[audit.KindDenial],
			result.Kinds[audit.KindFailure])
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	filter, err := replayFilter()
	if err != nil {
		return err
	}
	result, err := audit.Replay(auditPath(args), filter)
	if err != nil {
		return err
	}

	recs := result.Records
	if tailLines >= 0 && len(recs) > tailLines {
		recs = recs[len(recs)-tailLines:]
	}
	for _, rec := range recs {
		if replayFormat == "json" {
			line, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			fmt.Println(string(line))
			continue
		}
		fmt.Println(tailLine(rec))
	}
	return nil
}

// tailLine renders one record on a single line.
func tailLine(rec audit.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-9s %s/%s  %s", rec.Timestamp, rec.Kind, rec.TenantID, rec.ActorID, rec.Action)
	if rec.Amount != nil {
		fmt.Fprintf(&b, "  amount=%s", model.FormatNumber(*rec.Amount))
	}
	if rec.ProposalID != "" {
		fmt.Fprintf(&b, "  proposal=%s", rec.ProposalID)
	}
	if rec.Reason != "" {
		fmt.Fprintf(&b, "  %q", rec.Reason)
	}
	return b.String()
}

// replayFilter builds the record filter shared by tail and replay.
func replayFilter() (audit.Filter, error) {
	filter := audit.Filter{
		TenantID: replayTenant,
		ActorID:  replayActor,
		Kind:     audit.Kind(strings.ToLower(replayKind)),
	}
	for _, bound := range []struct {
		flag, value string
		dst         *time.Time
	}{
		{"--from", replayFrom, &filter.From},
		{"--to", replayTo, &filter.To},
	} {
		if bound.value == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, bound.value)
		if err != nil {
			return filter, fmt.Errorf("invalid %s time %q: %w", bound.flag, bound.value, err)
		}
		*bound.dst = t
	}
	return filter, nil
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	filter, err := replayFilter()
	if err != nil {
		return err
	}
	result, err := audit.Replay(auditPath(args), filter)
	if err != nil {
		return err
	}

	if replayFormat == "json" {
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	fmt.Print(audit.FormatTimeline(result))
	return nil
}
