package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/actiongate/internal/proposal"
)

var pendingJSON bool

func init() {
	rootCmd.AddCommand(pendingCmd)
	pendingCmd.Flags().String("tenant", "", "Only list this tenant's proposals")
	pendingCmd.Flags().BoolVar(&pendingJSON, "json", false, "Print proposals as JSON")
	addRemoteFlag(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List proposals waiting for approval",
	Long:  "Shows pending proposals, oldest first, with their tenant, actor, reason and expiry.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	tenant := appConfig.Agent.TenantID

	var (
		list []*proposal.Proposal
		err  error
	)
	if remoteAddr != "" {
		c, derr := dialRemote()
		if derr != nil {
			return derr
		}
		defer c.Close()
		list, err = c.ListPending(ctx, tenant)
	} else {
		rt, rerr := openRuntime(ctx)
		if rerr != nil {
			return rerr
		}
		defer rt.Close()
		list, err = rt.gate.Pending(ctx, tenant)
	}
	if err != nil {
		return fmt.Errorf("failed to list proposals: %w", err)
	}

	if pendingJSON {
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No pending proposals.")
		return nil
	}

	fmt.Printf("%-38s %-12s %-14s %-16s %-40s %s\n", "ID", "TENANT", "ACTOR", "TOOL", "REASON", "EXPIRES")
	for _, p := range list {
		fmt.Printf("%-38s %-12s %-14s %-16s %-40s %s\n",
			p.ID,
			truncate(p.TenantID, 12),
			truncate(p.ActorID, 14),
			p.Tool,
			truncate(p.Reason, 40),
			p.ExpiresAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
