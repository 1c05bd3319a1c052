package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	gatev1 "github.com/ppiankov/actiongate/api/gate/v1"
)

func init() {
	rootCmd.AddCommand(approveCmd)
	approveCmd.Flags().String("approver", "", "Identity recorded on the approval (required)")
	addRemoteFlag(approveCmd)
}

var approveCmd = &cobra.Command{
	Use:   "approve <proposal-id>",
	Short: "Approve a pending proposal and run it",
	Long: "Re-evaluates the proposal against the current tenant policy, then\n" +
		"executes it exactly once. A proposal the policy now denies is rejected\n" +
		"instead; an expired one is closed. Exit code 77 if the tool did not run.",
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func requireApprover() (string, error) {
	if appConfig.Agent.Approver == "" {
		return "", fmt.Errorf("--approver is required (or set agent.approver / ACTIONGATE_AGENT_APPROVER)")
	}
	return appConfig.Agent.Approver, nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	approver, err := requireApprover()
	if err != nil {
		return err
	}
	id := args[0]
	ctx := context.Background()

	var resp gatev1.ExecuteResponse
	if remoteAddr != "" {
		c, err := dialRemote()
		if err != nil {
			return err
		}
		defer c.Close()
		if resp, err = c.Approve(ctx, id, approver); err != nil {
			return err
		}
	} else {
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		out, aerr := rt.gate.Approve(ctx, id, approver)
		if err := rt.Close(); err != nil {
			logger.Warn("close runtime", "error", err)
		}
		if aerr != nil {
			return aerr
		}
		resp = gatev1.ExecuteResponse{
			Decision: out.Decision,
			Proposal: out.Proposal,
			Result:   out.Result,
			Error:    out.Error,
			Message:  out.Message(),
		}
	}

	fmt.Printf("Approved %s by %s\n", id, approver)
	fmt.Println(resp.Message)
	if resp.Result == nil || !resp.Result.OK {
		os.Exit(exitBlocked)
	}
	return nil
}
