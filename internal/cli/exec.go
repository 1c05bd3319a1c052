package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	gatev1 "github.com/ppiankov/actiongate/api/gate/v1"
)

var execJSON bool

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().String("tenant", "", "Tenant the call is made for (required)")
	execCmd.Flags().String("actor", "", "Identity recorded in the audit log (default: cli)")
	execCmd.Flags().BoolVar(&execJSON, "json", false, "Print the full outcome as JSON")
	addRemoteFlag(execCmd)
}

var execCmd = &cobra.Command{
	Use:   "exec <tool> [args-json]",
	Short: "Execute a tool call through the gate",
	Long: "Evaluates the call against the tenant policy, then runs it, files a\n" +
		"proposal for approval, or denies it. Every outcome is audited.\n" +
		"Exit code 77 indicates the tool did not run.",
	Args: cobra.RangeArgs(1, 2),
	RunE: runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	actor := appConfig.Agent.ActorID
	if actor == "" {
		actor = "cli"
	}
	tool, rawArgs := args[0], ""
	if len(args) == 2 {
		rawArgs = args[1]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var resp gatev1.ExecuteResponse
	if remoteAddr != "" {
		c, err := dialRemote()
		if err != nil {
			return err
		}
		defer c.Close()
		resp, err = c.Execute(ctx, tenant, actor, tool, rawArgs)
		if err != nil {
			fmt.Fprintln(os.Stderr, resp.Message)
			return err
		}
	} else {
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		out := rt.gate.Open(ctx, tenant, actor).Execute(ctx, tool, rawArgs)
		// Close flushes the audit record before we exit.
		if err := rt.Close(); err != nil {
			logger.Warn("close runtime", "error", err)
		}
		resp = gatev1.ExecuteResponse{
			Decision: out.Decision,
			Proposal: out.Proposal,
			Result:   out.Result,
			Error:    out.Error,
			Message:  out.Message(),
		}
	}

	if execJSON {
		if err := printJSON(resp); err != nil {
			return err
		}
	} else {
		fmt.Println(resp.Message)
	}
	if resp.Result == nil || !resp.Result.OK {
		os.Exit(exitBlocked)
	}
	return nil
}
