package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	gatev1 "github.com/ppiankov/actiongate/api/gate/v1"
	"github.com/ppiankov/actiongate/internal/dispatch"
)

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().String("tenant", "", "Tenant whose policy is evaluated (required)")
	addRemoteFlag(evaluateCmd)
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <tool> [args-json]",
	Short: "Show the decision a tool call would get, without running it",
	Long: "Derives the action request from the tool's governance descriptor and\n" +
		"runs it through the tenant policy. Nothing is executed, proposed or\n" +
		"audited. Exit code 77 if the call would not run unattended.",
	Args: cobra.RangeArgs(1, 2),
	RunE: runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	tool, rawArgs := args[0], ""
	if len(args) == 2 {
		rawArgs = args[1]
	}

	ctx := context.Background()
	var resp gatev1.EvaluateResponse
	if remoteAddr != "" {
		c, err := dialRemote()
		if err != nil {
			return err
		}
		defer c.Close()
		resp, err = c.EvaluateTool(ctx, tenant, tool, rawArgs)
		if err != nil {
			// Fail-closed: print the deny before reporting the error.
			printJSON(resp)
			return err
		}
	} else {
		resp, err = evaluateLocal(ctx, tenant, tool, rawArgs)
		if err != nil {
			return err
		}
	}

	if err := printJSON(resp); err != nil {
		return err
	}
	if !resp.Decision.Allowed() {
		os.Exit(exitBlocked)
	}
	return nil
}

func evaluateLocal(ctx context.Context, tenant, toolName, rawArgs string) (gatev1.EvaluateResponse, error) {
	rt, err := openRuntime(ctx)
	if err != nil {
		return gatev1.EvaluateResponse{}, err
	}
	defer rt.Close()

	tool, ok := rt.gate.Registry().Lookup(toolName)
	if !ok {
		return gatev1.EvaluateResponse{}, fmt.Errorf("%s: %s", dispatch.CodeUnknownTool, toolName)
	}
	parsed, err := dispatch.ParseArgs(rawArgs)
	if err != nil {
		return gatev1.EvaluateResponse{}, fmt.Errorf("%s: %w", dispatch.CodeBadJSON, err)
	}

	session := rt.gate.Open(ctx, tenant, "cli")
	req := tool.Request(parsed)
	return gatev1.EvaluateResponse{
		Decision:     session.Check(req),
		Request:      req,
		PolicyHash:   session.Policy().Hash(),
		PolicySource: session.Policy().Source(),
	}, nil
}
