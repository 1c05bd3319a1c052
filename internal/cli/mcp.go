package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	gatemcp "github.com/ppiankov/actiongate/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("tenant", "", "Tenant the agent acts for (required)")
	mcpCmd.Flags().String("actor", "", "Agent identity recorded in the audit log (required)")
	mcpCmd.Flags().String("approver", "", "Identity recorded on approvals made through the MCP tools (default: actor)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs actiongate as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes governed tools: gate_execute, gate_check, gate_approve,\n" +
		"gate_reject, gate_pending.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return fmt.Errorf("failed to start gate: %w", err)
	}
	defer rt.Close()

	srv, err := gatemcp.New(rt.gate, gatemcp.Config{
		TenantID: appConfig.Agent.TenantID,
		ActorID:  appConfig.Agent.ActorID,
		Approver: appConfig.Agent.Approver,
		Version:  version,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	go func() {
		if err := rt.watchPolicies(ctx); err != nil {
			logger.Warn("hot-reload disabled", "error", err)
		}
	}()

	fmt.Fprintf(os.Stderr, "actiongate MCP server running on stdio (tenant %s, actor %s)\n\n",
		appConfig.Agent.TenantID, appConfig.Agent.ActorID)

	return srv.Run(ctx)
}
