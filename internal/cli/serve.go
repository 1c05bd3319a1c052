package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/actiongate/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "gRPC listen address (default :50051)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC gate server",
	Long: "Runs actiongate as a central gate over gRPC.\n" +
		"Agents connect as clients to evaluate and execute tool calls;\n" +
		"operators approve or reject proposals through the same service.\n" +
		"Policy files are hot-reloaded.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := appConfig.Server.Addr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return fmt.Errorf("failed to start gate: %w", err)
	}
	defer rt.Close()

	srv := server.New(rt.gate, server.Config{Addr: addr}, logger)

	go func() {
		if err := srv.WatchPolicies(ctx, rt.Invalidator(), rt.watch); err != nil {
			fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down gate server...")
		cancel()
		srv.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "actiongate server listening on %s\n", addr)
	switch {
	case appConfig.PolicyDB != "":
		fmt.Fprintf(os.Stderr, "Policies: %s (sqlite)\n", appConfig.PolicyDB)
	case appConfig.PolicyFile != "":
		fmt.Fprintf(os.Stderr, "Policy: %s (hot-reload enabled)\n", appConfig.PolicyFile)
	default:
		fmt.Fprintf(os.Stderr, "Policies: %s/<tenant>.yaml (hot-reload enabled)\n", appConfig.PolicyDir)
	}
	fmt.Fprintf(os.Stderr, "Audit log: %s\n\n", appConfig.AuditLog)

	return srv.Serve()
}
