package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(expireCmd)
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire overdue pending proposals",
	Long:  "Moves every pending proposal past its deadline to expired and audits each one.\nSuitable for a cron job.",
	Args:  cobra.NoArgs,
	RunE:  runExpire,
}

func runExpire(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	expired, err := rt.gate.ExpireDue(ctx)
	for _, p := range expired {
		fmt.Printf("expired %s  %s/%s  %s\n", p.ID, p.TenantID, p.ActorID, p.Tool)
	}
	if err != nil {
		return fmt.Errorf("expire proposals: %w", err)
	}
	fmt.Printf("%d proposals expired.\n", len(expired))
	return nil
}
