package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/actiongate/internal/proposal"
)

var rejectNote string

func init() {
	rootCmd.AddCommand(rejectCmd)
	rejectCmd.Flags().String("approver", "", "Identity recorded on the rejection (required)")
	rejectCmd.Flags().StringVar(&rejectNote, "note", "", "Reason shown to the agent")
	addRemoteFlag(rejectCmd)
}

var rejectCmd = &cobra.Command{
	Use:   "reject <proposal-id>",
	Short: "Reject a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

func runReject(cmd *cobra.Command, args []string) error {
	approver, err := requireApprover()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var p *proposal.Proposal
	if remoteAddr != "" {
		c, err := dialRemote()
		if err != nil {
			return err
		}
		defer c.Close()
		p, err = c.Reject(ctx, args[0], approver, rejectNote)
		if err != nil {
			return err
		}
	} else {
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()
		if p, err = rt.gate.Reject(ctx, args[0], approver, rejectNote); err != nil {
			return err
		}
	}

	fmt.Printf("Rejected %s (%s) by %s\n", p.ID, p.Tool, approver)
	return nil
}
