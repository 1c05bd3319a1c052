package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/actiongate/internal/audit"
	"github.com/ppiankov/actiongate/internal/sim"
)

var (
	simLog    string
	simTenant string
	simFormat string
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simLog, "log", "", "Path to audit log (default: configured audit_log)")
	simulateCmd.Flags().StringVar(&simTenant, "tenant-id", "", "Only replay this tenant's records")
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "text", "Output format (text|json)")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <candidate-policy.yaml>",
	Short: "Replay audit log against a candidate policy and show decision diffs",
	Long: "Reads a recorded audit log, replays each gate decision through the\n" +
		"guardrail chain with the candidate policy, and shows which decisions\n" +
		"would change.\n\n" +
		"Use this to preview policy changes before deploying them.",
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logPath := simLog
	if logPath == "" {
		logPath = appConfig.AuditLog
	}

	result, err := sim.Simulate(logPath, args[0], audit.Filter{TenantID: simTenant})
	if err != nil {
		return err
	}

	switch simFormat {
	case "json":
		out, err := sim.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(sim.FormatText(result))
	}

	return nil
}
