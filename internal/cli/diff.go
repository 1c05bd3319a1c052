package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/actiongate/internal/model"
	"github.com/ppiankov/actiongate/internal/policy"
	"github.com/ppiankov/actiongate/internal/policydiff"
)

var (
	diffFormat       string
	diffFailOnLoosen bool
	diffTenant       string
)

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text", "Output format (text|json)")
	diffCmd.Flags().BoolVar(&diffFailOnLoosen, "fail-on-loosen", false, "Exit 1 when the new policy is looser in any respect")
	diffCmd.Flags().StringVar(&diffTenant, "against-tenant", "", "Compare <new.yaml> with this tenant's configured policy file")
}

var diffCmd = &cobra.Command{
	Use:   "diff [old.yaml] <new.yaml>",
	Short: "Compare two policy files and show changes",
	Long: "Shows what changed between two policy documents: mode, amount limit,\n" +
		"authorities, restricted fields, trusted domains and auto_safe actions,\n" +
		"each tagged stricter or looser. With --against-tenant the old side is\n" +
		"the tenant's current policy file. --fail-on-loosen exits 1 on any\n" +
		"loosening, for use in CI.",
	Args: cobra.RangeArgs(1, 2),
	RunE: runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	paths, err := diffPaths(args)
	if err != nil {
		return err
	}

	var docs [2]*model.PolicyConfig
	for i, side := range []string{"old", "new"} {
		cfg, err := policy.LoadConfig(paths[i])
		if err != nil {
			return fmt.Errorf("load %s policy: %w", side, err)
		}
		docs[i] = cfg
	}

	result := policydiff.Diff(docs[0], docs[1])
	result.OldPath, result.NewPath = paths[0], paths[1]

	if diffFormat == "json" {
		out, err := policydiff.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	} else {
		fmt.Print(policydiff.FormatText(result))
	}

	if diffFailOnLoosen && result.Loosened {
		os.Exit(1)
	}
	return nil
}

// diffPaths resolves the old and new document paths from the arguments
// and --against-tenant.
func diffPaths(args []string) ([2]string, error) {
	switch {
	case diffTenant != "" && len(args) == 1:
		if err := policy.ValidateTenantID(diffTenant); err != nil {
			return [2]string{}, err
		}
		return [2]string{scenarioPolicy(diffTenant), args[0]}, nil
	case diffTenant != "":
		return [2]string{}, fmt.Errorf("--against-tenant takes a single <new.yaml>")
	case len(args) == 2:
		return [2]string{args[0], args[1]}, nil
	default:
		return [2]string{}, fmt.Errorf("diff needs <old.yaml> <new.yaml>, or --against-tenant with <new.yaml>")
	}
}
