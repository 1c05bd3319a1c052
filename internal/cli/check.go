package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/actiongate/internal/scenario"
	"github.com/ppiankov/actiongate/internal/studio"
)

var (
	checkScenario string
	checkFormat   string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkScenario, "scenario", "", "Glob pattern for scenario YAML files (required)")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
	checkCmd.MarkFlagRequired("scenario")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run policy assertions from scenario files",
	Long: "Evaluates every case in the scenario files matching --scenario\n" +
		"through the guardrail chain. A scenario without an inline policy\n" +
		"uses --policy when set, otherwise <policy_dir>/<tenant>.yaml.\n\n" +
		"Exits 1 when any case fails, so it can gate policy changes in CI.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	matches, err := filepath.Glob(checkScenario)
	if err != nil {
		return fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no scenario files match pattern: %s", checkScenario)
	}

	results, err := runScenarios(matches, scenarioPolicy)
	if err != nil {
		return err
	}

	if checkFormat == "json" {
		out, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Println(out)
	} else {
		fmt.Print(scenario.FormatText(results))
	}

	for _, r := range results {
		if r.Failed > 0 {
			os.Exit(1)
		}
	}
	return nil
}

// scenarioPolicy resolves the fallback policy file for a scenario tenant.
// An empty result falls back to policy.DefaultPath().
func scenarioPolicy(tenant string) string {
	switch {
	case appConfig.PolicyFile != "":
		return appConfig.PolicyFile
	case tenant != "":
		return filepath.Join(appConfig.PolicyDir, tenant+".yaml")
	}
	return ""
}

// runScenarios runs every file concurrently. Results keep file order.
func runScenarios(paths []string, policyFor func(string) string) ([]*scenario.RunResult, error) {
	results := make([]*scenario.RunResult, len(paths))
	var g errgroup.Group
	g.SetLimit(8)
	for i, path := range paths {
		g.Go(func() error {
			// Tool cases only derive requests, but each file gets its own CRM.
			reg, err := studio.NewRegistry(studio.NewCRM())
			if err != nil {
				return err
			}
			r, err := scenario.RunFile(path, policyFor, reg)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
