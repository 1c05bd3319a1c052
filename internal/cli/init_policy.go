package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/actiongate/internal/policy"
)

var initPolicyForce bool

func init() {
	rootCmd.AddCommand(initPolicyCmd)
	initPolicyCmd.Flags().BoolVar(&initPolicyForce, "force", false, "Overwrite an existing policy file")
}

var initPolicyCmd = &cobra.Command{
	Use:   "init-policy <tenant>",
	Short: "Generate a commented tenant policy file",
	Long: "Creates <policy_dir>/<tenant>.yaml with a propose-mode starting policy.\n" +
		"Edit this file to grant authorities and loosen the mode.",
	Args: cobra.ExactArgs(1),
	RunE: runInitPolicy,
}

func runInitPolicy(cmd *cobra.Command, args []string) error {
	tenant := args[0]
	if err := policy.ValidateTenantID(tenant); err != nil {
		return err
	}

	dir := appConfig.PolicyDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create policy directory: %w", err)
	}

	path := filepath.Join(dir, tenant+".yaml")
	if _, err := writePolicyFile(path, initPolicyForce); err != nil {
		return err
	}

	fmt.Printf("Created %s\n", path)
	return nil
}

// writePolicyFile writes the default tenant policy to path. Without force
// an existing file is an error.
func writePolicyFile(path string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.WriteFile(path, []byte(policy.DefaultConfigYAML()), 0644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
