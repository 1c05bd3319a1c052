package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/actiongate/internal/config"
	"github.com/ppiankov/actiongate/internal/policy"
)

var (
	initMode   string
	initTenant string
	initForce  bool
)

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.actiongate) or system (/etc/actiongate)")
	initCmd.Flags().StringVar(&initTenant, "tenant-id", "example", "Tenant whose starter policy is written")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap actiongate configuration",
	Long: `Creates the config directory, actiongate.yaml, and a starter tenant policy.

User mode (default):  writes to ~/.actiongate/
System mode:          writes to /etc/actiongate/ (requires root)`,
	RunE: runInit,
}

// scaffoldFile is one file init lays down, relative to the config dir.
type scaffoldFile struct {
	rel     string
	content string
}

func scaffold(dir, tenant string) []scaffoldFile {
	return []scaffoldFile{
		{"actiongate.yaml", config.DefaultYAML(dir)},
		{filepath.Join("tenants", tenant+".yaml"), policy.DefaultConfigYAML()},
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := initConfigDir()
	if err != nil {
		return err
	}
	if err := policy.ValidateTenantID(initTenant); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(dir, "proposals"), 0o700); err != nil {
		return fmt.Errorf("create proposals directory: %w", err)
	}

	w := os.Stdout
	fmt.Fprintf(w, "Initializing %s\n", dir)
	for _, f := range scaffold(dir, initTenant) {
		path := filepath.Join(dir, f.rel)
		wrote, err := writeIfMissing(path, f.content)
		if err != nil {
			return err
		}
		state := "kept   "
		if wrote {
			state = "created"
		}
		fmt.Fprintf(w, "  %s %s\n", state, path)
	}
	if !initForce {
		fmt.Fprintln(w, "  (existing files are kept; --force rewrites them)")
	}

	fmt.Fprintf(w, "\nNext:\n  actiongate doctor\n")
	fmt.Fprintf(w, "  actiongate exec --tenant %s list_clients\n", initTenant)
	return nil
}

// initConfigDir maps --mode to a directory.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return "/etc/actiongate", nil
	case "user", "":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".actiongate"), nil
	default:
		return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
	}
}

// writeIfMissing writes content unless path exists and --force is off.
// It reports whether the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if _, err := os.Stat(path); err == nil && !initForce {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
