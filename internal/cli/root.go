package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ppiankov/actiongate/internal/config"
	"github.com/ppiankov/actiongate/internal/logging"
)

var (
	configFile string

	// v holds defaults, env and bound flags; appConfig and logger are
	// built from it before any command runs.
	v         = config.NewViper()
	appConfig *config.Config
	logger    = log.Default()
)

// configFlags maps flags to config keys. Command-local flags such as
// --addr or --tenant are bound when the running command defines them.
var configFlags = map[string]string{
	"log-level":       "log.level",
	"log-format":      "log.format",
	"policy-dir":      "policy_dir",
	"policy":          "policy_file",
	"policy-db":       "policy_db",
	"proposals-store": "proposals.store",
	"proposals-path":  "proposals.path",
	"audit-log":       "audit_log",
	"redis-url":       "redis_url",
	"addr":            "server.addr",
	"tenant":          "agent.tenant_id",
	"actor":           "agent.actor_id",
	"approver":        "agent.approver",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default: ./actiongate.yaml or ~/.actiongate/actiongate.yaml)")
	pf.String("log-level", "", "Log level (debug|info|warn|error)")
	pf.String("log-format", "", "Log format (text|json|logfmt)")
	pf.String("policy-dir", "", "Directory of per-tenant policy files (<tenant>.yaml)")
	pf.String("policy", "", "Single policy file applied to every tenant")
	pf.String("policy-db", "", "SQLite database holding tenant policies")
	pf.String("proposals-store", "", "Proposal store driver (file|sqlite)")
	pf.String("proposals-path", "", "Proposal store directory or database path")
	pf.String("audit-log", "", "Path to audit log JSONL file")
	pf.String("redis-url", "", "Redis URL for approval locks shared between processes")
}

var rootCmd = &cobra.Command{
	Use:   "actiongate",
	Short: "Governed tool execution for studio agents",
	Long: "Every tool call an agent makes is checked against the tenant policy,\n" +
		"then executed, turned into a proposal for a human, or denied.\n" +
		"Every outcome lands in a hash-chained audit log.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func loadConfig(cmd *cobra.Command) error {
	for name, key := range configFlags {
		if err := bindFlag(cmd, name, key); err != nil {
			return err
		}
	}

	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	l, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	appConfig, logger = cfg, l
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("loaded config file", "file", used)
	}
	return nil
}

// bindFlag binds a flag to key only when the user set it, so that empty
// flag defaults never shadow file or environment values.
func bindFlag(cmd *cobra.Command, name, key string) error {
	flag := cmd.Flags().Lookup(name)
	if flag == nil || !flag.Changed {
		return nil
	}
	if err := v.BindPFlag(key, flag); err != nil {
		return fmt.Errorf("bind flag --%s: %w", name, err)
	}
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
