// Package config loads actiongate.yaml and ACTIONGATE_* environment
// variables into a Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ppiankov/actiongate/internal/alert"
	"github.com/ppiankov/actiongate/internal/logging"
	"github.com/ppiankov/actiongate/internal/proposal"
)

// EnvPrefix prefixes every environment override, e.g. ACTIONGATE_LOG_LEVEL.
const EnvPrefix = "ACTIONGATE"

// Proposal store drivers.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config is the process configuration shared by every command.
type Config struct {
	// Exactly one policy source is used: PolicyDB, then PolicyFile,
	// then PolicyDir (one <tenant>.yaml per tenant).
	PolicyDir  string `mapstructure:"policy_dir"`
	PolicyFile string `mapstructure:"policy_file"`
	PolicyDB   string `mapstructure:"policy_db"`

	Proposals ProposalConfig `mapstructure:"proposals"`
	AuditLog  string         `mapstructure:"audit_log"`
	RedisURL  string         `mapstructure:"redis_url"`

	ToolTimeout time.Duration `mapstructure:"tool_timeout"`

	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Agent  AgentConfig  `mapstructure:"agent"`

	Alerts []alert.Config `mapstructure:"alerts"`
}

type ProposalConfig struct {
	Store string        `mapstructure:"store"`
	Path  string        `mapstructure:"path"`
	TTL   time.Duration `mapstructure:"ttl"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AgentConfig identifies the caller for the mcp and evaluate commands.
type AgentConfig struct {
	TenantID string `mapstructure:"tenant_id"`
	ActorID  string `mapstructure:"actor_id"`
	Approver string `mapstructure:"approver"`
}

// Dir returns ~/.actiongate, or .actiongate when the home directory is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".actiongate"
	}
	return filepath.Join(home, ".actiongate")
}

// NewViper returns a viper instance with defaults and environment
// bindings in place. Callers bind command flags to it before Load.
func NewViper() *viper.Viper {
	dir := Dir()
	v := viper.New()

	v.SetDefault("policy_dir", filepath.Join(dir, "tenants"))
	v.SetDefault("policy_file", "")
	v.SetDefault("policy_db", "")
	v.SetDefault("proposals.store", StoreFile)
	v.SetDefault("proposals.path", filepath.Join(dir, "proposals"))
	v.SetDefault("proposals.ttl", proposal.DefaultTTL)
	v.SetDefault("audit_log", filepath.Join(dir, "audit.jsonl"))
	v.SetDefault("redis_url", "")
	v.SetDefault("tool_timeout", 30*time.Second)
	v.SetDefault("server.addr", ":50051")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatText)
	v.SetDefault("agent.tenant_id", "")
	v.SetDefault("agent.actor_id", "")
	v.SetDefault("agent.approver", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file into v and decodes the result. An explicit
// path must exist; without one, actiongate.yaml is looked up in the
// working directory and in Dir, and a missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("actiongate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if c.PolicyFile != "" && c.PolicyDB != "" {
		return fmt.Errorf("config: policy_file and policy_db are mutually exclusive")
	}
	switch c.Proposals.Store {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("config: unknown proposals.store %q: expected file or sqlite", c.Proposals.Store)
	}
	if c.Proposals.Path == "" {
		return fmt.Errorf("config: proposals.path is required")
	}
	if c.Proposals.TTL < 0 || c.ToolTimeout < 0 {
		return fmt.Errorf("config: durations must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON, logging.FormatLogfmt:
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("config: alerts[%d] has no url", i)
		}
	}
	return nil
}

// DefaultYAML renders a commented actiongate.yaml rooted at dir.
func DefaultYAML(dir string) string {
	return fmt.Sprintf(`# actiongate configuration
# Generated by: actiongate init
# Every key can be overridden with ACTIONGATE_<KEY>, dots become
# underscores (e.g. ACTIONGATE_LOG_LEVEL, ACTIONGATE_PROPOSALS_STORE).

# One <tenant>.yaml per tenant. Set policy_file to share one document
# across tenants, or policy_db to serve policies from SQLite.
policy_dir: %[1]s

proposals:
  store: file          # file | sqlite
  path: %[2]s
  ttl: 24h

audit_log: %[3]s

# Share approval locks between gate processes.
redis_url: ""

tool_timeout: 30s

server:
  addr: ":50051"

log:
  level: info          # debug | info | warn | error
  format: text         # text | json | logfmt

# Webhooks for proposals, denials and failures.
alerts: []
#  - url: https://hooks.slack.com/services/...
#    format: slack      # generic | slack | pagerduty
#    events: [proposal, failure]
`,
		filepath.Join(dir, "tenants"),
		filepath.Join(dir, "proposals"),
		filepath.Join(dir, "audit.jsonl"),
	)
}
