package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/actiongate/internal/model"
)

// validTenant matches alphanumeric, dash, underscore, and dot characters only.
var validTenant = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateTenantID rejects tenant ids that could cause path traversal.
func ValidateTenantID(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant id must not be empty")
	}
	if strings.Contains(tenantID, "..") {
		return fmt.Errorf("tenant id must not contain '..'")
	}
	if !validTenant.MatchString(tenantID) {
		return fmt.Errorf("tenant id contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// DefaultPath returns ~/.actiongate/policy.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".actiongate", "policy.yaml")
}

// LoadConfig loads a single policy document from a YAML file.
// Empty path falls back to ~/.actiongate/policy.yaml.
// Missing file returns the safe default. Invalid YAML returns an error.
func LoadConfig(path string) (*model.PolicyConfig, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads a policy document and returns the SHA-256 of the raw bytes.
// When no file exists, the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*model.PolicyConfig, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("failed to read policy config: %w", err)
		}
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	if data == nil {
		cfg := model.SafeDefaultConfig()
		return &cfg, hash, nil
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

// ParseConfig decodes a YAML policy document. Absent keys stay at their
// zero value, which is the restrictive choice for every field.
func ParseConfig(data []byte) (*model.PolicyConfig, error) {
	var cfg model.PolicyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy config: %w", err)
	}
	return &cfg, nil
}

// Validate returns human-readable problems with a policy document.
// None of them are fatal: the snapshot builder fails closed on each.
func Validate(cfg *model.PolicyConfig) []string {
	var problems []string
	if cfg.Mode == "" {
		problems = append(problems, "mode is empty, read_only will be used")
	} else if !model.Mode(cfg.Mode).Valid() {
		problems = append(problems, fmt.Sprintf("unknown mode %q, read_only will be used", cfg.Mode))
	}
	if cfg.ApprovalRequiredOverAmount < 0 {
		problems = append(problems, "approval_required_over_amount is negative, 0 will be used")
	}
	if len(cfg.Authorities) == 0 {
		problems = append(problems, "no authorities granted, every request will be denied")
	}
	if model.ParseMode(cfg.Mode) == model.ModeAutoSafe && len(cfg.AutoSafeActions) == 0 {
		problems = append(problems, "auto_safe mode with an empty auto_safe_actions list")
	}
	return problems
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# actiongate tenant policy
# Generated by: actiongate init-policy
#
# Evaluation order (cannot be changed):
#   1. authority not granted          -> deny
#   2. mode read_only                 -> needs approval
#   3. restricted field written       -> needs approval
#   4. amount over the auto limit     -> needs approval
#   5. email domain not trusted       -> needs approval
#   6. mode propose                   -> needs approval
#   7. mode auto_safe: action not listed or risk above low -> needs approval
#   8. otherwise                      -> allow

# read_only | propose | auto_safe | auto_all
mode: propose

# Named permissions the agent may exercise at all.
authorities:
  - READ_CLIENTS
  - READ_INVOICES
  - READ_LEADS
  - CREATE_LEAD
  - CREATE_INVOICE

# Any monetary action above this amount needs a human, in every mode.
approval_required_over_amount: 0

# Writes touching these columns always need a human.
restricted_fields:
  clients:
    - tax_id
    - iban

# Outbound email to other domains needs a human.
email_domain_trustlist: []

# Actions auto_safe mode may run without approval (risk must also be low).
auto_safe_actions:
  - create_lead
`
}
