package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/ppiankov/actiongate/internal/model"
)

// Store loads the policy snapshot for a tenant.
type Store interface {
	Load(ctx context.Context, tenantID string) (*model.Policy, error)
}

// FileStore reads <Dir>/<tenant>.yaml.
type FileStore struct {
	Dir string
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Path returns the policy file path for a tenant.
func (s *FileStore) Path(tenantID string) string {
	return filepath.Join(s.Dir, tenantID+".yaml")
}

// Load reads and freezes the tenant's policy. A missing file is an error;
// wrap the store with FailSafe to turn it into the safe default.
func (s *FileStore) Load(ctx context.Context, tenantID string) (*model.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, fmt.Errorf("invalid tenant: %w", err)
	}

	path := s.Path(tenantID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy for tenant %q: %w", tenantID, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("tenant %q: %w", tenantID, err)
	}
	return model.NewPolicy(tenantID, path, *cfg), nil
}

// DocumentStore serves the single policy file at Path to every tenant,
// re-reading it on each Load. A missing file is the safe default, like
// LoadConfig.
type DocumentStore struct {
	Path string
}

func (s DocumentStore) Load(ctx context.Context, tenantID string) (*model.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(s.Path)
	if err != nil {
		return nil, err
	}
	return model.NewPolicy(tenantID, s.Path, *cfg), nil
}

// StaticStore serves one fixed document for every tenant.
type StaticStore struct {
	Config model.PolicyConfig
	Source string
}

func (s StaticStore) Load(ctx context.Context, tenantID string) (*model.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return model.NewPolicy(tenantID, s.Source, s.Config), nil
}

// SafeStore never fails: any load error yields the read_only safe default.
type SafeStore struct {
	inner  Store
	logger *log.Logger
}

// FailSafe wraps a store so partial or broken configuration can never
// unlock more than the safe default. logger may be nil.
func FailSafe(inner Store, logger *log.Logger) *SafeStore {
	if logger == nil {
		logger = log.Default()
	}
	return &SafeStore{inner: inner, logger: logger}
}

// Load returns the stored snapshot, or the safe default on any error.
func (s *SafeStore) Load(ctx context.Context, tenantID string) *model.Policy {
	if s.inner == nil {
		return model.SafeDefault(tenantID)
	}
	p, err := s.inner.Load(ctx, tenantID)
	if err != nil || p == nil {
		if err == nil {
			err = fmt.Errorf("store returned no policy")
		}
		s.logger.Warn("policy load failed, using read_only safe default", "tenant", tenantID, "error", err)
		return model.SafeDefault(tenantID)
	}
	return p
}
