package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/actiongate/internal/model"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfigMissingFileIsSafeDefault(t *testing.T) {
	cfg, hash, err := LoadConfigWithHash("/nonexistent/path/policy.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.Mode != string(model.ModeReadOnly) {
		t.Errorf("expected read_only, got %s", cfg.Mode)
	}
	if !strings.HasPrefix(hash, "sha256:") {
		t.Errorf("expected sha256 hash, got %s", hash)
	}
}

func TestLoadConfigParsesAllFields(t *testing.T) {
	path := writeTempFile(t, t.TempDir(), "policy.yaml", `
mode: auto_safe
authorities: [CREATE_LEAD, SEND_EMAIL]
approval_required_over_amount: 250
restricted_fields:
  clients: [iban]
email_domain_trustlist: [studio.io]
auto_safe_actions: [create_lead]
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Mode != "auto_safe" {
		t.Errorf("mode = %s", cfg.Mode)
	}
	if len(cfg.Authorities) != 2 {
		t.Errorf("authorities = %v", cfg.Authorities)
	}
	if cfg.ApprovalRequiredOverAmount != 250 {
		t.Errorf("limit = %v", cfg.ApprovalRequiredOverAmount)
	}
	if got := cfg.RestrictedFields["clients"]; len(got) != 1 || got[0] != "iban" {
		t.Errorf("restricted = %v", cfg.RestrictedFields)
	}
	if len(cfg.EmailDomainTrustlist) != 1 || len(cfg.AutoSafeActions) != 1 {
		t.Errorf("lists not parsed: %+v", cfg)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeTempFile(t, t.TempDir(), "bad.yaml", "mode: [unterminated")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDefaultConfigYAMLParses(t *testing.T) {
	var cfg model.PolicyConfig
	if err := yaml.Unmarshal([]byte(DefaultConfigYAML()), &cfg); err != nil {
		t.Fatalf("default YAML does not parse: %v", err)
	}
	if cfg.Mode != "propose" {
		t.Errorf("expected propose, got %s", cfg.Mode)
	}
	if problems := Validate(&cfg); len(problems) != 0 {
		t.Errorf("default config has problems: %v", problems)
	}
}

func TestValidateFlagsProblems(t *testing.T) {
	problems := Validate(&model.PolicyConfig{Mode: "turbo", ApprovalRequiredOverAmount: -1})
	if len(problems) != 3 {
		t.Fatalf("expected 3 problems, got %v", problems)
	}
}

func TestValidateTenantID(t *testing.T) {
	for _, bad := range []string{"", "..", "../etc/passwd", "a/b", "acme studio"} {
		if ValidateTenantID(bad) == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
	for _, good := range []string{"acme", "acme-studio", "tenant_01", "studio.eu"} {
		if err := ValidateTenantID(good); err != nil {
			t.Errorf("expected %q to be accepted: %v", good, err)
		}
	}
}

func TestFileStoreLoad(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "acme.yaml", "mode: auto_all\nauthorities: [CREATE_LEAD]\n")
	store := NewFileStore(dir)

	p, err := store.Load(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Mode() != model.ModeAutoAll || !p.HasAuthority("CREATE_LEAD") {
		t.Errorf("unexpected snapshot: mode=%s auth=%v", p.Mode(), p.Authorities())
	}
	if p.TenantID() != "acme" {
		t.Errorf("tenant = %s", p.TenantID())
	}
	if p.Source() != filepath.Join(dir, "acme.yaml") {
		t.Errorf("source = %s", p.Source())
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if _, err := store.Load(context.Background(), "../secrets"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestFailSafeMissingTenant(t *testing.T) {
	safe := FailSafe(NewFileStore(t.TempDir()), nil)

	p := safe.Load(context.Background(), "ghost")

	if p.Mode() != model.ModeReadOnly {
		t.Errorf("expected read_only, got %s", p.Mode())
	}
	if p.ApprovalLimit() != 0 {
		t.Errorf("expected limit 0, got %v", p.ApprovalLimit())
	}
	if p.Source() != "safe-default" {
		t.Errorf("expected safe-default source, got %s", p.Source())
	}
	if p.TenantID() != "ghost" {
		t.Errorf("tenant = %s", p.TenantID())
	}
}

func TestFailSafeBrokenYAML(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "acme.yaml", "mode: auto_all\nauthorities: [CREATE_LEAD\n")

	p := FailSafe(NewFileStore(dir), nil).Load(context.Background(), "acme")
	if p.HasAuthority("CREATE_LEAD") {
		t.Error("broken policy must not grant authorities")
	}
}

func TestFailSafeCancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "acme.yaml", "mode: auto_all\nauthorities: [CREATE_LEAD]\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := FailSafe(NewFileStore(dir), nil).Load(ctx, "acme")
	if p.Mode() != model.ModeReadOnly {
		t.Errorf("expected safe default on cancelled context, got %s", p.Mode())
	}
}

func TestFailSafeNilStore(t *testing.T) {
	p := FailSafe(nil, nil).Load(context.Background(), "acme")
	if p.Mode() != model.ModeReadOnly {
		t.Errorf("expected read_only, got %s", p.Mode())
	}
}

type countingStore struct {
	calls int
	cfg   model.PolicyConfig
}

func (c *countingStore) Load(ctx context.Context, tenantID string) (*model.Policy, error) {
	c.calls++
	return model.NewPolicy(tenantID, "count", c.cfg), nil
}

func TestCachedStoreInvalidate(t *testing.T) {
	inner := &countingStore{cfg: model.PolicyConfig{Mode: "propose"}}
	cache := NewCachedStore(inner)
	ctx := context.Background()

	first, _ := cache.Load(ctx, "acme")
	second, _ := cache.Load(ctx, "acme")
	if inner.calls != 1 {
		t.Fatalf("expected 1 load, got %d", inner.calls)
	}
	if first != second {
		t.Error("expected cached snapshot to be reused")
	}

	inner.cfg.Mode = "auto_all"
	cache.Invalidate("acme")
	third, _ := cache.Load(ctx, "acme")
	if third.Mode() != model.ModeAutoAll {
		t.Errorf("expected reloaded mode auto_all, got %s", third.Mode())
	}
	if first.Mode() != model.ModePropose {
		t.Error("existing snapshot must not change after invalidation")
	}

	cache.InvalidateAll()
	cache.Load(ctx, "acme")
	if inner.calls != 3 {
		t.Errorf("expected 3 loads, got %d", inner.calls)
	}
}

// stallingStore reads its mode, then holds the first Load until release
// is closed, so an invalidation can land mid-load.
type stallingStore struct {
	mu      sync.Mutex
	mode    string
	calls   int
	started chan struct{}
	release chan struct{}
}

func (s *stallingStore) Load(ctx context.Context, tenantID string) (*model.Policy, error) {
	s.mu.Lock()
	mode := s.mode
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		close(s.started)
		<-s.release
	}
	return model.NewPolicy(tenantID, "stall", model.PolicyConfig{Mode: mode}), nil
}

func (s *stallingStore) setMode(mode string) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

func TestCachedStoreInvalidateDuringLoad(t *testing.T) {
	for _, tc := range []struct {
		name       string
		invalidate func(c *CachedStore)
	}{
		{"tenant", func(c *CachedStore) { c.Invalidate("acme") }},
		{"all", func(c *CachedStore) { c.InvalidateAll() }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			inner := &stallingStore{mode: "propose", started: make(chan struct{}), release: make(chan struct{})}
			cache := NewCachedStore(inner)
			ctx := context.Background()

			done := make(chan *model.Policy)
			go func() {
				p, _ := cache.Load(ctx, "acme")
				done <- p
			}()

			<-inner.started
			inner.setMode("auto_all")
			tc.invalidate(cache)
			close(inner.release)

			stale := <-done
			if stale.Mode() != model.ModePropose {
				t.Fatalf("in-flight load should see the old mode, got %s", stale.Mode())
			}

			fresh, err := cache.Load(ctx, "acme")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if fresh.Mode() != model.ModeAutoAll {
				t.Errorf("expected auto_all after invalidation, got %s", fresh.Mode())
			}
		})
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "policies.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	cfg := model.PolicyConfig{
		Mode:                       "auto_safe",
		Authorities:                []string{"CREATE_LEAD"},
		ApprovalRequiredOverAmount: 50,
		AutoSafeActions:            []string{"create_lead"},
	}
	if err := store.Put(ctx, "acme", cfg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	p, err := store.Load(ctx, "acme")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Mode() != model.ModeAutoSafe || p.ApprovalLimit() != 50 || !p.IsAutoSafe("create_lead") {
		t.Errorf("unexpected snapshot %+v", p.Config())
	}

	cfg.Mode = "read_only"
	if err := store.Put(ctx, "acme", cfg); err != nil {
		t.Fatalf("Put update: %v", err)
	}
	p, _ = store.Load(ctx, "acme")
	if p.Mode() != model.ModeReadOnly {
		t.Errorf("expected upsert to replace document, got %s", p.Mode())
	}

	if _, err := store.Load(ctx, "missing"); err == nil {
		t.Error("expected error for missing tenant")
	}

	tenants, err := store.Tenants(ctx)
	if err != nil || len(tenants) != 1 || tenants[0] != "acme" {
		t.Errorf("Tenants = %v, %v", tenants, err)
	}
}

func TestTenantFromPath(t *testing.T) {
	cases := map[string]string{
		"/etc/actiongate/tenants/acme.yaml": "acme",
		"/etc/actiongate/tenants/beta.yml":  "beta",
		"/etc/actiongate/policy.yaml":       "",
		"/etc/actiongate/notes.txt":         "",
	}
	for in, want := range cases {
		if got := tenantFromPath(in); got != want {
			t.Errorf("tenantFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDocumentStoreServesEveryTenant(t *testing.T) {
	path := writeTempFile(t, t.TempDir(), "policy.yaml", "mode: propose\nauthorities: [CREATE_LEAD]\n")
	store := DocumentStore{Path: path}

	for _, tenant := range []string{"acme", "beta"} {
		p, err := store.Load(context.Background(), tenant)
		if err != nil {
			t.Fatalf("Load(%s): %v", tenant, err)
		}
		if p.TenantID() != tenant || p.Mode() != model.ModePropose {
			t.Errorf("unexpected snapshot for %s: %s", tenant, p.Mode())
		}
	}

	if err := os.WriteFile(path, []byte("mode: auto_all\nauthorities: [CREATE_LEAD]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	p, _ := store.Load(context.Background(), "acme")
	if p.Mode() != model.ModeAutoAll {
		t.Errorf("expected re-read on load, got %s", p.Mode())
	}
}
