package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/actiongate/internal/model"
)

// SQLiteStore keeps one YAML policy document per tenant in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the policy database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create policy db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS tenant_policies (
			tenant_id TEXT PRIMARY KEY,
			document TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("policy db init %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put upserts a tenant's policy document.
func (s *SQLiteStore) Put(ctx context.Context, tenantID string, cfg model.PolicyConfig) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return fmt.Errorf("invalid tenant: %w", err)
	}
	doc, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenant_policies (tenant_id, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(tenant_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		tenantID, string(doc), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store policy for tenant %q: %w", tenantID, err)
	}
	return nil
}

// Load reads and freezes the tenant's policy.
func (s *SQLiteStore) Load(ctx context.Context, tenantID string) (*model.Policy, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM tenant_policies WHERE tenant_id = ?`, tenantID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no policy stored for tenant %q", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("load policy for tenant %q: %w", tenantID, err)
	}
	cfg, err := ParseConfig([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("tenant %q: %w", tenantID, err)
	}
	return model.NewPolicy(tenantID, "sqlite", *cfg), nil
}

// Tenants lists tenants with a stored policy, sorted.
func (s *SQLiteStore) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM tenant_policies ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
