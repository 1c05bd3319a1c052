package proposal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps proposals in SQLite. The full proposal is stored as a
// JSON document next to the columns queries filter on.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the proposal database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create proposal db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open proposal db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS proposals (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			document TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_proposals_idem ON proposals(idempotency_key, status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_proposals_one_pending
			ON proposals(idempotency_key) WHERE status = 'pending' AND idempotency_key != ''`,
		`CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status, expires_at)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("proposal db init %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, p *Proposal) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("proposal must have an id")
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proposal: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO proposals (id, tenant_id, actor_id, tool, idempotency_key, status, created_at, expires_at, document)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.ActorID, p.Tool, p.IdempotencyKey, string(p.Status),
		p.CreatedAt.UnixNano(), p.ExpiresAt.UnixNano(), string(doc))
	if err != nil {
		if p.Status == StatusPending && isPendingKeyViolation(err) {
			return duplicate(p)
		}
		return fmt.Errorf("save proposal %s: %w", p.ID, err)
	}
	return nil
}

// isPendingKeyViolation matches SQLite's constraint error text for the
// one-pending-per-key index; the driver does not export a typed code.
func isPendingKeyViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "idempotency_key")
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Proposal, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM proposals WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return decodeDocument(doc)
}

func (s *SQLiteStore) FindPending(ctx context.Context, idempotencyKey string) (*Proposal, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM proposals WHERE idempotency_key = ? AND status = ? ORDER BY created_at LIMIT 1`,
		idempotencyKey, string(StatusPending)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, "no pending proposal for key")
	}
	if err != nil {
		return nil, fmt.Errorf("find pending proposal: %w", err)
	}
	return decodeDocument(doc)
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]*Proposal, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT document FROM proposals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return s.query(ctx, query, args...)
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, from, to Status, by, note string) (*Proposal, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyTransition(p, from, to, by, note, s.now()); err != nil {
		return nil, err
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode proposal: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET status = ?, document = ? WHERE id = ? AND status = ?`,
		string(to), string(doc), id, string(from))
	if err != nil {
		return nil, fmt.Errorf("transition proposal %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errors.Mark(errors.Newf("proposal %s changed concurrently", id), ErrConflict)
	}
	return p, nil
}

func (s *SQLiteStore) ExpireDue(ctx context.Context, now time.Time) ([]*Proposal, error) {
	due, err := s.query(ctx,
		`SELECT document FROM proposals WHERE status = ? AND expires_at < ? ORDER BY created_at, id`,
		string(StatusPending), now.UnixNano())
	if err != nil {
		return nil, err
	}
	var expired []*Proposal
	for _, p := range due {
		updated, err := s.Transition(ctx, p.ID, StatusPending, StatusExpired, "system", "")
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return expired, err
		}
		expired = append(expired, updated)
	}
	return expired, nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*Proposal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	var out []*Proposal
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		p, err := decodeDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func decodeDocument(doc string) (*Proposal, error) {
	var p Proposal
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}
	return &p, nil
}
