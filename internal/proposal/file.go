package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"

	"github.com/ppiankov/actiongate/internal/model"
)

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateKey rejects ids that could cause path traversal.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("key contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// lockName is the directory-wide lock file. Every write takes it, so a
// serve process and a CLI approve sharing the directory never both win
// the same status change.
const lockName = ".store.lock"

const (
	lockRetry   = 10 * time.Millisecond
	lockTimeout = 5 * time.Second
)

// FileStore keeps one JSON file per proposal in a directory. Writes are
// serialized in-process by mu and across processes by an flock on
// lockName.
type FileStore struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
	now  func() time.Time
}

// NewFileStore creates a FileStore backed by the given directory.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create proposal directory: %w", err)
	}
	return &FileStore{dir: dir, lock: flock.New(filepath.Join(dir, lockName)), now: time.Now}, nil
}

// locked runs fn holding both the in-process mutex and the directory
// flock.
func (s *FileStore) locked(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	ok, err := s.lock.TryLockContext(ctx, lockRetry)
	if !ok {
		return errors.Mark(errors.Newf("proposal store %s is locked by another process: %v", s.dir, err), model.ErrLocked)
	}
	defer s.lock.Unlock()
	return fn()
}

// DefaultDir returns the default proposal directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "actiongate-proposals")
	}
	return filepath.Join(home, ".actiongate", "proposals")
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) Save(ctx context.Context, p *Proposal) error {
	if p == nil {
		return fmt.Errorf("proposal must not be nil")
	}
	if err := validateKey(p.ID); err != nil {
		return fmt.Errorf("invalid proposal id: %w", err)
	}

	return s.locked(ctx, func() error {
		path := s.path(p.ID)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("proposal %s already exists", p.ID)
		}
		if p.Status == StatusPending && p.IdempotencyKey != "" {
			all, err := s.readAll()
			if err != nil {
				return err
			}
			for _, q := range all {
				if q.Status == StatusPending && q.IdempotencyKey == p.IdempotencyKey {
					return duplicate(p)
				}
			}
		}
		return s.writeAtomic(path, p)
	})
}

func (s *FileStore) Get(ctx context.Context, id string) (*Proposal, error) {
	if err := validateKey(id); err != nil {
		return nil, fmt.Errorf("invalid proposal id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(id)
}

func (s *FileStore) FindPending(ctx context.Context, idempotencyKey string) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.Status == StatusPending && p.IdempotencyKey == idempotencyKey {
			return p, nil
		}
	}
	return nil, errors.Wrap(ErrNotFound, "no pending proposal for key")
}

func (s *FileStore) List(ctx context.Context, f Filter) ([]*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var out []*Proposal
	for _, p := range all {
		if !f.match(p) {
			continue
		}
		out = append(out, p)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *FileStore) Transition(ctx context.Context, id string, from, to Status, by, note string) (*Proposal, error) {
	if err := validateKey(id); err != nil {
		return nil, fmt.Errorf("invalid proposal id: %w", err)
	}

	var p *Proposal
	err := s.locked(ctx, func() error {
		var err error
		if p, err = s.read(id); err != nil {
			return err
		}
		if err := applyTransition(p, from, to, by, note, s.now()); err != nil {
			return err
		}
		return s.writeAtomic(s.path(id), p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *FileStore) ExpireDue(ctx context.Context, now time.Time) ([]*Proposal, error) {
	var expired []*Proposal
	err := s.locked(ctx, func() error {
		all, err := s.readAll()
		if err != nil {
			return err
		}
		for _, p := range all {
			if !p.Expired(now) {
				continue
			}
			if err := applyTransition(p, StatusPending, StatusExpired, "system", "", now); err != nil {
				continue
			}
			if err := s.writeAtomic(s.path(p.ID), p); err != nil {
				return err
			}
			expired = append(expired, p)
		}
		return nil
	})
	return expired, err
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) read(id string) (*Proposal, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}

	var p Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode proposal %s: %w", id, err)
	}
	return &p, nil
}

// readAll returns every readable proposal, oldest first.
func (s *FileStore) readAll() ([]*Proposal, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*Proposal
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		p, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *FileStore) writeAtomic(path string, p *Proposal) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
