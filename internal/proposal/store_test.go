package proposal

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/actiongate/internal/model"
)

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store {
			t.Helper()
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			t.Helper()
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "proposals.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func newStoredProposal(t *testing.T, s Store, tenant, key string) *Proposal {
	t.Helper()
	p, err := Make("create_invoice", map[string]any{"amount": 450}, true, "Invoice", "Propose mode.", model.RiskMed, "", "")
	require.NoError(t, err)
	p.TenantID = tenant
	p.ActorID = "agent"
	p.IdempotencyKey = key
	require.NoError(t, s.Save(context.Background(), p))
	return p
}

func TestStoreContract(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("save and get", func(t *testing.T) {
				s := factory(t)
				p := newStoredProposal(t, s, "acme", "k1")

				got, err := s.Get(ctx, p.ID)
				require.NoError(t, err)
				assert.Equal(t, p.ID, got.ID)
				assert.Equal(t, StatusPending, got.Status)
				assert.JSONEq(t, `{"amount":450}`, string(got.Args))
				assert.True(t, got.ExpiresAt.Equal(p.ExpiresAt))
			})

			t.Run("get missing", func(t *testing.T) {
				s := factory(t)
				_, err := s.Get(ctx, "does-not-exist")
				assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
			})

			t.Run("find pending", func(t *testing.T) {
				s := factory(t)
				p := newStoredProposal(t, s, "acme", "dedup")

				got, err := s.FindPending(ctx, "dedup")
				require.NoError(t, err)
				assert.Equal(t, p.ID, got.ID)

				_, err = s.Transition(ctx, p.ID, StatusPending, StatusRejected, "ops", "no")
				require.NoError(t, err)
				_, err = s.FindPending(ctx, "dedup")
				assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
			})

			t.Run("transition compare and set", func(t *testing.T) {
				s := factory(t)
				p := newStoredProposal(t, s, "acme", "k")

				got, err := s.Transition(ctx, p.ID, StatusPending, StatusApproved, "alice", "looks fine")
				require.NoError(t, err)
				assert.Equal(t, StatusApproved, got.Status)
				assert.Equal(t, "alice", got.ResolvedBy)
				assert.Equal(t, "looks fine", got.Note)
				require.NotNil(t, got.ResolvedAt)

				_, err = s.Transition(ctx, p.ID, StatusPending, StatusApproved, "bob", "")
				assert.True(t, errors.Is(err, ErrConflict), "got %v", err)

				_, err = s.Transition(ctx, p.ID, StatusApproved, StatusRejected, "bob", "")
				assert.True(t, errors.Is(err, ErrConflict), "illegal transition should conflict, got %v", err)

				got, err = s.Transition(ctx, p.ID, StatusApproved, StatusExecuted, "", "")
				require.NoError(t, err)
				assert.Equal(t, "alice", got.ResolvedBy)

				_, err = s.Transition(ctx, "missing", StatusPending, StatusApproved, "", "")
				assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
			})

			t.Run("concurrent approve wins once", func(t *testing.T) {
				s := factory(t)
				p := newStoredProposal(t, s, "acme", "race")

				var wins int32
				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if _, err := s.Transition(ctx, p.ID, StatusPending, StatusApproved, "x", ""); err == nil {
							atomic.AddInt32(&wins, 1)
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, int32(1), wins)
			})

			t.Run("one pending per key", func(t *testing.T) {
				s := factory(t)
				first := newStoredProposal(t, s, "acme", "dup")

				second, err := Make("create_invoice", map[string]any{"amount": 450}, true, "", "", model.RiskMed, "", "")
				require.NoError(t, err)
				second.TenantID = "acme"
				second.IdempotencyKey = "dup"
				err = s.Save(ctx, second)
				assert.True(t, errors.Is(err, ErrDuplicate), "got %v", err)
				assert.True(t, errors.Is(err, model.ErrProposalPending), "got %v", err)

				_, err = s.Transition(ctx, first.ID, StatusPending, StatusExpired, "system", "")
				require.NoError(t, err)
				require.NoError(t, s.Save(ctx, second))

				got, err := s.FindPending(ctx, "dup")
				require.NoError(t, err)
				assert.Equal(t, second.ID, got.ID)
			})

			t.Run("concurrent save keeps one pending", func(t *testing.T) {
				s := factory(t)

				var saved, dups int32
				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						p, err := Make("create_lead", map[string]any{"n": 1}, true, "", "", model.RiskLow, "", "")
						if err != nil {
							return
						}
						p.IdempotencyKey = "same"
						switch err := s.Save(ctx, p); {
						case err == nil:
							atomic.AddInt32(&saved, 1)
						case errors.Is(err, ErrDuplicate):
							atomic.AddInt32(&dups, 1)
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, int32(1), saved)
				assert.Equal(t, int32(7), dups)
			})

			t.Run("list filters", func(t *testing.T) {
				s := factory(t)
				a := newStoredProposal(t, s, "acme", "a")
				newStoredProposal(t, s, "beta", "b")
				c := newStoredProposal(t, s, "acme", "c")
				_, err := s.Transition(ctx, c.ID, StatusPending, StatusRejected, "", "")
				require.NoError(t, err)

				all, err := s.List(ctx, Filter{})
				require.NoError(t, err)
				assert.Len(t, all, 3)

				pending, err := s.List(ctx, Filter{TenantID: "acme", Status: StatusPending})
				require.NoError(t, err)
				require.Len(t, pending, 1)
				assert.Equal(t, a.ID, pending[0].ID)

				limited, err := s.List(ctx, Filter{Limit: 2})
				require.NoError(t, err)
				assert.Len(t, limited, 2)
			})

			t.Run("expire due", func(t *testing.T) {
				s := factory(t)
				old, err := Make("create_lead", nil, true, "", "", model.RiskNone, "", "")
				require.NoError(t, err)
				old.ExpiresAt = time.Now().Add(-time.Minute)
				require.NoError(t, s.Save(ctx, old))
				fresh := newStoredProposal(t, s, "acme", "fresh")

				expired, err := s.ExpireDue(ctx, time.Now())
				require.NoError(t, err)
				require.Len(t, expired, 1)
				assert.Equal(t, old.ID, expired[0].ID)
				assert.Equal(t, StatusExpired, expired[0].Status)

				got, err := s.Get(ctx, fresh.ID)
				require.NoError(t, err)
				assert.Equal(t, StatusPending, got.Status)

				again, err := s.ExpireDue(ctx, time.Now())
				require.NoError(t, err)
				assert.Empty(t, again)
			})
		})
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, s.Save(context.Background(), &Proposal{ID: "a/b"}))
}

func TestFileStoreSaveTwiceFails(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	p := newStoredProposal(t, s, "acme", "k")
	assert.Error(t, s.Save(context.Background(), p))
}

func TestFileStoreTransitionAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileStore(dir)
	require.NoError(t, err)
	b, err := NewFileStore(dir)
	require.NoError(t, err)
	p := newStoredProposal(t, a, "acme", "shared")

	ctx := context.Background()
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		s := a
		if i%2 == 1 {
			s = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Transition(ctx, p.ID, StatusPending, StatusApproved, "x", ""); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	got, err := b.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestFileStoreSaveAcrossInstancesKeepsOnePending(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileStore(dir)
	require.NoError(t, err)
	b, err := NewFileStore(dir)
	require.NoError(t, err)

	newStoredProposal(t, a, "acme", "shared")

	p, err := Make("create_invoice", map[string]any{"amount": 450}, true, "", "", model.RiskMed, "", "")
	require.NoError(t, err)
	p.IdempotencyKey = "shared"
	assert.True(t, errors.Is(b.Save(context.Background(), p), ErrDuplicate))
}

func TestFileStoreLockTimeout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	p := newStoredProposal(t, s, "acme", "held")

	holder := flock.New(filepath.Join(dir, lockName))
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Transition(ctx, p.ID, StatusPending, StatusApproved, "x", "")
	assert.True(t, errors.Is(err, model.ErrLocked), "got %v", err)
}
