// Package lock provides the advisory lock that keeps a proposal from
// being executed twice.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/ppiankov/actiongate/internal/model"
)

// ErrLocked is returned when the key is already held.
var ErrLocked = model.ErrLocked

// Release frees a held lock. Calling it more than once is harmless, and
// it never frees a lock that has since been taken by someone else.
type Release func()

// Locker acquires non-blocking, TTL-bounded locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
}

// NewMemoryLocker returns an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry), clock: time.Now}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.held[key]; ok && now.Before(e.expires) {
		return nil, errors.Wrapf(ErrLocked, "key %s", key)
	}
	token := uuid.NewString()
	m.held[key] = memoryEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if e, ok := m.held[key]; ok && e.token == token {
				delete(m.held, key)
			}
		})
	}, nil
}
