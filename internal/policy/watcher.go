package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Invalidator is what the Watcher drives on file changes.
type Invalidator interface {
	Invalidate(tenantID string)
	InvalidateAll()
}

// Watcher watches policy files or directories and invalidates cached
// snapshots when they change.
type Watcher struct {
	watcher  *fsnotify.Watcher
	target   Invalidator
	logger   *log.Logger
	debounce time.Duration
	onReload func(tenants []string)
}

// NewWatcher creates a file watcher for the given paths. Empty and missing
// paths are skipped.
func NewWatcher(target Invalidator, paths []string, logger *log.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := w.Add(p); err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", p, err)
		}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		watcher:  w,
		target:   target,
		logger:   logger,
		debounce: 500 * time.Millisecond,
	}, nil
}

// OnReload registers a callback run after each debounced invalidation.
// An empty tenant list means every tenant was invalidated.
func (w *Watcher) OnReload(fn func(tenants []string)) {
	w.onReload = fn
}

// Run watches for file changes. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		mu      sync.Mutex
		pending = map[string]bool{}
		timer   *time.Timer
	)

	flush := func() {
		mu.Lock()
		tenants := make([]string, 0, len(pending))
		all := false
		for t := range pending {
			if t == "" {
				all = true
			}
			tenants = append(tenants, t)
		}
		pending = map[string]bool{}
		mu.Unlock()

		if all {
			w.target.InvalidateAll()
			tenants = nil
		} else {
			for _, t := range tenants {
				w.target.Invalidate(t)
			}
		}
		w.logger.Info("policy reloaded", "tenants", tenants)
		if w.onReload != nil {
			w.onReload(tenants)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			pending[tenantFromPath(event.Name)] = true
			mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, flush)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("policy watcher error", "error", err)
		}
	}
}

// tenantFromPath maps <dir>/<tenant>.yaml to the tenant id. Anything else
// (a single shared policy file) invalidates every tenant.
func tenantFromPath(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".yaml", ".yml"} {
		if strings.HasSuffix(base, ext) {
			tenant := strings.TrimSuffix(base, ext)
			if ValidateTenantID(tenant) == nil && tenant != "policy" {
				return tenant
			}
		}
	}
	return ""
}
