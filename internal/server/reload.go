package server

import (
	"context"

	"github.com/ppiankov/actiongate/internal/policy"
)

// WatchPolicies hot-reloads policy files: changes under paths invalidate
// the matching snapshots in cache, so sessions opened afterwards see the
// new policy. Blocks until ctx is cancelled.
func (s *Server) WatchPolicies(ctx context.Context, cache policy.Invalidator, paths []string) error {
	w, err := policy.NewWatcher(cache, paths, s.logger)
	if err != nil {
		return err
	}
	w.OnReload(func(tenants []string) {
		if len(tenants) == 0 {
			s.logger.Info("hot-reload: all tenant policies reloaded")
			return
		}
		s.logger.Info("hot-reload: tenant policies reloaded", "tenants", tenants)
	})
	return w.Run(ctx)
}
