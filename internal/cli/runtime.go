package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ppiankov/actiongate/internal/alert"
	"github.com/ppiankov/actiongate/internal/audit"
	"github.com/ppiankov/actiongate/internal/config"
	"github.com/ppiankov/actiongate/internal/dispatch"
	"github.com/ppiankov/actiongate/internal/gate"
	"github.com/ppiankov/actiongate/internal/lock"
	"github.com/ppiankov/actiongate/internal/policy"
	"github.com/ppiankov/actiongate/internal/proposal"
	"github.com/ppiankov/actiongate/internal/studio"
)

// runtime is a fully wired gate plus everything that must be closed
// when the command exits.
type runtime struct {
	gate    *gate.Gate
	cache   *policy.CachedStore
	watch   []string
	shared  bool
	alerts  *alert.Dispatcher
	closers []func() error
}

// Close flushes the audit writer and releases stores in reverse order.
func (r *runtime) Close() error {
	if r.alerts != nil {
		r.alerts.Wait()
	}
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// allTenants adapts a cache over a single shared document: any file
// change invalidates every tenant.
type allTenants struct{ *policy.CachedStore }

func (a allTenants) Invalidate(string) { a.InvalidateAll() }

// Invalidator returns what the policy watcher should drive.
func (r *runtime) Invalidator() policy.Invalidator {
	if r.shared {
		return allTenants{r.cache}
	}
	return r.cache
}

// watchPolicies hot-reloads policy files until ctx is cancelled.
func (r *runtime) watchPolicies(ctx context.Context) error {
	w, err := policy.NewWatcher(r.Invalidator(), r.watch, logger)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func openPolicies(cfg *config.Config) (policy.Store, []string, func() error, error) {
	switch {
	case cfg.PolicyDB != "":
		store, err := policy.OpenSQLite(cfg.PolicyDB)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, nil, store.Close, nil
	case cfg.PolicyFile != "":
		return policy.DocumentStore{Path: cfg.PolicyFile}, []string{cfg.PolicyFile}, nil, nil
	default:
		return policy.NewFileStore(cfg.PolicyDir), []string{cfg.PolicyDir}, nil, nil
	}
}

func openProposals(cfg *config.Config) (proposal.Store, error) {
	if cfg.Proposals.Store == config.StoreSQLite {
		return proposal.OpenSQLite(cfg.Proposals.Path)
	}
	return proposal.NewFileStore(cfg.Proposals.Path)
}

// openRuntime wires the gate from appConfig over the demo studio CRM.
func openRuntime(ctx context.Context) (*runtime, error) {
	return newRuntime(ctx, appConfig, studio.NewDemoCRM())
}

// newRuntime wires a gate from cfg over the studio tools bound to crm.
func newRuntime(ctx context.Context, cfg *config.Config, crm *studio.CRM) (*runtime, error) {
	rt := &runtime{shared: cfg.PolicyFile != "" && cfg.PolicyDB == ""}

	policies, watch, closePolicies, err := openPolicies(cfg)
	if err != nil {
		return nil, fmt.Errorf("open policy store: %w", err)
	}
	if closePolicies != nil {
		rt.closers = append(rt.closers, closePolicies)
	}
	rt.cache = policy.NewCachedStore(policies)
	rt.watch = watch

	proposals, err := openProposals(cfg)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open proposal store: %w", err)
	}
	rt.closers = append(rt.closers, proposals.Close)

	auditLog, err := audit.Open(filepath.Clean(cfg.AuditLog))
	if err != nil {
		rt.Close()
		return nil, err
	}
	writer := audit.NewWriter(auditLog, logger)
	rt.closers = append(rt.closers, auditLog.Close, writer.Close)

	var locker lock.Locker
	if cfg.RedisURL != "" {
		redisLocker, err := lock.DialRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, redisLocker.Close)
		locker = redisLocker
	}

	reg, err := studio.NewRegistry(crm)
	if err != nil {
		rt.Close()
		return nil, err
	}
	dispatcher := dispatch.NewDispatcher(reg,
		dispatch.WithTimeout(cfg.ToolTimeout),
		dispatch.WithLogger(logger),
	)

	rt.alerts = alert.NewDispatcher(cfg.Alerts, logger)
	g, err := gate.New(gate.Options{
		Policies:    rt.cache,
		Dispatcher:  dispatcher,
		Proposals:   proposals,
		Audit:       writer,
		Locker:      locker,
		Alerts:      rt.alerts,
		Logger:      logger,
		ProposalTTL: cfg.Proposals.TTL,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.gate = g
	return rt, nil
}
