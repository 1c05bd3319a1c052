// Package gate is the governed path: every tool call is evaluated against
// the tenant policy, then executed, turned into a proposal, or denied, and
// every terminal event is audited exactly once.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	"github.com/ppiankov/actiongate/internal/alert"
	"github.com/ppiankov/actiongate/internal/audit"
	"github.com/ppiankov/actiongate/internal/dispatch"
	"github.com/ppiankov/actiongate/internal/lock"
	"github.com/ppiankov/actiongate/internal/model"
	"github.com/ppiankov/actiongate/internal/policy"
	"github.com/ppiankov/actiongate/internal/proposal"
)

// Recorder accepts audit records without blocking on I/O.
// *audit.Writer satisfies it.
type Recorder interface {
	Write(rec audit.Record)
}

// Options wires a Gate. Dispatcher, Proposals and Audit are required.
type Options struct {
	Policies    policy.Store
	Dispatcher  *dispatch.Dispatcher
	Proposals   proposal.Store
	Audit       Recorder
	Locker      lock.Locker
	Alerts      *alert.Dispatcher
	Logger      *log.Logger
	ProposalTTL time.Duration
	LockTTL     time.Duration
	Now         func() time.Time
}

// Gate executes tool calls under tenant policy.
type Gate struct {
	policies   *policy.SafeStore
	dispatcher *dispatch.Dispatcher
	proposals  proposal.Store
	audit      Recorder
	locker     lock.Locker
	alerts     *alert.Dispatcher
	logger     *log.Logger
	ttl        time.Duration
	lockTTL    time.Duration
	now        func() time.Time
}

// New validates opts and fills defaults.
func New(opts Options) (*Gate, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("gate: dispatcher is required")
	}
	if opts.Proposals == nil {
		return nil, fmt.Errorf("gate: proposal store is required")
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("gate: audit recorder is required")
	}
	g := &Gate{
		dispatcher: opts.Dispatcher,
		proposals:  opts.Proposals,
		audit:      opts.Audit,
		locker:     opts.Locker,
		alerts:     opts.Alerts,
		logger:     opts.Logger,
		ttl:        opts.ProposalTTL,
		lockTTL:    opts.LockTTL,
		now:        opts.Now,
	}
	if g.logger == nil {
		g.logger = log.Default()
	}
	if g.locker == nil {
		g.locker = lock.NewMemoryLocker()
	}
	if g.ttl <= 0 {
		g.ttl = proposal.DefaultTTL
	}
	if g.lockTTL <= 0 {
		// Long enough to cover one dispatch.
		g.lockTTL = opts.Dispatcher.Timeout() + 30*time.Second
	}
	if g.now == nil {
		g.now = time.Now
	}
	g.policies = policy.FailSafe(opts.Policies, g.logger)
	return g, nil
}

const (
	proposeLockPrefix = "propose:"
	lockPoll          = 10 * time.Millisecond
	lockWait          = 5 * time.Second
)

// acquireWait polls the locker until key is free, ctx ends, or lockWait
// passes. Errors other than contention are returned at once.
func (g *Gate) acquireWait(ctx context.Context, key string) (lock.Release, error) {
	ctx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()

	ticker := time.NewTicker(lockPoll)
	defer ticker.Stop()
	for {
		release, err := g.locker.Acquire(ctx, key, g.lockTTL)
		if err == nil || !errors.Is(err, lock.ErrLocked) {
			return release, err
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-ticker.C:
		}
	}
}

// Registry returns the tool registry the gate dispatches to.
func (g *Gate) Registry() *dispatch.Registry {
	return g.dispatcher.Registry()
}

// Session is one actor's view of a tenant. The policy snapshot is taken
// when the session opens and never changes afterwards.
type Session struct {
	gate     *Gate
	tenantID string
	actorID  string
	policy   *model.Policy
}

// Open loads the tenant policy (safe default on any failure) and starts a session.
func (g *Gate) Open(ctx context.Context, tenantID, actorID string) *Session {
	return &Session{
		gate:     g,
		tenantID: tenantID,
		actorID:  actorID,
		policy:   g.policies.Load(ctx, tenantID),
	}
}

func (s *Session) TenantID() string { return s.tenantID }
func (s *Session) ActorID() string { return s.actorID }
func (s *Session) Policy() *model.Policy { return s.policy }

// Check evaluates req against the session policy without side effects.
func (s *Session) Check(req model.ActionRequest) model.Decision {
	return policy.Evaluate(s.policy, req)
}

// Outcome is what a governed call produced. Exactly one of Proposal or
// Result is set for non-deny outcomes; Error carries infrastructure
// failures that prevented a terminal event.
type Outcome struct {
	Decision model.Decision     `json:"decision"`
	Proposal *proposal.Proposal `json:"proposal,omitempty"`
	Result   *dispatch.Result   `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Executed reports whether the tool ran and succeeded.
func (o Outcome) Executed() bool {
	return o.Result != nil && o.Result.OK
}

// Err converts the outcome to an error for callers that prefer one.
func (o Outcome) Err() error {
	if o.Error != "" {
		return fmt.Errorf("%s", o.Error)
	}
	if o.Result != nil {
		return o.Result.Err()
	}
	return model.DecisionError(o.Decision)
}

// Message is the user-facing summary of the outcome.
func (o Outcome) Message() string {
	switch {
	case o.Error != "":
		return "Error: " + o.Error
	case o.Result != nil && o.Result.OK:
		return "Done."
	case o.Result != nil:
		msg, _ := dispatch.SurfaceToolErrors([]dispatch.Result{*o.Result})
		return msg
	case o.Decision.Denied():
		return "Denied: " + o.Decision.Reason
	case o.Proposal != nil:
		return fmt.Sprintf("Approval required: %s (proposal %s)", o.Decision.Reason, o.Proposal.ID)
	}
	return o.Decision.String()
}

func marshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
