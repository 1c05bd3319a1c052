package proposal

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ppiankov/actiongate/internal/model"
)

var (
	// ErrNotFound is returned when no proposal matches.
	ErrNotFound = model.ErrProposalNotFound
	// ErrConflict is returned when a transition's expected status no longer holds.
	ErrConflict = model.ErrProposalResolved
	// ErrDuplicate is returned by Save when a pending proposal with the
	// same idempotency key is already stored.
	ErrDuplicate = model.ErrProposalPending
)

// Filter narrows List. Zero fields match everything.
type Filter struct {
	TenantID string
	ActorID  string
	Status   Status
	Limit    int
}

func (f Filter) match(p *Proposal) bool {
	if f.TenantID != "" && p.TenantID != f.TenantID {
		return false
	}
	if f.ActorID != "" && p.ActorID != f.ActorID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return true
}

// Store persists proposals. Transition is a compare-and-set on status and
// is the only way a stored proposal changes state.
type Store interface {
	// Save stores a new proposal. A pending proposal is rejected with
	// ErrDuplicate while another pending one has the same key.
	Save(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id string) (*Proposal, error)
	// FindPending returns the pending proposal with the given idempotency
	// key, or ErrNotFound.
	FindPending(ctx context.Context, idempotencyKey string) (*Proposal, error)
	// List returns matching proposals, oldest first.
	List(ctx context.Context, f Filter) ([]*Proposal, error)
	Transition(ctx context.Context, id string, from, to Status, by, note string) (*Proposal, error)
	// ExpireDue moves every pending proposal whose deadline is before now
	// to expired and returns them.
	ExpireDue(ctx context.Context, now time.Time) ([]*Proposal, error)
	Close() error
}

// applyTransition mutates p in place after validating from -> to.
func applyTransition(p *Proposal, from, to Status, by, note string, now time.Time) error {
	if !CanTransition(from, to) {
		return errors.Mark(errors.Newf("illegal transition %s -> %s", from, to), ErrConflict)
	}
	if p.Status != from {
		return errors.Mark(errors.Newf("proposal %s is %s, expected %s", p.ID, p.Status, from), ErrConflict)
	}
	p.Status = to
	resolved := now.UTC()
	p.ResolvedAt = &resolved
	if by != "" {
		p.ResolvedBy = by
	}
	if note != "" {
		p.Note = note
	}
	return nil
}

func duplicate(p *Proposal) error {
	return errors.Wrapf(ErrDuplicate, "proposal %s", p.ID)
}

func notFound(id string) error {
	return errors.Wrapf(ErrNotFound, "proposal %s", id)
}
