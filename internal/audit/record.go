package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ppiankov/actiongate/internal/model"
)

// Kind classifies a terminal event.
type Kind string

const (
	KindProposal  Kind = "proposal"
	KindExecution Kind = "execution"
	KindDenial    Kind = "denial"
	KindFailure   Kind = "failure"
)

// TimestampFormat is the layout used in record timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Record is one line in the hash-chained JSONL audit log. Every field is
// a concrete type so json.Marshal output is stable for hashing.
type Record struct {
	Timestamp   string               `json:"ts"`
	TenantID    string               `json:"tenant_id"`
	ActorID     string               `json:"actor_id"`
	Kind        Kind                 `json:"kind"`
	Action      string               `json:"action"`
	TargetTable string               `json:"target_table,omitempty"`
	Amount      *float64             `json:"amount,omitempty"`
	Decision    model.Verdict        `json:"decision,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	ProposalID  string               `json:"proposal_id,omitempty"`
	Request     *model.ActionRequest `json:"request,omitempty"`
	Payload     json.RawMessage      `json:"payload,omitempty"`
	PolicyHash  string               `json:"policy_hash,omitempty"`
	PrevHash    string               `json:"prev_hash"`
}

// Time parses the record timestamp. The zero time is returned on error.
func (r Record) Time() time.Time {
	t, _ := time.Parse(TimestampFormat, r.Timestamp)
	return t
}

// Stamp formats t as a record timestamp.
func Stamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// Sink persists records. Implementations must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// MemorySink keeps records in memory. Err, when set, is returned by every
// Append without storing the record.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	Err     error
}

func (m *MemorySink) Append(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of the stored records.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// SetErr changes the failure injected into Append.
func (m *MemorySink) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}
