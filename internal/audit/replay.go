package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Filter selects records for replay. Zero fields match everything.
type Filter struct {
	TenantID string
	ActorID  string
	Kind     Kind
	From     time.Time // zero value = no lower bound
	To       time.Time // zero value = no upper bound
}

// Match reports whether rec passes the filter.
func (f Filter) Match(rec Record) bool {
	if f.TenantID != "" && rec.TenantID != f.TenantID {
		return false
	}
	if f.ActorID != "" && rec.ActorID != f.ActorID {
		return false
	}
	if f.Kind != "" && rec.Kind != f.Kind {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := time.Parse(TimestampFormat, rec.Timestamp)
		if err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

// Summary holds per-kind counts for a replayed range.
type Summary struct {
	Total          int    `json:"total"`
	Proposals      int    `json:"proposals"`
	Executions     int    `json:"executions"`
	Denials        int    `json:"denials"`
	Failures       int    `json:"failures"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds filtered records and their summary.
type ReplayResult struct {
	TenantID string   `json:"tenant_id,omitempty"`
	ActorID  string   `json:"actor_id,omitempty"`
	Records  []Record `json:"records"`
	Summary  Summary  `json:"summary"`
}

// Replay reads the audit log and returns records matching the filter,
// in log order. Malformed lines are skipped.
func Replay(path string, filter Filter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{
		TenantID: filter.TenantID,
		ActorID:  filter.ActorID,
	}

	scanner := newScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip malformed lines
		}
		if !filter.Match(rec) {
			continue
		}
		result.Records = append(result.Records, rec)
		updateSummary(&result.Summary, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	return result, nil
}

func updateSummary(s *Summary, rec Record) {
	s.Total++

	switch rec.Kind {
	case KindProposal:
		s.Proposals++
	case KindExecution:
		s.Executions++
	case KindDenial:
		s.Denials++
	case KindFailure:
		s.Failures++
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = rec.Timestamp
	}
	s.LastTimestamp = rec.Timestamp
}
