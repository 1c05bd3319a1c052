package audit

import (
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult holds the outcome of an audit log verification.
type VerifyResult struct {
	Valid     bool         `json:"valid"`
	Lines     int          `json:"lines"`
	Kinds     map[Kind]int `json:"kinds,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorLine int          `json:"error_line,omitempty"`
}

func (r VerifyResult) fail(line int, format string, args ...any) VerifyResult {
	return VerifyResult{Lines: r.Lines, Error: fmt.Sprintf(format, args...), ErrorLine: line}
}

// Verify reads a JSONL audit log and checks, line by line:
//   - prev_hash links to the previous line (genesis for the first)
//   - kind is one of proposal, execution, denial, failure
//
// Returns Valid=true if every check holds, or the first violation.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	res := VerifyResult{Kinds: map[Kind]int{}}
	expected := GenesisHash

	scanner := newScanner(f)
	for scanner.Scan() {
		res.Lines++
		line := scanner.Bytes()

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return res.fail(res.Lines, "parse error: %v", err)
		}
		if rec.PrevHash != expected {
			if res.Lines == 1 {
				return res.fail(1, "first record prev_hash is %q, expected genesis hash", rec.PrevHash)
			}
			return res.fail(res.Lines, "hash mismatch: expected %s, got %s", expected, rec.PrevHash)
		}
		switch rec.Kind {
		case KindProposal, KindExecution, KindDenial, KindFailure:
		default:
			return res.fail(res.Lines, "unknown record kind %q", rec.Kind)
		}
		res.Kinds[rec.Kind]++

		expected = HashLine(line)
	}

	if err := scanner.Err(); err != nil {
		return res.fail(0, "scan: %v", err)
	}

	res.Valid = true
	return res
}
