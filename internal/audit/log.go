package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// GenesisHash chains the first record of a log.
var GenesisHash = "sha256:" + strings.Repeat("0", sha256.Size*2)

// maxLine bounds a single record line; payloads are snapshots, not blobs.
const maxLine = 4 << 20

// Log is the JSONL sink. Every line carries the hash of the line before
// it, so removing, inserting or editing a record breaks the chain.
type Log struct {
	path string

	mu    sync.Mutex
	file  *os.File
	tail  string
	count int
}

// Open opens path for appending, creating it and its directory if needed.
// An existing log is scanned once to pick up the chain where it ended.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "audit: create directory")
	}
	tail, count, err := chainTail(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "audit: open")
	}
	return &Log{path: path, file: f, tail: tail, count: count}, nil
}

// chainTail returns the hash of the last line in path and the number of
// lines. A missing or empty file starts at GenesisHash.
func chainTail(path string) (string, int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return GenesisHash, 0, nil
	}
	if err != nil {
		return "", 0, errors.Wrap(err, "audit: read existing log")
	}
	defer f.Close()

	tail, n := GenesisHash, 0
	sc := newScanner(f)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		tail = HashLine(sc.Bytes())
		n++
	}
	if err := sc.Err(); err != nil {
		return "", 0, errors.Wrap(err, "audit: scan existing log")
	}
	return tail, n, nil
}

// Append chains rec onto the log and fsyncs. An empty Timestamp is
// stamped with the current time.
func (l *Log) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "audit")
	}
	if rec.Timestamp == "" {
		rec.Timestamp = Stamp(time.Now())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec.PrevHash = l.tail
	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "audit: marshal record")
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "audit: write record")
	}
	if err := l.file.Sync(); err != nil {
		return errors.Wrap(err, "audit: sync")
	}
	l.tail = HashLine(line)
	l.count++
	return nil
}

// Len reports how many records the log holds, including ones written
// before Open.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLine)
	return s
}

// HashLine returns "sha256:<hex>" of line.
func HashLine(line []byte) string {
	sum := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(sum[:])
}
