package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	cerrors "github.com/cockroachdb/errors"

	"github.com/ppiankov/actiongate/internal/model"
)

// slowSink delays each append so ordering bugs surface.
type slowSink struct {
	MemorySink
	delay time.Duration
}

func (s *slowSink) Append(ctx context.Context, rec Record) error {
	time.Sleep(s.delay)
	return s.MemorySink.Append(ctx, rec)
}

func flush(t *testing.T, w *Writer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestWriterPreservesPerKeyOrder(t *testing.T) {
	sink := &slowSink{delay: time.Millisecond}
	w := NewWriter(sink, nil)
	defer w.Close()

	var wg sync.WaitGroup
	for a := 0; a < 4; a++ {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				w.Write(Record{TenantID: "acme", ActorID: actor, Kind: KindExecution, Action: fmt.Sprintf("%d", i)})
			}
		}(fmt.Sprintf("actor-%d", a))
	}
	wg.Wait()
	flush(t, w)

	recs := sink.Records()
	if len(recs) != 100 {
		t.Fatalf("expected 100 records, got %d", len(recs))
	}
	next := map[string]int{}
	for _, r := range recs {
		want := fmt.Sprintf("%d", next[r.ActorID])
		if r.Action != want {
			t.Fatalf("actor %s: expected action %s, got %s", r.ActorID, want, r.Action)
		}
		next[r.ActorID]++
		if r.Timestamp == "" {
			t.Error("expected writer to stamp records")
		}
	}
}

func TestWriterWorkersBoundedByShards(t *testing.T) {
	sink := &MemorySink{}
	w := NewWriter(sink, nil, WithShards(4))
	defer w.Close()

	for a := 0; a < 500; a++ {
		actor := fmt.Sprintf("actor-%d", a)
		for i := 0; i < 2; i++ {
			w.Write(Record{TenantID: fmt.Sprintf("t%d", a%7), ActorID: actor, Kind: KindExecution, Action: fmt.Sprintf("%d", i)})
		}
	}
	flush(t, w)

	if n := w.Workers(); n < 1 || n > 4 {
		t.Fatalf("expected between 1 and 4 workers, got %d", n)
	}
	recs := sink.Records()
	if len(recs) != 1000 {
		t.Fatalf("expected 1000 records, got %d", len(recs))
	}
	next := map[string]int{}
	for _, r := range recs {
		key := r.TenantID + "/" + r.ActorID
		if want := fmt.Sprintf("%d", next[key]); r.Action != want {
			t.Fatalf("%s: expected action %s, got %s", key, want, r.Action)
		}
		next[key]++
	}
}

func TestWriterDefaultShards(t *testing.T) {
	w := NewWriter(&MemorySink{}, nil)
	defer w.Close()

	for a := 0; a < 200; a++ {
		w.Write(Record{TenantID: "acme", ActorID: fmt.Sprintf("actor-%d", a)})
	}
	flush(t, w)
	if n := w.Workers(); n > defaultShards {
		t.Errorf("expected at most %d workers, got %d", defaultShards, n)
	}
}

func TestWriterFailuresAreReportedNotReturned(t *testing.T) {
	sink := &MemorySink{Err: errors.New("disk full")}

	var mu sync.Mutex
	var reported []error
	w := NewWriter(sink, nil, WithOnError(func(r Record, err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))

	w.Write(Record{TenantID: "acme", ActorID: "a", Kind: KindFailure})
	w.Write(Record{TenantID: "acme", ActorID: "a", Kind: KindDenial})
	flush(t, w)

	if w.Failures() != 2 {
		t.Errorf("expected 2 failures, got %d", w.Failures())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", len(reported))
	}
	if !cerrors.Is(reported[0], model.ErrAuditWrite) {
		t.Errorf("expected ErrAuditWrite mark, got %v", reported[0])
	}
	w.Close()
}

func TestWriterCloseDrainsAndRejectsLateWrites(t *testing.T) {
	sink := &slowSink{delay: 2 * time.Millisecond}
	w := NewWriter(sink, nil, WithBuffer(4))

	for i := 0; i < 10; i++ {
		w.Write(Record{TenantID: "t", ActorID: "a", Kind: KindExecution})
	}
	w.Close()

	if n := len(sink.Records()); n != 10 {
		t.Fatalf("expected close to drain 10 records, got %d", n)
	}

	w.Write(Record{TenantID: "t", ActorID: "a"})
	if w.Failures() != 1 {
		t.Errorf("expected late write to count as failure, got %d", w.Failures())
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestWriterFlushRespectsContext(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	w := NewWriter(sink, nil)

	w.Write(Record{TenantID: "t", ActorID: "a"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Flush(ctx); err == nil {
		t.Error("expected flush to time out")
	}
	close(block)
	w.Close()
}

type blockingSink struct {
	release chan struct{}
}

func (b *blockingSink) Append(ctx context.Context, rec Record) error {
	<-b.release
	return nil
}

func TestWriterOverLogKeepsChainValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	w := NewWriter(l, nil)
	for i := 0; i < 20; i++ {
		w.Write(Record{TenantID: "acme", ActorID: fmt.Sprintf("a%d", i%3), Kind: KindExecution, Action: "create_lead"})
	}
	w.Close()
	l.Close()

	if result := Verify(path); !result.Valid || result.Lines != 20 {
		t.Fatalf("expected 20 valid lines, got %+v", result)
	}
}
