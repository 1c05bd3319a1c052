package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	"github.com/ppiankov/actiongate/internal/model"
)

// ErrWriterClosed is reported for records written after Close.
var ErrWriterClosed = errors.New("audit writer closed")

const defaultShards = 16

// Writer delivers records to a Sink without blocking the caller on I/O.
// Records are hashed by (tenant, actor) onto a fixed set of shards, each
// drained by one goroutine, so records for one pair reach the sink in
// Write order and the goroutine count never exceeds the shard count.
// Failures are logged and counted, never returned.
type Writer struct {
	sink    Sink
	logger  *log.Logger
	onError func(Record, error)
	buffer  int
	nshards int

	// mu is held for reading while sending, so Close cannot close a
	// shard under an in-flight Write.
	mu      sync.RWMutex
	closed  bool
	qmu     sync.Mutex
	shards  []chan Record
	workers int
	wg      sync.WaitGroup

	pendingMu sync.Mutex
	pending   int
	idle      *sync.Cond

	failures atomic.Int64
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithOnError registers a callback for records the sink rejected.
func WithOnError(fn func(Record, error)) WriterOption {
	return func(w *Writer) { w.onError = fn }
}

// WithShards sets how many drain goroutines the writer may run.
func WithShards(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.nshards = n
		}
	}
}

// WithBuffer sets the per-shard queue depth.
func WithBuffer(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.buffer = n
		}
	}
}

// NewWriter creates a Writer over sink. logger may be nil.
func NewWriter(sink Sink, logger *log.Logger, opts ...WriterOption) *Writer {
	if logger == nil {
		logger = log.Default()
	}
	w := &Writer{
		sink:    sink,
		logger:  logger,
		buffer:  256,
		nshards: defaultShards,
	}
	w.idle = sync.NewCond(&w.pendingMu)
	for _, o := range opts {
		o(w)
	}
	w.shards = make([]chan Record, w.nshards)
	return w
}

// Write enqueues rec. It only blocks when the shard's queue is full.
func (w *Writer) Write(rec Record) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.fail(rec, ErrWriterClosed)
		return
	}
	if rec.Timestamp == "" {
		rec.Timestamp = Stamp(time.Now())
	}
	q := w.shardFor(rec.TenantID, rec.ActorID)

	w.pendingMu.Lock()
	w.pending++
	w.pendingMu.Unlock()

	q <- rec
}

// shardFor returns the pair's shard, starting its worker on first use.
func (w *Writer) shardFor(tenant, actor string) chan Record {
	i := xxhash.Sum64String(tenant+"\x00"+actor) % uint64(len(w.shards))

	w.qmu.Lock()
	defer w.qmu.Unlock()

	q := w.shards[i]
	if q == nil {
		q = make(chan Record, w.buffer)
		w.shards[i] = q
		w.workers++
		w.wg.Add(1)
		go w.drain(q)
	}
	return q
}

// Workers returns how many drain goroutines have been started.
func (w *Writer) Workers() int {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	return w.workers
}

func (w *Writer) drain(q chan Record) {
	defer w.wg.Done()
	for rec := range q {
		if err := w.sink.Append(context.Background(), rec); err != nil {
			w.fail(rec, errors.Mark(err, model.ErrAuditWrite))
		}
		w.pendingMu.Lock()
		w.pending--
		if w.pending == 0 {
			w.idle.Broadcast()
		}
		w.pendingMu.Unlock()
	}
}

func (w *Writer) fail(rec Record, err error) {
	w.failures.Add(1)
	w.logger.Error("audit write failed",
		"tenant", rec.TenantID, "actor", rec.ActorID, "kind", rec.Kind, "action", rec.Action, "error", err)
	if w.onError != nil {
		w.onError(rec, err)
	}
}

// Failures returns how many records could not be written.
func (w *Writer) Failures() int64 {
	return w.failures.Load()
}

// Flush waits until every record written so far reached the sink.
func (w *Writer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pendingMu.Lock()
		for w.pending > 0 {
			w.idle.Wait()
		}
		w.pendingMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains every shard and stops the workers. Later writes fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.qmu.Lock()
	for _, q := range w.shards {
		if q != nil {
			close(q)
		}
	}
	w.qmu.Unlock()
	w.mu.Unlock()
	w.wg.Wait()
	return nil
}
