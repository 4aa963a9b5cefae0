package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var ErrWriterClosed = errors.New("database writer is closed")

// WriteFunc mutates the store inside a transaction owned by the writer.
type WriteFunc func(tx *gorm.DB) error

type writeOp struct {
	name  string
	fn    WriteFunc
	done  chan error // nil for fire-and-forget ops
	flush bool
}

// WriterOptions tunes the queue and the retry policy.
type WriterOptions struct {
	QueueSize   int
	MaxAttempts int
	BaseBackoff time.Duration
}

func DefaultWriterOptions() WriterOptions {
	return WriterOptions{QueueSize: 1024, MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond}
}

// Writer is the single goroutine allowed to mutate the store. Operations
// run one at a time in submission order, each in its own transaction, so
// writes never race each other and relative updates need no row locking.
// Lock contention from readers is retried with exponential backoff; an
// operation that still fails is logged and dropped.
type Writer struct {
	db    *gorm.DB
	log   *zerolog.Logger
	opts  WriterOptions
	queue chan writeOp
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once

	sleep func(time.Duration)
}

func NewWriter(db *gorm.DB, opts WriterOptions, log *zerolog.Logger) *Writer {
	def := DefaultWriterOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = def.BaseBackoff
	}
	l := log.With().Str("component", "writer").Logger()
	w := &Writer{
		db:    db,
		log:   &l,
		opts:  opts,
		queue: make(chan writeOp, opts.QueueSize),
		done:  make(chan struct{}),
		sleep: time.Sleep,
	}
	go w.run()
	return w
}

// Enqueue submits fn without waiting for it to run. It blocks only while
// the queue is full.
func (w *Writer) Enqueue(ctx context.Context, name string, fn WriteFunc) error {
	return w.submit(ctx, writeOp{name: name, fn: fn})
}

// Do submits fn and waits for its outcome. Ordering with respect to
// Enqueue is preserved.
func (w *Writer) Do(ctx context.Context, name string, fn WriteFunc) error {
	op := writeOp{name: name, fn: fn, done: make(chan error, 1)}
	if err := w.submit(ctx, op); err != nil {
		return err
	}
	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every operation submitted before it has been applied.
func (w *Writer) Flush(ctx context.Context) error {
	op := writeOp{name: "flush", flush: true, done: make(chan error, 1)}
	if err := w.submit(ctx, op); err != nil {
		return err
	}
	select {
	case <-op.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) submit(ctx context.Context, op writeOp) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}
	select {
	case w.queue <- op:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("unable to queue %s: %w", op.name, ctx.Err())
	}
}

// Close stops accepting operations, drains the queue and waits for the
// worker to exit.
func (w *Writer) Close() error {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
	})
	<-w.done
	return nil
}

// Pending reports how many operations are waiting.
func (w *Writer) Pending() int {
	return len(w.queue)
}

func (w *Writer) run() {
	defer close(w.done)
	for op := range w.queue {
		if op.flush {
			op.done <- nil
			continue
		}
		err := w.apply(op)
		if op.done != nil {
			op.done <- err
			continue
		}
		if err != nil {
			w.log.Error().Err(err).Str("op", op.name).Msg("queued write failed")
		}
	}
}

func (w *Writer) apply(op writeOp) error {
	var err error
	for attempt := 0; attempt < w.opts.MaxAttempts; attempt++ {
		err = w.db.Transaction(op.fn)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt+1 < w.opts.MaxAttempts {
			backoff := w.opts.BaseBackoff << attempt
			w.log.Warn().Err(err).Str("op", op.name).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("store busy, retrying write")
			w.sleep(backoff)
		}
	}
	return fmt.Errorf("%s dropped after %d attempts: %w", op.name, w.opts.MaxAttempts, err)
}

// IsTransient reports whether err is sqlite lock contention worth retrying.
func IsTransient(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
