package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// WriteFunc performs database writes inside the batch transaction.
type WriteFunc func(ctx context.Context, tx *sql.Tx) error

// ErrBatchWriterClosed is returned by Submit and Close once the writer has
// been closed.
var ErrBatchWriterClosed = errors.New("batch writer closed")

// BatchWriter buffers writes and commits them in batches, one transaction
// per batch. A failing WriteFunc rolls back its whole batch. Commits happen
// on a background goroutine, in submission order.
type BatchWriter struct {
	db   *sql.DB
	size int

	mu      sync.Mutex
	pending []WriteFunc
	closed  bool

	batches chan []WriteFunc
	stop    chan struct{}
	wg      sync.WaitGroup

	// OnError, if set, is called for every failed batch.
	OnError func(error)

	errMu    sync.Mutex
	firstErr error
}

// NewBatchWriter starts a writer that commits once size writes are queued,
// and every interval when interval > 0. A nil db runs writes with a nil tx,
// which is only useful in tests.
func NewBatchWriter(db *sql.DB, size int, interval time.Duration) *BatchWriter {
	if size <= 0 {
		size = 10
	}
	bw := &BatchWriter{
		db:      db,
		size:    size,
		pending: make([]WriteFunc, 0, size),
		batches: make(chan []WriteFunc, 2),
		stop:    make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.commitLoop()

	if interval > 0 {
		bw.wg.Add(1)
		go bw.tickLoop(interval)
	}
	return bw
}

// Submit queues w. It blocks while the committer is two batches behind.
func (bw *BatchWriter) Submit(w WriteFunc) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return ErrBatchWriterClosed
	}
	bw.pending = append(bw.pending, w)
	if len(bw.pending) >= bw.size {
		bw.flushLocked()
	}
	return nil
}

// Flush hands any queued writes to the committer without waiting for them.
func (bw *BatchWriter) Flush() {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if !bw.closed {
		bw.flushLocked()
	}
}

func (bw *BatchWriter) flushLocked() {
	if len(bw.pending) == 0 {
		return
	}
	batch := bw.pending
	bw.pending = make([]WriteFunc, 0, bw.size)

	select {
	case bw.batches <- batch:
	case <-bw.stop:
		bw.fail(fmt.Errorf("batch writer: dropping batch of %d writes after shutdown", len(batch)))
	}
}

func (bw *BatchWriter) fail(err error) {
	bw.errMu.Lock()
	if bw.firstErr == nil {
		bw.firstErr = err
	}
	bw.errMu.Unlock()
	if bw.OnError != nil {
		bw.OnError(err)
	}
}

// Err returns the first error seen so far.
func (bw *BatchWriter) Err() error {
	bw.errMu.Lock()
	defer bw.errMu.Unlock()
	return bw.firstErr
}

func (bw *BatchWriter) commitLoop() {
	defer bw.wg.Done()
	for batch := range bw.batches {
		if err := bw.commit(batch); err != nil {
			bw.fail(err)
		}
	}
}

func (bw *BatchWriter) commit(batch []WriteFunc) error {
	// Writes already queued must land even if the submitter's context is
	// gone; each one is idempotent.
	ctx := context.Background()

	if bw.db == nil {
		for _, w := range batch {
			if err := w(ctx, nil); err != nil {
				return err
			}
		}
		return nil
	}

	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, w := range batch {
		if err := w(ctx, tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch of %d writes: %w", len(batch), err)
	}
	return nil
}

func (bw *BatchWriter) tickLoop(interval time.Duration) {
	defer bw.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-bw.stop:
			return
		case <-ticker.C:
			bw.Flush()
		}
	}
}

// Close commits everything still queued, stops the writer and returns the
// first error it saw.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return ErrBatchWriterClosed
	}
	bw.flushLocked()
	bw.closed = true
	bw.mu.Unlock()

	close(bw.stop)
	close(bw.batches)
	bw.wg.Wait()
	return bw.Err()
}
