package ingest

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openScratchDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	if _, err := conn.Exec("CREATE TABLE test (id INTEGER PRIMARY KEY, val TEXT)"); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	return conn
}

func insertVal(val string) WriteFunc {
	return func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO test (val) VALUES (?)", val)
		return err
	}
}

func countRows(t *testing.T, conn *sql.DB) int {
	t.Helper()
	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM test").Scan(&n); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	return n
}

func TestBatchWriterCommits(t *testing.T) {
	conn := openScratchDB(t)
	bw := NewBatchWriter(conn, 2, 0)

	for _, v := range []string{"A", "B", "C"} {
		if err := bw.Submit(insertVal(v)); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- bw.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close")
	}

	if n := countRows(t, conn); n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
}

func TestBatchWriterRollsBackFailedBatch(t *testing.T) {
	conn := openScratchDB(t)
	bw := NewBatchWriter(conn, 2, 0)
	var reported []error
	var mu sync.Mutex
	bw.OnError = func(e error) {
		mu.Lock()
		reported = append(reported, e)
		mu.Unlock()
	}

	boom := errors.New("intentional error")
	bw.Submit(insertVal("C"))
	bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return boom })
	// A later batch is unaffected.
	bw.Submit(insertVal("D"))

	if err := bw.Close(); !errors.Is(err, boom) {
		t.Fatalf("expected first batch error from Close, got %v", err)
	}
	if len(reported) != 1 {
		t.Fatalf("expected OnError once, got %d", len(reported))
	}
	if n := countRows(t, conn); n != 1 {
		t.Fatalf("expected only the second batch to commit, got %d rows", n)
	}
}

func TestBatchWriterFlushesBySize(t *testing.T) {
	bw := NewBatchWriter(nil, 5, 0)
	var mu sync.Mutex
	called := 0
	for i := 0; i < 12; i++ {
		if err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
			mu.Lock()
			called++
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if called != 12 {
		t.Fatalf("expected 12 calls, got %d", called)
	}
}

func TestBatchWriterFlushesOnInterval(t *testing.T) {
	bw := NewBatchWriter(nil, 10, 20*time.Millisecond)
	defer bw.Close()

	ran := make(chan struct{})
	if err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		close(ran)
		return nil
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("write was not flushed by the ticker")
	}
}

func TestBatchWriterSubmitAfterClose(t *testing.T) {
	bw := NewBatchWriter(nil, 1, 0)
	if err := bw.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil }); err != ErrBatchWriterClosed {
		t.Fatalf("expected ErrBatchWriterClosed, got %v", err)
	}
	if err := bw.Close(); err != ErrBatchWriterClosed {
		t.Fatalf("expected ErrBatchWriterClosed on second close, got %v", err)
	}
}

func TestBatchWriterDropsBatchAfterStop(t *testing.T) {
	bw := NewBatchWriter(nil, 1, 0)
	errCh := make(chan error, 4)
	bw.OnError = func(e error) { errCh <- e }

	blocker := make(chan struct{})
	// Occupy the committer, then fill the two-slot queue.
	bw.Submit(func(ctx context.Context, tx *sql.Tx) error { <-blocker; return nil })
	time.Sleep(10 * time.Millisecond)
	bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil })
	bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil })

	close(bw.stop)
	// The queue is full and the writer is stopping, so this batch is dropped.
	bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil })
	close(blocker)

	select {
	case e := <-errCh:
		if !strings.Contains(e.Error(), "dropping batch") {
			t.Fatalf("unexpected OnError value: %v", e)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected OnError for the dropped batch")
	}
}
