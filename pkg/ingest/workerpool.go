package ingest

import (
	"context"
	"errors"
	"sync"
)

// Job is a unit of work run by a WorkerPool.
type Job func(ctx context.Context) error

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool is the subset of WorkerPool used by LineTokenizer, so tests can
// inject pools that misbehave.
type Pool interface {
	Start(ctx context.Context)
	Submit(ctx context.Context, job Job) error
	Close()
	Err() error
}

// WorkerPool runs jobs on a fixed number of goroutines.
type WorkerPool struct {
	jobs    chan Job
	quit    chan struct{}
	workers int
	wg      sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool

	quitOnce sync.Once

	errMu sync.Mutex
	err   error
}

// NewWorkerPool returns a pool of workers goroutines with a job queue of the
// given capacity.
func NewWorkerPool(workers, queue int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = workers * 2
	}
	return &WorkerPool{
		jobs:    make(chan Job, queue),
		quit:    make(chan struct{}),
		workers: workers,
	}
}

// Start launches the workers. They run until Close drains the queue or ctx
// is done.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					if err := job(ctx); err != nil {
						p.errMu.Lock()
						if p.err == nil {
							p.err = err
						}
						p.errMu.Unlock()
					}
				}
			}
		}()
	}
}

// Submit queues job, blocking while the queue is full. It gives up when ctx
// is done or the pool is closed.
func (p *WorkerPool) Submit(ctx context.Context, job Job) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
}

// Close stops accepting jobs, lets queued jobs finish and waits for the
// workers to exit. Submits blocked on a full queue return ErrPoolClosed.
func (p *WorkerPool) Close() {
	// Release blocked submitters before taking the write lock.
	p.quitOnce.Do(func() { close(p.quit) })

	p.closeMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.closeMu.Unlock()
	p.wg.Wait()
}

// Err returns the first error returned by a job so far.
func (p *WorkerPool) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}
