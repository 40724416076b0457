package util

import (
	"context"
	"errors"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrPoolClosed is returned when a task is submitted after shutdown started
var ErrPoolClosed = errors.New("worker pool is closed")

// --------------------------------------------------------------------------
// WorkerPool
// --------------------------------------------------------------------------

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	// quit releases submitters blocked on a full queue once shutdown started
	quit      chan struct{}
	closeOnce sync.Once

	// mu keeps sends to tasks and its close apart
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts a pool with the given number of workers.
// queueSize bounds the number of tasks waiting for a free worker, Submit blocks when it is reached.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &WorkerPool{
		tasks: make(chan func(), queueSize),
		quit:  make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit queues a task. It returns ErrPoolClosed after Shutdown was called, also when it
// was blocked on a full queue at that time.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *WorkerPool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	}
}

// Shutdown rejects new tasks and waits until all queued tasks finished or ctx is done.
// In the latter case the workers keep running in the background and ctx.Err() is returned.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.quit) })

	// blocked submitters return on quit, so the lock is free shortly
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --------------------------------------------------------------------------
// KeyedExecutor
// --------------------------------------------------------------------------

// keyedQueue holds the not yet started tasks of one key
type keyedQueue struct {
	tasks []func()
}

// KeyedExecutor runs tasks of the same key strictly one after another in submission order,
// tasks of different keys run concurrently on the shared WorkerPool.
//
// A queue is created on the first task for a key and removed as soon as it is observed
// empty, so memory is bounded by the number of currently active keys.
type KeyedExecutor[K comparable] struct {
	pool   *WorkerPool
	queues *xsync.MapOf[K, *keyedQueue]
}

// NewKeyedExecutor creates an executor on top of the given pool
func NewKeyedExecutor[K comparable](pool *WorkerPool) *KeyedExecutor[K] {
	return &KeyedExecutor[K]{
		pool:   pool,
		queues: xsync.NewMapOf[K, *keyedQueue](),
	}
}

// Submit appends a task to the queue of key. Every submitted task is run, if the pool
// was already shut down the queue of the key is drained on a dedicated goroutine.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *KeyedExecutor[K]) Submit(key K, task func()) {
	start := false
	e.queues.Compute(key, func(q *keyedQueue, loaded bool) (*keyedQueue, bool) {
		if !loaded {
			q = &keyedQueue{}
			start = true
		}
		q.tasks = append(q.tasks, task)
		return q, false
	})
	if !start {
		// a drainer for this key is already scheduled and will pick the task up
		return
	}

	if err := e.pool.Submit(func() { e.drain(key) }); err != nil {
		go e.drain(key)
	}
}

// drain runs the tasks of key until its queue is empty and removes the queue
func (e *KeyedExecutor[K]) drain(key K) {
	for {
		var next func()
		e.queues.Compute(key, func(q *keyedQueue, loaded bool) (*keyedQueue, bool) {
			if !loaded || len(q.tasks) == 0 {
				return q, true
			}
			next = q.tasks[0]
			q.tasks[0] = nil
			q.tasks = q.tasks[1:]
			return q, false
		})
		if next == nil {
			return
		}
		next()
	}
}

// ActiveKeys returns the number of keys that currently have queued or running tasks
func (e *KeyedExecutor[K]) ActiveKeys() int {
	return e.queues.Size()
}
