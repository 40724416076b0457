// Package util
//
// This file provides SerialQueue, a lock-free multi-producer queue that is drained by
// exactly one goroutine which runs a handler for every item.
//
// Features and Guarantees:
//
//   - Lock-Free appends: producers link nodes with atomic operations, no mutex on the hot path
//   - Serial execution: the handler is never run concurrently with itself
//   - Submission order: items pushed by one goroutine are handled in the order they were pushed
//   - Unbounded Size: the queue can grow as needed, backpressure is applied by the caller
//   - Graceful close: Close stops new pushes, items already queued are still handled
//
// The container state machine runs one SerialQueue per payload write worker so that all
// writes for the same block execute in submission order on the same goroutine.
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// SerialQueue is a multi-producer single-consumer queue with a built-in consumer.
type SerialQueue[T any] struct {
	head    atomic.Pointer[node[T]]
	tail    atomic.Pointer[node[T]]
	handler func(T)
	pending atomic.Int64

	// closeMu makes sure no push is linking a node while the queue is closed
	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}

	// Condition variable for efficient waiting of the consumer
	mu   sync.Mutex
	cond *sync.Cond
}

// NewSerialQueue creates a queue and starts its consumer goroutine.
func NewSerialQueue[T any](handler func(T)) *SerialQueue[T] {
	sentinel := &node[T]{}

	q := &SerialQueue[T]{
		handler: handler,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()
	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *SerialQueue[T]) Push(value T) bool {
	q.closeMu.RLock()
	if q.closed {
		q.closeMu.RUnlock()
		return false
	}

	newNode := &node[T]{value: value}
	q.pending.Add(1)

	var backoff uint8
	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// may fail if another producer already moved the tail, which is fine
				q.tail.CompareAndSwap(tailNode, newNode)
				break
			}
		} else {
			// help a producer that linked its node but did not move the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin first, then yield under contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
	q.closeMu.RUnlock()

	q.signal()
	return true
}

func (q *SerialQueue[T]) signal() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume runs the handler for every queued item until the queue is closed and empty
func (q *SerialQueue[T]) consume() {
	defer close(q.done)

	for {
		handled := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			handled = true

			value := next.value
			q.head.Store(next)

			// help go gc
			var zero T
			next.value = zero

			q.handler(value)
			q.pending.Add(-1)
		}

		if handled {
			continue
		}

		q.mu.Lock()
		if q.head.Load().next.Load() == nil {
			if q.isClosed() {
				q.mu.Unlock()
				return
			}
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

func (q *SerialQueue[T]) isClosed() bool {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	return q.closed
}

// Close stops accepting new items. Items already queued are still handled,
// Done is closed once the consumer has exited.
func (q *SerialQueue[T]) Close() {
	q.closeMu.Lock()
	q.closed = true
	q.closeMu.Unlock()
	q.signal()
}

// Done returns a channel that is closed after the consumer has drained the queue and exited.
func (q *SerialQueue[T]) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of items that are queued or currently being handled.
func (q *SerialQueue[T]) Len() int {
	return int(q.pending.Load())
}
