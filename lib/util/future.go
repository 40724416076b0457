package util

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Future is a result handle of an asynchronous operation.
// It is completed exactly once, can be awaited by any number of goroutines and
// runs registered callbacks after completion.
type Future[T any] struct {
	done chan struct{}

	mu        sync.Mutex
	completed bool
	value     T
	err       error
	callbacks []func(T, error)
}

// NewFuture creates an incomplete future
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// CompletedFuture creates a future that is already completed with the given result
func CompletedFuture[T any](value T, err error) *Future[T] {
	f := NewFuture[T]()
	f.Complete(value, err)
	return f
}

// Complete sets the result of the future and runs the callbacks in the calling goroutine.
// Waiters are released after the callbacks ran, so they observe their side effects.
// Only the first call has an effect, it returns false for every later call.
func (f *Future[T]) Complete(value T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.value = value
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(value, err)
	}
	close(f.done)
	return true
}

// OnComplete registers a callback. If the future is already completed the callback runs immediately.
func (f *Future[T]) OnComplete(cb func(T, error)) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	value, err := f.value, f.err
	f.mu.Unlock()
	cb(value, err)
}

// Done returns a channel that is closed once the future is completed
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future is completed
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get blocks until the future is completed and returns its result
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.value, f.err
}

// Wait blocks until the future is completed or the context is done
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then returns a future that completes with the result of fn applied to the result of f.
// fn runs in the goroutine that completes f.
func Then[T, U any](f *Future[T], fn func(T, error) (U, error)) *Future[U] {
	next := NewFuture[U]()
	f.OnComplete(func(value T, err error) {
		next.Complete(fn(value, err))
	})
	return next
}

// AllOf returns a future that completes after every given future completed,
// successful or not. The error is the first error observed (if any).
func AllOf[T any](futures ...*Future[T]) *Future[struct{}] {
	all := NewFuture[struct{}]()
	if len(futures) == 0 {
		all.Complete(struct{}{}, nil)
		return all
	}

	go func() {
		var g errgroup.Group
		for _, f := range futures {
			f := f
			g.Go(func() error {
				_, err := f.Get()
				return err
			})
		}
		all.Complete(struct{}{}, g.Wait())
	}()
	return all
}
