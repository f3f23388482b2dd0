// SPDX-License-Identifier: MIT

package receiver

import (
	"context"
	"sync"
)

// future is a channel-backed, complete-once result cell. It is the
// boundary primitive the reactor thread and the caller's goroutine
// rendezvous on: the reactor thread completes it, the caller's
// goroutine waits on it.
type future[T any] struct {
	done chan struct{}

	mu        sync.Mutex
	completed bool
	result    T
	err       error
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

// complete fulfills the future with v. Returns false if it was already
// completed, so repeated completion attempts are idempotent.
func (f *future[T]) complete(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.completed {
		return false
	}
	f.completed = true
	f.result = v
	close(f.done)

	return true
}

// completeErr fulfills the future exceptionally. Returns false if it
// was already completed.
func (f *future[T]) completeErr(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.completed {
		return false
	}
	f.completed = true
	f.err = err
	close(f.done)

	return true
}

// isDone reports whether the future has already been completed.
func (f *future[T]) isDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// wait blocks until the future completes or ctx is done, whichever
// comes first. A ctx cancellation does not complete the future itself —
// callers that need to cancel the underlying work must do so
// separately.
func (f *future[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
