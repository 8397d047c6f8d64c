package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the completion state of a Future.
type State int

const (
	StatePending State = iota
	StateSucceeded
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSucceeded:
		return "succeeded"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Future is a pending operation that resolves exactly once.
type Future[T any] struct {
	id        string
	createdAt time.Time
	done      chan struct{}

	mu    sync.Mutex
	state State
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// resolve moves the future to a terminal state. Only the first call wins;
// it returns false when the future was already resolved.
func (f *Future[T]) resolve(state State, value T, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StatePending {
		return false
	}
	f.state = state
	f.value = value
	f.err = err
	close(f.done)
	return true
}

// ID returns the unique identifier of the operation.
func (f *Future[T]) ID() string { return f.id }

// CreatedAt returns when the operation was created.
func (f *Future[T]) CreatedAt() time.Time { return f.createdAt }

// Done is closed once the future reaches a terminal state.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// State returns the current completion state.
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result blocks until the future resolves and returns its outcome.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Await waits for resolution or for ctx to end, whichever comes first.
// An ended ctx does not resolve the future.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Resolved returns a future that already holds value.
func Resolved[T any](value T) *Future[T] {
	f := newFuture[T]()
	f.resolve(StateSucceeded, value, nil)
	return f
}

// Failed returns a future that already holds err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.resolve(StateFailed, zero, err)
	return f
}
