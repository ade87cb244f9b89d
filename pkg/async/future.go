// Package async provides a pending-result type and the classifier that tells
// pending-result call shapes apart from blocking ones.
package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// ErrPending is returned by Result and Err while a future has not settled yet.
var ErrPending = errors.New("async: result not available yet")

// SettleHook observes the outcome of a future before it is reported as settled.
// It receives the work's error (nil on success) and returns the error the future
// settles with.
type SettleHook func(err error) error

// PanicError carries a panic recovered from the work of a future or a hook.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("async: panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Future is a result that becomes available later. It settles exactly once;
// registered settle hooks run, in order, before Done is closed.
type Future[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	settling bool
	canceled bool
	hooks    []SettleHook
	value    T
	err      error
	cancel   context.CancelFunc
}

func newFuture[T any](cancel context.CancelFunc) *Future[T] {
	return &Future[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Go runs fn on a new goroutine and returns a future for its result.
// The context passed to fn is canceled by Cancel or once fn returns.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	workCtx, cancel := context.WithCancel(ctx)
	f := newFuture[T](cancel)

	go func() {
		defer cancel()
		value, err := protect(workCtx, fn)
		f.settle(value, err)
	}()

	return f
}

// Resolved returns a future that has already settled with value.
func Resolved[T any](value T) *Future[T] {
	f := newFuture[T](func() {})
	f.settle(value, nil)
	return f
}

// Failed returns a future that has already settled with err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T](func() {})
	var zero T
	f.settle(zero, err)
	return f
}

// Done returns a channel closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsCompleted reports whether the future has settled.
func (f *Future[T]) IsCompleted() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// BeforeSettle registers a hook that runs before the future is reported as settled.
// It returns false when settlement has already started; the hook is then not registered.
func (f *Future[T]) BeforeSettle(hook SettleHook) bool {
	if hook == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settling {
		return false
	}
	f.hooks = append(f.hooks, hook)
	return true
}

// Err returns the settled error, or ErrPending.
func (f *Future[T]) Err() error {
	if !f.IsCompleted() {
		return ErrPending
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Result returns the settled value and error without blocking.
func (f *Future[T]) Result() (T, error) {
	if !f.IsCompleted() {
		var zero T
		return zero, ErrPending
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Await blocks until the future settles or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel asks the work to stop. The future still settles when the work returns,
// and it settles with context.Canceled even if the work reported success.
func (f *Future[T]) Cancel() {
	f.mu.Lock()
	if !f.settling {
		f.canceled = true
	}
	f.mu.Unlock()
	f.cancel()
}

func (f *Future[T]) settle(value T, err error) {
	f.mu.Lock()
	if f.settling {
		f.mu.Unlock()
		return
	}
	f.settling = true
	if f.canceled && err == nil {
		err = context.Canceled
	}
	hooks := f.hooks
	f.hooks = nil
	f.mu.Unlock()

	for _, hook := range hooks {
		err = runHook(hook, err)
	}

	f.mu.Lock()
	if err != nil {
		var zero T
		value = zero
	}
	f.value = value
	f.err = err
	f.mu.Unlock()

	close(f.done)
}

func protect[T any](ctx context.Context, fn func(context.Context) (T, error)) (value T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

func runHook(hook SettleHook, in error) (out error) {
	defer func() {
		if p := recover(); p != nil {
			out = errors.Join(in, &PanicError{Value: p, Stack: debug.Stack()})
		}
	}()
	return hook(in)
}
