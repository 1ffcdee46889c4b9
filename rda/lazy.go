package rda

import (
	"context"
	"errors"
	"sync"
)

// Lazy holds a value that is computed on the first call to Get and memoized.
// Concurrent callers block until the computation finishes.  A computation that
// fails because its context ended is not memoized, so a later Get with a live
// context computes again.
type Lazy[T any] struct {
	mu     sync.Mutex
	fn     func(context.Context) (T, error)
	val    T
	err    error
	loaded bool
}

// NewLazy returns a Lazy that computes its value with fn.
func NewLazy[T any](fn func(context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{fn: fn}
}

// Ready returns a Lazy already holding v.
func Ready[T any](v T) *Lazy[T] {
	return &Lazy[T]{val: v, loaded: true}
}

// Get computes the value under ctx if needed and returns it.  Errors other than
// context cancellation or expiry are memoized as well.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.val, l.err
	}
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if l.fn != nil {
		val, err := l.fn(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		l.val, l.err = val, err
	}
	l.fn = nil
	l.loaded = true
	return l.val, l.err
}

// Loaded is true once the value or a lasting error has been computed.
func (l *Lazy[T]) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}
