package producer

import (
	"context"
	"fmt"
	"sync"
)

type continuation[T any] struct {
	onValue func(T)
	onError func(error)
}

// Promise is a one-shot future settled by Resolve or Reject. Continuations
// attached after settlement run immediately on the caller's goroutine;
// continuations attached before run on the goroutine that settles.
type Promise[T any] struct {
	mu      sync.Mutex
	settled bool
	value   T
	err     error
	waiting []continuation[T]
	done    chan struct{}
}

// NewPromise creates an unsettled promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolved returns a promise already settled with v.
func Resolved[T any](v T) *Promise[T] {
	p := NewPromise[T]()
	p.Resolve(v)
	return p
}

// Rejected returns a promise already settled with err.
func Rejected[T any](err error) *Promise[T] {
	p := NewPromise[T]()
	p.Reject(err)
	return p
}

// Then attaches continuations. Exactly one runs, once.
func (p *Promise[T]) Then(onValue func(T), onError func(error)) {
	p.mu.Lock()
	if !p.settled {
		p.waiting = append(p.waiting, continuation[T]{onValue: onValue, onError: onError})
		p.mu.Unlock()
		return
	}
	value, err := p.value, p.err
	p.mu.Unlock()

	fire(continuation[T]{onValue: onValue, onError: onError}, value, err)
}

// Resolve settles the promise with v. It reports false if already settled.
func (p *Promise[T]) Resolve(v T) bool {
	return p.settle(v, nil)
}

// Reject settles the promise with err. It reports false if already settled.
func (p *Promise[T]) Reject(err error) bool {
	if err == nil {
		err = fmt.Errorf("promise rejected without a cause")
	}
	var zero T
	return p.settle(zero, err)
}

func (p *Promise[T]) settle(v T, err error) bool {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return false
	}
	p.settled = true
	p.value = v
	p.err = err
	waiting := p.waiting
	p.waiting = nil
	close(p.done)
	p.mu.Unlock()

	for _, c := range waiting {
		fire(c, v, err)
	}
	return true
}

func fire[T any](c continuation[T], v T, err error) {
	if err != nil {
		if c.onError != nil {
			c.onError(err)
		}
		return
	}
	if c.onValue != nil {
		c.onValue(v)
	}
}

// Settled reports whether the promise has a result.
func (p *Promise[T]) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled
}

// Done is closed once the promise settles.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the promise settles or ctx ends.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Go runs fn on a new goroutine and settles the returned promise with its
// result. A panic in fn rejects the promise.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Promise[T] {
	p := NewPromise[T]()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.Reject(fmt.Errorf("producer panicked: %v", r))
			}
		}()
		v, err := fn(ctx)
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(v)
	}()
	return p
}
