// Package projector binds producers of future or streamed values to a
// consumption point.
//
// A Projector owns at most one live subscription. Bind releases the previous
// subscription before registering with the new producer, Unbind releases it
// and is idempotent, and every callback from a producer that is no longer
// bound is dropped. The projector never blocks and never starts goroutines:
// producer callbacks are applied through a Dispatcher, one at a time, in the
// order the producer delivered them.
//
// State machine:
//
//	Unbound --Bind--> Subscribed --emission--> Subscribed (value updated)
//	Subscribed --complete/resolve--> Completed (last value retained)
//	Subscribed --error--> Failed (error surfaced, last value retained)
//	any --Unbind--> Unbound
package projector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/conneroisu/asyncview/internal/errors"
	"github.com/conneroisu/asyncview/internal/logging"
)

// State is the lifecycle position of a Projector.
type State int

const (
	StateUnbound State = iota
	StateSubscribed
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateSubscribed:
		return "subscribed"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further emissions are expected.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Snapshot is a consistent copy of the projection state.
type Snapshot[T any] struct {
	State     State
	Kind      Kind
	Value     T
	HasValue  bool
	Err       error
	Emissions uint64
}

// Pending reports whether a producer is bound but nothing has arrived yet.
func (s Snapshot[T]) Pending() bool {
	return s.State == StateSubscribed && !s.HasValue
}

// Stats counts lifecycle events over the projector's lifetime.
type Stats struct {
	Binds     uint64
	Releases  uint64
	Emissions uint64
	Dropped   uint64
}

// Option configures a Projector.
type Option func(*options)

type options struct {
	name       string
	dispatcher Dispatcher
	logger     logging.Logger
}

// WithDispatcher sets where producer callbacks run. Defaults to Inline.
func WithDispatcher(d Dispatcher) Option {
	return func(o *options) {
		if d != nil {
			o.dispatcher = d
		}
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithName labels log output with the owning view's name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Projector holds the latest value of one bound producer.
type Projector[T any] struct {
	name       string
	consumer   Consumer
	dispatcher Dispatcher
	logger     logging.Logger

	mu        sync.Mutex
	gen       uint64
	kind      Kind
	state     State
	sub       Subscription
	value     T
	hasValue  bool
	err       error
	emissions uint64

	binds    atomic.Uint64
	releases atomic.Uint64
	total    atomic.Uint64
	dropped  atomic.Uint64
}

// New creates an unbound projector reporting to consumer. A nil consumer is
// allowed; the state can still be polled.
func New[T any](consumer Consumer, opts ...Option) *Projector[T] {
	o := options{dispatcher: Inline, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if consumer == nil {
		consumer = ConsumerFuncs{}
	}

	return &Projector[T]{
		name:       o.name,
		consumer:   consumer,
		dispatcher: o.dispatcher,
		logger:     o.logger.WithComponent("projector").With("view", o.name),
	}
}

// Bind registers with producer, releasing any previous subscription first.
// It returns immediately; values arrive through the dispatcher.
func (p *Projector[T]) Bind(producer Producer[T]) error {
	if producer.IsNil() {
		return errors.MisuseError(errors.ErrCodeNilProducer, "bind requires a producer", errors.ErrNilProducer)
	}

	p.mu.Lock()
	wasBound := p.state != StateUnbound
	prev := p.resetLocked()
	gen := p.gen
	p.kind = producer.Kind()
	p.state = StateSubscribed
	p.mu.Unlock()

	p.binds.Add(1)
	if wasBound {
		p.logger.Debug(context.Background(), "rebinding projector", "kind", producer.Kind().String())
	}
	p.release(prev)

	p.consumer.MarkForRender()

	switch producer.Kind() {
	case KindStream:
		p.subscribe(gen, producer.stream)
	case KindFuture:
		p.await(gen, producer.future)
	}
	return nil
}

// BindStream is shorthand for Bind(StreamOf(s)).
func (p *Projector[T]) BindStream(s Stream[T]) error {
	if s == nil {
		return p.Bind(Producer[T]{})
	}
	return p.Bind(StreamOf(s))
}

// BindFuture is shorthand for Bind(FutureOf(f)).
func (p *Projector[T]) BindFuture(f Future[T]) error {
	if f == nil {
		return p.Bind(Producer[T]{})
	}
	return p.Bind(FutureOf(f))
}

// Unbind releases the active subscription and forgets the projected value.
// Calling it on an unbound projector does nothing.
func (p *Projector[T]) Unbind() {
	p.mu.Lock()
	if p.state == StateUnbound {
		p.mu.Unlock()
		return
	}
	sub := p.resetLocked()
	p.mu.Unlock()

	p.release(sub)
}

// Close unbinds. It lets a projector be released with defer.
func (p *Projector[T]) Close() error {
	p.Unbind()
	return nil
}

// Current returns the last value, or false if none has arrived.
func (p *Projector[T]) Current() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.hasValue
}

// State returns the lifecycle state.
func (p *Projector[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the failure of the bound producer, if any.
func (p *Projector[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Snapshot returns the full projection state.
func (p *Projector[T]) Snapshot() Snapshot[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot[T]{
		State:     p.state,
		Kind:      p.kind,
		Value:     p.value,
		HasValue:  p.hasValue,
		Err:       p.err,
		Emissions: p.emissions,
	}
}

// Stats returns lifetime counters.
func (p *Projector[T]) Stats() Stats {
	return Stats{
		Binds:     p.binds.Load(),
		Releases:  p.releases.Load(),
		Emissions: p.total.Load(),
		Dropped:   p.dropped.Load(),
	}
}

// resetLocked starts a new generation and hands back the handle to release.
func (p *Projector[T]) resetLocked() Subscription {
	var zero T

	p.gen++
	sub := p.sub
	p.sub = nil
	p.kind = KindNone
	p.state = StateUnbound
	p.value = zero
	p.hasValue = false
	p.err = nil
	p.emissions = 0

	return sub
}

func (p *Projector[T]) release(sub Subscription) {
	if sub == nil {
		return
	}
	sub.Unsubscribe()
	p.releases.Add(1)
}

func (p *Projector[T]) subscribe(gen uint64, s Stream[T]) {
	sub := s.Subscribe(Observer[T]{
		Next: func(v T) {
			p.dispatcher.Dispatch(func() { p.onNext(gen, v) })
		},
		Error: func(err error) {
			p.dispatcher.Dispatch(func() { p.onError(gen, err) })
		},
		Complete: func() {
			p.dispatcher.Dispatch(func() { p.onComplete(gen) })
		},
	})

	p.mu.Lock()
	if p.gen != gen || p.state != StateSubscribed {
		// Unbound, rebound, or terminated while Subscribe was running:
		// the handle was never stored, so it is released here.
		p.mu.Unlock()
		p.release(sub)
		return
	}
	p.sub = sub
	p.mu.Unlock()
}

func (p *Projector[T]) await(gen uint64, f Future[T]) {
	f.Then(
		func(v T) {
			p.dispatcher.Dispatch(func() { p.onResolve(gen, v) })
		},
		func(err error) {
			p.dispatcher.Dispatch(func() { p.onError(gen, err) })
		},
	)
}

// liveLocked reports whether gen is still the bound, non-terminal generation.
func (p *Projector[T]) liveLocked(gen uint64) bool {
	return p.gen == gen && p.state == StateSubscribed
}

func (p *Projector[T]) drop(reason string) {
	p.dropped.Add(1)
	p.logger.Debug(context.Background(), "dropping callback from released producer", "reason", reason)
}

func (p *Projector[T]) onNext(gen uint64, v T) {
	p.mu.Lock()
	if !p.liveLocked(gen) {
		p.mu.Unlock()
		p.drop("next")
		return
	}
	p.value = v
	p.hasValue = true
	p.emissions++
	p.mu.Unlock()

	p.total.Add(1)
	p.consumer.MarkForRender()
}

func (p *Projector[T]) onResolve(gen uint64, v T) {
	p.mu.Lock()
	if !p.liveLocked(gen) {
		p.mu.Unlock()
		p.drop("resolve")
		return
	}
	p.value = v
	p.hasValue = true
	p.emissions++
	p.state = StateCompleted
	p.mu.Unlock()

	p.total.Add(1)
	p.consumer.MarkForRender()
}

func (p *Projector[T]) onError(gen uint64, cause error) {
	p.mu.Lock()
	if !p.liveLocked(gen) {
		p.mu.Unlock()
		p.drop("error")
		return
	}
	err := errors.NewProducerError(p.kind.String(), p.emissions, cause)
	p.state = StateFailed
	p.err = err
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()

	p.release(sub)
	p.logger.Warn(context.Background(), cause, "producer failed")
	p.consumer.ReportError(err)
}

func (p *Projector[T]) onComplete(gen uint64) {
	p.mu.Lock()
	if !p.liveLocked(gen) {
		p.mu.Unlock()
		p.drop("complete")
		return
	}
	p.state = StateCompleted
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()

	p.release(sub)
	p.consumer.MarkForRender()
}
