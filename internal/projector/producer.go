package projector

// Observer carries the handlers a Stream delivers to. Any handler may be nil.
type Observer[T any] struct {
	Next     func(T)
	Error    func(error)
	Complete func()
}

// Subscription is a releasable registration with a Stream.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function into a Subscription.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

// Stream is a multi-emission producer. After Error or Complete a well-behaved
// stream delivers nothing further to that observer.
type Stream[T any] interface {
	Subscribe(o Observer[T]) Subscription
}

// StreamFunc adapts a subscribe function into a Stream.
type StreamFunc[T any] func(o Observer[T]) Subscription

// Subscribe calls f.
func (f StreamFunc[T]) Subscribe(o Observer[T]) Subscription {
	return f(o)
}

// Future is a one-shot producer. Exactly one of the continuations runs, at
// most once; there is nothing to release.
type Future[T any] interface {
	Then(onValue func(T), onError func(error))
}

// Kind distinguishes the two producer shapes.
type Kind int

const (
	KindNone Kind = iota
	KindStream
	KindFuture
)

func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindFuture:
		return "future"
	default:
		return "none"
	}
}

// Producer is either a Stream or a Future. Build one with StreamOf or
// FutureOf; the zero Producer is nil.
type Producer[T any] struct {
	stream Stream[T]
	future Future[T]
}

// StreamOf wraps a multi-emission stream.
func StreamOf[T any](s Stream[T]) Producer[T] {
	return Producer[T]{stream: s}
}

// FutureOf wraps a one-shot future.
func FutureOf[T any](f Future[T]) Producer[T] {
	return Producer[T]{future: f}
}

// Kind reports which shape the producer has.
func (p Producer[T]) Kind() Kind {
	switch {
	case p.stream != nil:
		return KindStream
	case p.future != nil:
		return KindFuture
	default:
		return KindNone
	}
}

// IsNil reports whether the producer wraps nothing.
func (p Producer[T]) IsNil() bool {
	return p.Kind() == KindNone
}
