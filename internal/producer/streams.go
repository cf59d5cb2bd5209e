package producer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/asyncview/internal/projector"
)

// FromSlice returns a cold stream that delivers values synchronously inside
// Subscribe and then completes. Releasing from within a Next handler stops
// delivery.
func FromSlice[T any](values ...T) projector.Stream[T] {
	return projector.StreamFunc[T](func(o projector.Observer[T]) projector.Subscription {
		var released atomic.Bool
		sub := projector.SubscriptionFunc(func() { released.Store(true) })

		for _, v := range values {
			if released.Load() {
				return sub
			}
			if o.Next != nil {
				o.Next(v)
			}
		}
		if !released.Load() && o.Complete != nil {
			o.Complete()
		}
		return sub
	})
}

// Fail returns a stream that errors immediately on subscription.
func Fail[T any](err error) projector.Stream[T] {
	return projector.StreamFunc[T](func(o projector.Observer[T]) projector.Subscription {
		if o.Error != nil {
			o.Error(err)
		}
		return projector.SubscriptionFunc(nil)
	})
}

// FromChan returns a stream that forwards values received from ch. Each
// subscription runs its own pump goroutine, so several subscribers compete for
// values. The stream completes when ch is closed; releasing stops the pump.
func FromChan[T any](ch <-chan T) projector.Stream[T] {
	return projector.StreamFunc[T](func(o projector.Observer[T]) projector.Subscription {
		stop := make(chan struct{})
		var once sync.Once

		go func() {
			for {
				select {
				case <-stop:
					return
				case v, ok := <-ch:
					if !ok {
						if o.Complete != nil {
							o.Complete()
						}
						return
					}
					select {
					case <-stop:
						return
					default:
					}
					if o.Next != nil {
						o.Next(v)
					}
				}
			}
		}()

		return projector.SubscriptionFunc(func() {
			once.Do(func() { close(stop) })
		})
	})
}

// Interval returns a stream emitting 1, 2, 3, ... every period. A positive
// count completes the stream after that many ticks; zero runs until released.
func Interval(period time.Duration, count int) projector.Stream[int] {
	return projector.StreamFunc[int](func(o projector.Observer[int]) projector.Subscription {
		stop := make(chan struct{})
		var once sync.Once

		go func() {
			ticker := time.NewTicker(period)
			defer ticker.Stop()

			for n := 1; ; n++ {
				select {
				case <-stop:
					return
				case <-ticker.C:
				}

				select {
				case <-stop:
					return
				default:
				}
				if o.Next != nil {
					o.Next(n)
				}
				if count > 0 && n >= count {
					if o.Complete != nil {
						o.Complete()
					}
					return
				}
			}
		}()

		return projector.SubscriptionFunc(func() {
			once.Do(func() { close(stop) })
		})
	})
}

// Map returns a stream applying fn to every value of src.
func Map[T, U any](src projector.Stream[T], fn func(T) U) projector.Stream[U] {
	return projector.StreamFunc[U](func(o projector.Observer[U]) projector.Subscription {
		return src.Subscribe(projector.Observer[T]{
			Next: func(v T) {
				if o.Next != nil {
					o.Next(fn(v))
				}
			},
			Error:    o.Error,
			Complete: o.Complete,
		})
	})
}
