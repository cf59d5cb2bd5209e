// Package producer contains the concrete producers views bind to: hot and
// cold streams, channel and ticker streams, and one-shot promises.
package producer

import (
	"sync"

	"github.com/conneroisu/asyncview/internal/projector"
)

type subscriber[T any] struct {
	id       uint64
	observer projector.Observer[T]
}

// Subject is a hot multi-emission stream. Values pushed with Next reach every
// current subscriber in subscription order. After Error or Complete the
// subject is terminated: further pushes are ignored and late subscribers
// receive the terminal signal immediately.
//
// Next, Error and Complete are meant to be called from one goroutine at a
// time; subscribing and releasing are safe from any goroutine.
type Subject[T any] struct {
	mu          sync.Mutex
	subscribers []subscriber[T]
	nextID      uint64
	terminated  bool
	failed      bool
	err         error
}

// NewSubject creates an open subject.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{}
}

// Subscribe registers o and returns its handle.
func (s *Subject[T]) Subscribe(o projector.Observer[T]) projector.Subscription {
	s.mu.Lock()
	if s.terminated {
		err, failed := s.err, s.failed
		s.mu.Unlock()
		if failed {
			if o.Error != nil {
				o.Error(err)
			}
		} else if o.Complete != nil {
			o.Complete()
		}
		return projector.SubscriptionFunc(nil)
	}

	s.nextID++
	id := s.nextID
	s.subscribers = append(s.subscribers, subscriber[T]{id: id, observer: o})
	s.mu.Unlock()

	var once sync.Once
	return projector.SubscriptionFunc(func() {
		once.Do(func() { s.remove(id) })
	})
}

func (s *Subject[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subscribers {
		if sub.id == id {
			s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// snapshot copies the subscriber list so handlers run without the lock held.
func (s *Subject[T]) snapshot() []subscriber[T] {
	out := make([]subscriber[T], len(s.subscribers))
	copy(out, s.subscribers)
	return out
}

// Next pushes v to every subscriber.
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	subs := s.snapshot()
	s.mu.Unlock()

	for _, sub := range subs {
		if !s.active(sub.id) {
			continue
		}
		if sub.observer.Next != nil {
			sub.observer.Next(v)
		}
	}
}

// Error terminates the subject with err.
func (s *Subject[T]) Error(err error) {
	s.terminate(err, true)
}

// Complete terminates the subject normally.
func (s *Subject[T]) Complete() {
	s.terminate(nil, false)
}

func (s *Subject[T]) terminate(err error, failed bool) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.failed = failed
	s.err = err
	subs := s.snapshot()
	s.subscribers = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if failed {
			if sub.observer.Error != nil {
				sub.observer.Error(err)
			}
		} else if sub.observer.Complete != nil {
			sub.observer.Complete()
		}
	}
}

// active reports whether the subscriber was not released since the snapshot.
func (s *Subject[T]) active(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscribers {
		if sub.id == id {
			return true
		}
	}
	return false
}

// Subscribers returns the number of live subscriptions.
func (s *Subject[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Terminated reports whether Error or Complete was called.
func (s *Subject[T]) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}
