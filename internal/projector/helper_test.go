package projector

import (
	"sync"
)

// eventLog records lifecycle events across fakes in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

// fakeStream is a hand-driven stream that counts subscribe and release calls.
// Releasing twice is counted twice so double releases are visible.
type fakeStream struct {
	name string
	log  *eventLog

	mu         sync.Mutex
	observer   *Observer[int]
	subscribes int
	releases   int

	// onSubscribe runs inside Subscribe, before the handle is returned.
	onSubscribe func(o Observer[int])
}

func newFakeStream(name string, log *eventLog) *fakeStream {
	if log == nil {
		log = &eventLog{}
	}
	return &fakeStream{name: name, log: log}
}

func (s *fakeStream) Subscribe(o Observer[int]) Subscription {
	s.mu.Lock()
	s.subscribes++
	s.observer = &o
	hook := s.onSubscribe
	s.mu.Unlock()

	s.log.add("subscribe " + s.name)
	if hook != nil {
		hook(o)
	}

	return SubscriptionFunc(func() {
		s.mu.Lock()
		s.releases++
		s.observer = nil
		s.mu.Unlock()
		s.log.add("release " + s.name)
	})
}

func (s *fakeStream) current() *Observer[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observer
}

// emit delivers to the current observer, if any.
func (s *fakeStream) emit(v int) {
	if o := s.current(); o != nil && o.Next != nil {
		o.Next(v)
	}
}

func (s *fakeStream) fail(err error) {
	if o := s.current(); o != nil && o.Error != nil {
		o.Error(err)
	}
}

func (s *fakeStream) complete() {
	if o := s.current(); o != nil && o.Complete != nil {
		o.Complete()
	}
}

func (s *fakeStream) counts() (subscribes, releases int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes, s.releases
}

// fakeFuture captures its continuations so tests decide when it settles.
type fakeFuture struct {
	mu      sync.Mutex
	onValue func(int)
	onError func(error)
}

func (f *fakeFuture) Then(onValue func(int), onError func(error)) {
	f.mu.Lock()
	f.onValue, f.onError = onValue, onError
	f.mu.Unlock()
}

func (f *fakeFuture) resolve(v int) {
	f.mu.Lock()
	fn := f.onValue
	f.mu.Unlock()
	fn(v)
}

func (f *fakeFuture) reject(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	fn(err)
}

// recorder is a Consumer that snapshots the projector on every render.
type recorder struct {
	mu     sync.Mutex
	proj   *Projector[int]
	frames []Snapshot[int]
	errs   []error
}

func (r *recorder) MarkForRender() {
	snap := r.proj.Snapshot()
	r.mu.Lock()
	r.frames = append(r.frames, snap)
	r.mu.Unlock()
}

func (r *recorder) ReportError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) snapshots() []Snapshot[int] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot[int], len(r.frames))
	copy(out, r.frames)
	return out
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}

func newRecorded(opts ...Option) (*Projector[int], *recorder) {
	rec := &recorder{}
	p := New[int](rec, opts...)
	rec.proj = p
	return p, rec
}

// queue is a Dispatcher that holds tasks until drained.
type queue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *queue) Dispatch(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
}

func (q *queue) drain() int {
	n := 0
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return n
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		task()
		n++
	}
}
