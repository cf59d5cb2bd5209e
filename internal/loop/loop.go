// Package loop provides single-threaded executors for projector callbacks.
//
// A Loop runs tasks posted from any goroutine one at a time on the goroutine
// that calls Run, in the order they were posted. Posting never blocks: the
// queue is unbounded, so a producer that outruns the loop grows memory rather
// than stalling.
package loop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/conneroisu/asyncview/internal/errors"
	"github.com/conneroisu/asyncview/internal/logging"
)

// Loop is a goroutine-backed serial executor.
type Loop struct {
	logger   logging.Logger
	executed atomic.Uint64

	mu      sync.Mutex
	queue   []func()
	closed  bool
	running bool
	wake    chan struct{}
	done    chan struct{}
}

// New creates a loop. Call Run to start executing tasks.
func New(logger logging.Logger) *Loop {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Loop{
		logger: logger.WithComponent("loop"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Dispatch queues task. Tasks posted after Close are dropped.
func (l *Loop) Dispatch(task func()) {
	if task == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debug(context.Background(), "dropping task posted after close")
		return
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes tasks until ctx is cancelled or Close is called and the queue
// has drained. It returns ctx.Err() on cancellation and nil after Close.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.MisuseError(errors.ErrCodeAlreadyRunning, "loop is already running", nil)
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)

	for {
		for {
			task, ok := l.next()
			if !ok {
				break
			}
			l.run(ctx, task)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		l.mu.Lock()
		finished := l.closed && len(l.queue) == 0
		l.mu.Unlock()
		if finished {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Close stops accepting tasks. Run returns once the queue is empty.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Executed returns the number of tasks run so far, including ones that
// panicked.
func (l *Loop) Executed() uint64 {
	return l.executed.Load()
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

// run executes one task, keeping the loop alive if it panics.
func (l *Loop) run(ctx context.Context, task func()) {
	defer l.executed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error(ctx, fmt.Errorf("panic: %v", r), "task panicked")
		}
	}()
	task()
}
