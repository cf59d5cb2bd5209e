// Package registry keeps the named views a server projects, in registration
// order, together with the cleanup each view's producer needs on removal.
package registry

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/conneroisu/asyncview/internal/errors"
	"github.com/conneroisu/asyncview/internal/logging"
	"github.com/conneroisu/asyncview/internal/projector"
	"github.com/conneroisu/asyncview/internal/validation"
	"github.com/conneroisu/asyncview/internal/view"
)

// ViewRegistry manages every live view
type ViewRegistry struct {
	entries  map[string]*entry
	order    []string
	mutex    sync.RWMutex
	watchers []chan Event
	logger   logging.Logger
}

type entry struct {
	handle  view.Handle
	source  string
	cleanup []func() error
	added   time.Time
}

// Info describes a registered view
type Info struct {
	Name   string
	Title  string
	Source string
	State  projector.State
	Stats  projector.Stats
	Added  time.Time
}

// Event represents a change in the registry
type Event struct {
	Type      EventType
	View      string
	Timestamp time.Time
}

// EventType represents the type of registry event
type EventType int

const (
	EventTypeAdded EventType = iota
	EventTypeRemoved
)

func (e EventType) String() string {
	switch e {
	case EventTypeAdded:
		return "added"
	case EventTypeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// New creates an empty registry.
func New(logger logging.Logger) *ViewRegistry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ViewRegistry{
		entries:  make(map[string]*entry),
		watchers: make([]chan Event, 0),
		logger:   logger.WithComponent("registry"),
	}
}

// Register adds a view. cleanup runs after the view is detached when it is
// removed, for producers that own resources beyond their subscriptions.
func (r *ViewRegistry) Register(h view.Handle, source string, cleanup ...func() error) error {
	if err := validation.ValidateViewName(h.Name()); err != nil {
		return errors.RegistryError(errors.ErrCodeInvalidConfig, h.Name(), err.Error())
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.entries[h.Name()]; exists {
		return errors.RegistryError(errors.ErrCodeDuplicateView, h.Name(), "view already registered")
	}

	r.entries[h.Name()] = &entry{handle: h, source: source, cleanup: cleanup, added: time.Now()}
	r.order = append(r.order, h.Name())
	r.notifyLocked(EventTypeAdded, h.Name())

	r.logger.Debug(context.Background(), "registered view", "view", h.Name(), "source", source)
	return nil
}

// Get retrieves a view by name
func (r *ViewRegistry) Get(name string) (view.Handle, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return nil, false
	}
	return e.handle, true
}

// List returns all views in registration order
func (r *ViewRegistry) List() []view.Handle {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]view.Handle, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.entries[name].handle)
	}
	return result
}

// Infos describes all views in registration order
func (r *ViewRegistry) Infos() []Info {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		result = append(result, Info{
			Name:   name,
			Title:  e.handle.Title(),
			Source: e.source,
			State:  e.handle.State(),
			Stats:  e.handle.Stats(),
			Added:  e.added,
		})
	}
	return result
}

// Remove detaches and removes a view
func (r *ViewRegistry) Remove(name string) error {
	r.mutex.Lock()
	e, exists := r.entries[name]
	if !exists {
		r.mutex.Unlock()
		return errors.RegistryError(errors.ErrCodeUnknownView, name, "view not registered")
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.notifyLocked(EventTypeRemoved, name)
	r.mutex.Unlock()

	return r.release(e)
}

// DetachAll removes every view, releasing all live subscriptions. Cleanup
// errors are joined; every view is detached regardless.
func (r *ViewRegistry) DetachAll() error {
	r.mutex.Lock()
	entries := make([]*entry, 0, len(r.order))
	for _, name := range r.order {
		entries = append(entries, r.entries[name])
		r.notifyLocked(EventTypeRemoved, name)
	}
	r.entries = make(map[string]*entry)
	r.order = nil
	r.mutex.Unlock()

	var errs []error
	for _, e := range entries {
		if err := r.release(e); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (r *ViewRegistry) release(e *entry) error {
	e.handle.Detach()

	var errs []error
	for _, fn := range e.cleanup {
		if err := fn(); err != nil {
			r.logger.Warn(context.Background(), err, "view cleanup failed", "view", e.handle.Name())
			errs = append(errs, err)
		}
	}
	r.logger.Debug(context.Background(), "detached view", "view", e.handle.Name())
	return stderrors.Join(errs...)
}

// Watch returns a channel that receives registry events
func (r *ViewRegistry) Watch() <-chan Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan Event, 100)
	r.watchers = append(r.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it
func (r *ViewRegistry) UnWatch(ch <-chan Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			break
		}
	}
}

// Count returns the number of registered views
func (r *ViewRegistry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.entries)
}

func (r *ViewRegistry) notifyLocked(t EventType, name string) {
	event := Event{Type: t, View: name, Timestamp: time.Now()}
	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}
