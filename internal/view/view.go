// Package view implements consumption points for projected values.
//
// A View owns a projector, renders its snapshot with a templ component every
// time the projector marks it for render, and publishes the resulting HTML to
// a Sink such as the websocket hub. Failures surfaced by the producer are
// recorded in an error collector and rendered in place of the value.
package view

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/asyncview/internal/errors"
	"github.com/conneroisu/asyncview/internal/logging"
	"github.com/conneroisu/asyncview/internal/projector"
)

// Update is one re-render of a view.
type Update struct {
	View      string
	HTML      string
	State     projector.State
	Err       error
	Seq       uint64
	Timestamp time.Time
}

// Sink receives every re-render. Publish is called with the view's render
// lock held, so it must not call back into the view.
type Sink interface {
	Publish(ctx context.Context, u Update)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(ctx context.Context, u Update)

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, u Update) { f(ctx, u) }

// Renderer turns a snapshot into a component.
type Renderer[T any] func(title string, s projector.Snapshot[T]) templ.Component

// Handle is the type-erased view used by registries and servers.
type Handle interface {
	Name() string
	Title() string
	State() projector.State
	Stats() projector.Stats
	HTML() string
	Render(ctx context.Context) (string, error)
	Detach()
}

// Option configures a View.
type Option func(*options)

type options struct {
	title      string
	sink       Sink
	collector  *errors.ErrorCollector
	logger     logging.Logger
	dispatcher projector.Dispatcher
}

// WithTitle overrides the title derived from the name.
func WithTitle(title string) Option {
	return func(o *options) { o.title = title }
}

// WithSink sets where re-renders are published.
func WithSink(s Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithCollector records surfaced failures.
func WithCollector(c *errors.ErrorCollector) Option {
	return func(o *options) { o.collector = c }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDispatcher sets where producer callbacks are applied.
func WithDispatcher(d projector.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// View binds one producer at a time and keeps its rendered HTML current.
type View[T any] struct {
	name      string
	title     string
	render    Renderer[T]
	sink      Sink
	collector *errors.ErrorCollector
	logger    logging.Logger
	proj      *projector.Projector[T]

	mu       sync.Mutex
	html     string
	rendered bool
	seq      uint64
}

// New creates a detached view. A nil render uses Default with fmt formatting.
func New[T any](name string, render Renderer[T], opts ...Option) *View[T] {
	o := options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if render == nil {
		render = Default[T](nil)
	}
	if o.title == "" {
		o.title = TitleFor(name)
	}

	v := &View[T]{
		name:      name,
		title:     o.title,
		render:    render,
		sink:      o.sink,
		collector: o.collector,
		logger:    o.logger.WithComponent("view").With("view", name),
	}

	popts := []projector.Option{projector.WithName(name), projector.WithLogger(o.logger)}
	if o.dispatcher != nil {
		popts = append(popts, projector.WithDispatcher(o.dispatcher))
	}
	v.proj = projector.New[T](v, popts...)

	return v
}

// TitleFor derives a display title from a view name: "cpu-load" becomes
// "Cpu Load".
func TitleFor(name string) string {
	words := strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(name)
	return cases.Title(language.English).String(strings.Join(strings.Fields(words), " "))
}

// Name returns the view name.
func (v *View[T]) Name() string { return v.name }

// Title returns the display title.
func (v *View[T]) Title() string { return v.title }

// Attach binds producer, replacing whatever was bound before.
func (v *View[T]) Attach(p projector.Producer[T]) error {
	if err := v.proj.Bind(p); err != nil {
		return err
	}
	v.logger.Debug(context.Background(), "attached producer", "kind", p.Kind().String())
	return nil
}

// AttachStream binds a stream.
func (v *View[T]) AttachStream(s projector.Stream[T]) error {
	return v.proj.BindStream(s)
}

// AttachFuture binds a one-shot future.
func (v *View[T]) AttachFuture(f projector.Future[T]) error {
	return v.proj.BindFuture(f)
}

// Detach releases the bound producer. Safe to call repeatedly.
func (v *View[T]) Detach() {
	v.proj.Unbind()
}

// Current returns the projected value.
func (v *View[T]) Current() (T, bool) { return v.proj.Current() }

// State returns the projector state.
func (v *View[T]) State() projector.State { return v.proj.State() }

// Snapshot returns the projection state.
func (v *View[T]) Snapshot() projector.Snapshot[T] { return v.proj.Snapshot() }

// Stats returns the projector's lifetime counters.
func (v *View[T]) Stats() projector.Stats { return v.proj.Stats() }

// MarkForRender implements projector.Consumer.
func (v *View[T]) MarkForRender() {
	v.rerender(context.Background(), nil)
}

// ReportError implements projector.Consumer.
func (v *View[T]) ReportError(err error) {
	v.logger.Warn(context.Background(), err, "producer failure surfaced")
	if v.collector != nil {
		v.collector.Add(v.name, err)
	}
	v.rerender(context.Background(), err)
}

// Render renders the current snapshot without publishing it.
func (v *View[T]) Render(ctx context.Context) (string, error) {
	return v.renderSnapshot(ctx, v.proj.Snapshot())
}

func (v *View[T]) renderSnapshot(ctx context.Context, snap projector.Snapshot[T]) (string, error) {
	var buf bytes.Buffer
	if err := v.render(v.title, snap).Render(ctx, &buf); err != nil {
		return "", errors.RenderError(v.name, err)
	}
	return buf.String(), nil
}

// HTML returns the last published render, rendering once if nothing has
// been published yet.
func (v *View[T]) HTML() string {
	v.mu.Lock()
	html, ok := v.html, v.rendered
	v.mu.Unlock()
	if ok {
		return html
	}

	html, err := v.Render(context.Background())
	if err != nil {
		v.logger.Error(context.Background(), err, "initial render failed")
		return ""
	}
	return html
}

func (v *View[T]) rerender(ctx context.Context, surfaced error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := v.proj.Snapshot()
	html, err := v.renderSnapshot(ctx, snap)
	if err != nil {
		v.logger.Error(ctx, err, "render failed")
		return
	}

	v.seq++
	v.html = html
	v.rendered = true

	if v.sink == nil {
		return
	}
	v.sink.Publish(ctx, Update{
		View:      v.name,
		HTML:      html,
		State:     snap.State,
		Err:       surfaced,
		Seq:       v.seq,
		Timestamp: time.Now(),
	})
}
