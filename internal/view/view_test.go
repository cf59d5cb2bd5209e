package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	avErrors "github.com/conneroisu/asyncview/internal/errors"
	"github.com/conneroisu/asyncview/internal/projector"
)

type memorySink struct {
	mu      sync.Mutex
	updates []Update
}

func (m *memorySink) Publish(_ context.Context, u Update) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
}

func (m *memorySink) texts(t *testing.T) []string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.updates))
	for _, u := range m.updates {
		text, err := Text(u.HTML)
		require.NoError(t, err)
		out = append(out, text)
	}
	return out
}

// manualStream lets a test drive emissions by hand.
type manualStream struct {
	obs      projector.Observer[int]
	released int
}

func (s *manualStream) Subscribe(o projector.Observer[int]) projector.Subscription {
	s.obs = o
	return projector.SubscriptionFunc(func() { s.released++ })
}

func TestTitleFor(t *testing.T) {
	testCases := []struct {
		name     string
		expected string
	}{
		{"cpu-load", "Cpu Load"},
		{"build_status", "Build Status"},
		{"ticker", "Ticker"},
		{"  spaced--name ", "Spaced Name"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, TitleFor(tc.name))
		})
	}
}

func TestViewStreamLifecycle(t *testing.T) {
	sink := &memorySink{}
	v := New[int]("counter", nil, WithSink(sink))
	assert.Equal(t, "Counter", v.Title())

	s := &manualStream{}
	require.NoError(t, v.AttachStream(s))
	s.obs.Next(1)
	s.obs.Next(2)
	s.obs.Next(3)
	s.obs.Complete()

	texts := sink.texts(t)
	require.Len(t, texts, 5)
	assert.Contains(t, texts[0], "Waiting for first value")
	assert.Contains(t, texts[1], "1")
	assert.Contains(t, texts[2], "2")
	assert.Contains(t, texts[3], "3")
	assert.Contains(t, texts[4], "3")
	assert.Contains(t, texts[4], "completed")
	assert.Equal(t, 1, s.released)

	for i, u := range sink.updates {
		assert.Equal(t, uint64(i+1), u.Seq)
		assert.Equal(t, "counter", u.View)
	}

	current, ok := v.Current()
	assert.True(t, ok)
	assert.Equal(t, 3, current)
	assert.Equal(t, sink.updates[4].HTML, v.HTML())
}

func TestViewReportsFailure(t *testing.T) {
	sink := &memorySink{}
	collector := avErrors.NewErrorCollector(10)
	v := New[int]("feed", nil, WithSink(sink), WithCollector(collector))

	s := &manualStream{}
	require.NoError(t, v.AttachStream(s))
	s.obs.Next(4)
	s.obs.Error(errors.New("upstream closed"))

	assert.Equal(t, projector.StateFailed, v.State())
	require.Len(t, collector.GetErrorsByView("feed"), 1)
	assert.True(t, avErrors.IsProducerError(collector.GetErrors()[0].Err))

	last := sink.updates[len(sink.updates)-1]
	require.Error(t, last.Err)
	assert.Equal(t, projector.StateFailed, last.State)
	assert.Contains(t, last.HTML, "upstream closed")
	assert.Equal(t, 1, s.released)
}

func TestViewRebindReleasesPrevious(t *testing.T) {
	v := New[int]("swap", nil)

	first := &manualStream{}
	second := &manualStream{}
	require.NoError(t, v.AttachStream(first))
	first.obs.Next(1)

	require.NoError(t, v.AttachStream(second))
	assert.Equal(t, 1, first.released)

	first.obs.Next(99)
	_, ok := v.Current()
	assert.False(t, ok, "emissions from a released stream are ignored")

	second.obs.Next(2)
	current, _ := v.Current()
	assert.Equal(t, 2, current)

	v.Detach()
	v.Detach()
	assert.Equal(t, 1, second.released)
	assert.Equal(t, projector.StateUnbound, v.State())
}

func TestViewAttachNil(t *testing.T) {
	v := New[int]("nil", nil)
	err := v.Attach(projector.Producer[int]{})
	require.Error(t, err)
	assert.ErrorIs(t, err, avErrors.ErrNilProducer)
}

func TestViewHTMLBeforeAnyRender(t *testing.T) {
	v := New[string]("idle", nil, WithTitle("Idle View"))
	text, err := Text(v.HTML())
	require.NoError(t, err)
	assert.Contains(t, text, "Idle View")
	assert.Contains(t, text, "unbound")
}

func TestViewEscapesValues(t *testing.T) {
	v := New[string]("raw", nil)
	s := projector.StreamFunc[string](func(o projector.Observer[string]) projector.Subscription {
		o.Next("<script>alert(1)</script>")
		return projector.SubscriptionFunc(func() {})
	})
	require.NoError(t, v.AttachStream(s))

	html := v.HTML()
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestViewRenderFailure(t *testing.T) {
	sink := &memorySink{}
	broken := func(string, projector.Snapshot[int]) templ.Component {
		return templ.ComponentFunc(func(context.Context, io.Writer) error {
			return errors.New("template broke")
		})
	}
	v := New[int]("broken", broken, WithSink(sink))

	_, err := v.Render(context.Background())
	require.Error(t, err)
	assert.True(t, avErrors.HasErrorCode(err, avErrors.ErrCodeRenderFailed))

	require.NoError(t, v.Attach(projector.FutureOf[int](resolved(1))))
	assert.Empty(t, sink.updates, "failed renders are not published")
}

func TestViewUpdateStateMatchesRenderedHTML(t *testing.T) {
	sink := &memorySink{}
	stream := &manualStream{}

	var v *View[int]
	var once sync.Once
	settled := make(chan struct{})
	render := func(title string, snap projector.Snapshot[int]) templ.Component {
		if snap.HasValue {
			once.Do(func() {
				// Complete the stream while this render is in flight.
				go func() {
					stream.obs.Complete()
					close(settled)
				}()
				require.Eventually(t, func() bool {
					return v.State() == projector.StateCompleted
				}, time.Second, time.Millisecond)
			})
		}
		return Default[int](nil)(title, snap)
	}
	v = New[int]("racy", render, WithSink(sink))

	require.NoError(t, v.AttachStream(stream))
	stream.obs.Next(1)
	<-settled

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.updates, 3)
	for _, u := range sink.updates {
		assert.Contains(t, u.HTML, fmt.Sprintf(`data-state="%s"`, u.State), "update %d", u.Seq)
	}
	assert.Equal(t, projector.StateSubscribed, sink.updates[1].State)
	assert.Equal(t, projector.StateCompleted, sink.updates[2].State)
}

func TestListRenderer(t *testing.T) {
	render := List(func(v []int) []string {
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = fmt.Sprintf("item %d", n)
		}
		return out
	})

	v := New[[]int]("items", render)
	require.NoError(t, v.AttachFuture(resolved([]int{1, 2})))

	text, err := Text(v.HTML())
	require.NoError(t, err)
	assert.Equal(t, "Items\nitem 1\nitem 2\n1 updates, completed", text)
}

func TestText(t *testing.T) {
	text, err := Text(`<div><h1> Hi </h1><script>var x = 1;</script><style>p{}</style><p>there</p></div>`)
	require.NoError(t, err)
	assert.Equal(t, "Hi\nthere", text)

	empty, err := Text("")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(empty))
}

type resolvedFuture[T any] struct{ v T }

func (f resolvedFuture[T]) Then(onValue func(T), _ func(error)) { onValue(f.v) }

func resolved[T any](v T) projector.Future[T] { return resolvedFuture[T]{v: v} }
