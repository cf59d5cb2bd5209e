package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/conneroisu/asyncview/internal/view"
)

// consoleSink prints every re-render as one line of plain text and lets
// callers wait for a view to settle.
type consoleSink struct {
	mu      sync.Mutex
	out     io.Writer
	settled map[string]chan struct{}
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out, settled: make(map[string]chan struct{})}
}

// Publish implements view.Sink.
func (c *consoleSink) Publish(_ context.Context, u view.Update) {
	text, err := view.Text(u.HTML)
	if err != nil {
		text = u.HTML
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "%s #%d: %s\n", u.View, u.Seq, strings.ReplaceAll(text, "\n", " | "))
	if u.State.Terminal() {
		ch := c.channelLocked(u.View)
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

// wait blocks until the named view completes or fails.
func (c *consoleSink) wait(ctx context.Context, name string) error {
	c.mu.Lock()
	ch := c.channelLocked(name)
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *consoleSink) channelLocked(name string) chan struct{} {
	ch, ok := c.settled[name]
	if !ok {
		ch = make(chan struct{})
		c.settled[name] = ch
	}
	return ch
}
