package view

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/conneroisu/asyncview/internal/projector"
)

// Default renders a snapshot as a section holding a single formatted value.
// A nil format uses fmt.Sprint.
func Default[T any](format func(T) string) Renderer[T] {
	if format == nil {
		format = func(v T) string { return fmt.Sprint(v) }
	}
	return func(title string, s projector.Snapshot[T]) templ.Component {
		return frame(title, s, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, `<p class="value">%s</p>`, templ.EscapeString(format(s.Value)))
			return err
		})
	}
}

// List renders each value as an unordered list of items.
func List[T any](items func(T) []string) Renderer[T] {
	return func(title string, s projector.Snapshot[T]) templ.Component {
		return frame(title, s, func(w io.Writer) error {
			var b strings.Builder
			b.WriteString(`<ul class="value">`)
			for _, item := range items(s.Value) {
				b.WriteString("<li>")
				b.WriteString(templ.EscapeString(item))
				b.WriteString("</li>")
			}
			b.WriteString("</ul>")
			_, err := io.WriteString(w, b.String())
			return err
		})
	}
}

// frame writes the wrapper shared by every renderer. body is only called
// when the snapshot holds a value.
func frame[T any](title string, s projector.Snapshot[T], body func(io.Writer) error) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		state := s.State.String()
		if _, err := fmt.Fprintf(w, `<section class="asyncview" data-state="%s"><h2>%s</h2>`,
			templ.EscapeString(state), templ.EscapeString(title)); err != nil {
			return err
		}

		switch {
		case s.Err != nil:
			if _, err := fmt.Fprintf(w, `<p class="error">%s</p>`, templ.EscapeString(s.Err.Error())); err != nil {
				return err
			}
		case !s.HasValue:
			if _, err := io.WriteString(w, `<p class="pending">Waiting for first value</p>`); err != nil {
				return err
			}
		}

		if s.HasValue {
			if err := body(w); err != nil {
				return err
			}
		}

		_, err := fmt.Fprintf(w, `<footer>%d updates, %s</footer></section>`, s.Emissions, templ.EscapeString(state))
		return err
	})
}
