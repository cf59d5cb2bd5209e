// Package renderer wraps rendered views in full HTML pages.
//
// Every view is placed in a container whose id is derived from the view
// name. The page opens a websocket to /ws and replaces a container's
// contents whenever a render or error message for that view arrives, so the
// browser always shows the latest projected value. A removed message drops
// the container.
package renderer

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/conneroisu/asyncview/internal/view"
)

// ContainerID returns the DOM id holding a view's HTML.
func ContainerID(name string) string {
	return "view-" + name
}

// Container renders a view's current HTML inside its container.
func Container(h view.Handle) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<div id="%s" class="asyncview-container" data-view="%s">%s</div>`,
			templ.EscapeString(ContainerID(h.Name())), templ.EscapeString(h.Name()), h.HTML())
		return err
	})
}

// Index renders every view, in order, on one page.
func Index(title string, views []view.Handle, overlay string) templ.Component {
	return Layout(title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if len(views) == 0 {
			_, err := io.WriteString(w, `<p class="empty">No views registered.</p>`)
			return err
		}
		for _, h := range views {
			if err := Container(h).Render(ctx, w); err != nil {
				return err
			}
		}
		return nil
	}), overlay)
}

// Single renders one view on its own page.
func Single(h view.Handle, overlay string) templ.Component {
	return Layout(h.Title(), Container(h), overlay)
}

// Layout wraps body in the page shell with the live update script.
func Layout(title string, body templ.Component, overlay string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, pageHead, templ.EscapeString(title), templ.EscapeString(title)); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `</main>`); err != nil {
			return err
		}
		if _, err := io.WriteString(w, overlay); err != nil {
			return err
		}
		_, err := io.WriteString(w, pageTail)
		return err
	})
}

const pageHead = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>%s - asyncview</title>
    <style>
        body { font-family: system-ui, sans-serif; background: #f8f9fa; margin: 0; padding: 2rem; }
        main { max-width: 56rem; margin: 0 auto; display: grid; gap: 1rem; }
        .asyncview { background: white; border-radius: 8px; box-shadow: 0 1px 3px rgba(0,0,0,.1); padding: 1rem 1.5rem; }
        .asyncview h2 { margin: 0 0 .5rem 0; font-size: 1.1rem; }
        .asyncview .pending { color: #6c757d; font-style: italic; }
        .asyncview .error { color: #c92a2a; }
        .asyncview footer { color: #868e96; font-size: .8rem; margin-top: .5rem; }
        .asyncview[data-state="completed"] { border-left: 4px solid #2b8a3e; }
        .asyncview[data-state="failed"] { border-left: 4px solid #c92a2a; }
    </style>
</head>
<body>
    <h1>%s</h1>
    <main>`

const pageTail = `
    <script>
        (function () {
            const scheme = window.location.protocol === 'https:' ? 'wss://' : 'ws://';
            const ws = new WebSocket(scheme + window.location.host + '/ws');
            const seen = {};
            ws.onmessage = function (event) {
                const message = JSON.parse(event.data);
                if (message.type === 'removed') {
                    const gone = document.getElementById('view-' + message.target);
                    if (gone) {
                        gone.remove();
                    }
                    return;
                }
                if (message.type !== 'render' && message.type !== 'error') {
                    return;
                }
                if (seen[message.target] && message.sequence <= seen[message.target]) {
                    return;
                }
                seen[message.target] = message.sequence;
                const el = document.getElementById('view-' + message.target);
                if (el) {
                    el.innerHTML = message.content;
                }
                if (message.type === 'error') {
                    console.warn('view ' + message.target + ' failed: ' + message.error);
                }
            };
        })();
    </script>
</body>
</html>`
