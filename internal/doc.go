// Package internal contains the implementation packages of asyncview.
//
// # Package Organization
//
//   - projector: binds one producer at a time and projects its latest value
//   - producer: streams (Subject, FromSlice, FromChan, Interval, Map) and
//     one-shot promises
//   - loop: single-goroutine dispatcher for producer callbacks
//   - watcher: file change batches exposed as a stream
//   - view: consumption points that render projected state through templ
//   - registry: named views built from configuration
//   - renderer: page layouts wrapping view containers
//   - websocket: hub that pushes re-renders to browsers
//   - server: HTTP routes tying registry, renderer and hub together
//   - config, logging, errors, validation, version: ambient support
//
// # Data Flow
//
//	producer -> loop -> projector -> view (MarkForRender / ReportError)
//	         -> view.Sink (websocket hub or console) -> browser / terminal
//
// A view re-renders on every emission, on completion and on failure. Only
// the most recent binding of a projector can reach its view; callbacks from
// released producers are dropped.
package internal
