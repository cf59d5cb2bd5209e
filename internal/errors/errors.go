package errors

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
)

// SurfacedError is a failure forwarded to a consumption point.
type SurfacedError struct {
	View      string
	Err       error
	Timestamp time.Time
}

// Error implements the error interface
func (se *SurfacedError) Error() string {
	return fmt.Sprintf("%s: %v", se.View, se.Err)
}

func (se *SurfacedError) Unwrap() error { return se.Err }

// ErrorCollector collects failures surfaced by views so they can be shown in
// an overlay and queried per view.
type ErrorCollector struct {
	errors []SurfacedError
	limit  int
	mutex  sync.RWMutex
}

// NewErrorCollector creates a collector that keeps at most limit entries.
// A non-positive limit keeps everything.
func NewErrorCollector(limit int) *ErrorCollector {
	return &ErrorCollector{
		errors: make([]SurfacedError, 0),
		limit:  limit,
	}
}

// Add records an error for view.
func (ec *ErrorCollector) Add(view string, err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, SurfacedError{View: view, Err: err, Timestamp: time.Now()})
	if ec.limit > 0 && len(ec.errors) > ec.limit {
		ec.errors = ec.errors[len(ec.errors)-ec.limit:]
	}
}

// GetErrors returns all collected errors, oldest first
func (ec *ErrorCollector) GetErrors() []SurfacedError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]SurfacedError, len(ec.errors))
	copy(result, ec.errors)
	return result
}

// GetErrorsByView returns errors for a specific view
func (ec *ErrorCollector) GetErrorsByView(view string) []SurfacedError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var viewErrors []SurfacedError
	for _, err := range ec.errors {
		if err.View == view {
			viewErrors = append(viewErrors, err)
		}
	}
	return viewErrors
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.errors) > 0
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = ec.errors[:0]
}

// ErrorOverlay generates HTML for the error overlay. It returns an empty
// string when nothing has been collected.
func (ec *ErrorCollector) ErrorOverlay() string {
	errs := ec.GetErrors()
	if len(errs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<div id="asyncview-error-overlay" style="
	position: fixed;
	bottom: 0;
	left: 0;
	width: 100%;
	max-height: 40%;
	background: rgba(0, 0, 0, 0.85);
	color: white;
	font-family: 'Monaco', 'Menlo', monospace;
	font-size: 13px;
	z-index: 9999;
	padding: 16px;
	box-sizing: border-box;
	overflow: auto;
">
	<h2 style="margin: 0 0 12px 0; color: #ff6b6b;">Producer Errors</h2>`)

	for _, err := range errs {
		fmt.Fprintf(&b, `
	<div style="background: #2d3748; padding: 10px; margin-bottom: 10px; border-left: 4px solid #ff6b6b;">
		<span style="color: #ff6b6b; font-weight: bold;">%s</span>
		<span style="color: #a0aec0; font-size: 12px;">%s</span>
		<div style="color: #e2e8f0;">%s</div>
	</div>`,
			templ.EscapeString(err.View),
			err.Timestamp.Format("15:04:05"),
			templ.EscapeString(err.Err.Error()),
		)
	}

	b.WriteString(`
</div>`)

	return b.String()
}
