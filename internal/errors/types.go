// Package errors defines the structured error types used across asyncview:
// failures surfaced by producers, misuse of the projector API, configuration
// problems and transport errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeProducer   ErrorType = "producer"
	ErrorTypeMisuse     ErrorType = "misuse"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error codes.
const (
	ErrCodeProducerFailed  = "PRODUCER_FAILED"
	ErrCodeNilProducer     = "NIL_PRODUCER"
	ErrCodeClosed          = "CLOSED"
	ErrCodeAlreadyRunning  = "ALREADY_RUNNING"
	ErrCodeDuplicateView   = "DUPLICATE_VIEW"
	ErrCodeUnknownView     = "UNKNOWN_VIEW"
	ErrCodeUnknownSource   = "UNKNOWN_SOURCE"
	ErrCodeInvalidConfig   = "INVALID_CONFIG"
	ErrCodeRenderFailed    = "RENDER_FAILED"
	ErrCodeWebSocketFailed = "WEBSOCKET_FAILED"
)

var (
	// ErrNilProducer is returned when Bind is called without a producer.
	ErrNilProducer = errors.New("nil producer")

	// ErrClosed is returned by components that have been shut down.
	ErrClosed = errors.New("closed")
)

// ViewError is a structured error type with context.
type ViewError struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	View    string
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ViewError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.View != "" {
		parts = append(parts, "view:"+e.View)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *ViewError) Unwrap() error {
	return e.Cause
}

// Is matches another ViewError with the same type and code.
func (e *ViewError) Is(target error) bool {
	var t *ViewError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *ViewError) WithContext(key string, value interface{}) *ViewError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithView records which view the error belongs to.
func (e *ViewError) WithView(view string) *ViewError {
	e.View = view

	return e
}

// ProducerError is the failure a projector forwards when its producer rejects
// or its stream signals an error. Kind is "stream" or "future".
type ProducerError struct {
	Kind      string
	Emissions uint64
	Cause     error
}

// NewProducerError wraps cause as a failure of a producer of the given kind.
func NewProducerError(kind string, emissions uint64, cause error) *ProducerError {
	return &ProducerError{Kind: kind, Emissions: emissions, Cause: cause}
}

func (e *ProducerError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s producer failed", e.Kind)
	}
	return fmt.Sprintf("%s producer failed after %d emissions: %v", e.Kind, e.Emissions, e.Cause)
}

func (e *ProducerError) Unwrap() error { return e.Cause }

// IsProducerError reports whether err originated from a producer.
func IsProducerError(err error) bool {
	var pe *ProducerError
	return errors.As(err, &pe)
}
