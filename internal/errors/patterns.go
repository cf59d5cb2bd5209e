package errors

import (
	"errors"
)

// Standard constructors. Each sets the type and code so callers can match with
// HasErrorCode or errors.Is against a template ViewError.

// ViewFailure wraps a failure surfaced by a view's producer.
func ViewFailure(view, message string, cause error) *ViewError {
	return &ViewError{
		Type:    ErrorTypeProducer,
		Code:    ErrCodeProducerFailed,
		Message: message,
		Cause:   cause,
		View:    view,
	}
}

// RenderError reports a view whose template failed to render.
func RenderError(view string, cause error) *ViewError {
	return &ViewError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeRenderFailed,
		Message: "render failed",
		Cause:   cause,
		View:    view,
	}
}

// MisuseError reports an API contract violation.
func MisuseError(code, message string, cause error) *ViewError {
	return &ViewError{
		Type:    ErrorTypeMisuse,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// RegistryError reports a lookup or registration problem for a named view.
func RegistryError(code, view, message string) *ViewError {
	return &ViewError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		View:    view,
	}
}

// ConfigurationError reports an invalid setting.
func ConfigurationError(setting, message string, value interface{}) *ViewError {
	return (&ViewError{
		Type:    ErrorTypeConfig,
		Code:    ErrCodeInvalidConfig,
		Message: message,
	}).WithContext("setting", setting).WithContext("value", value)
}

// WebSocketError reports a transport failure for one client.
func WebSocketError(operation, clientID, message string, cause error) *ViewError {
	return (&ViewError{
		Type:    ErrorTypeNetwork,
		Code:    ErrCodeWebSocketFailed,
		Message: message,
		Cause:   cause,
	}).WithContext("operation", operation).WithContext("client_id", clientID)
}

// GetErrorChain returns all errors in the chain from outermost to innermost
func GetErrorChain(err error) []error {
	var chain []error
	for err != nil {
		chain = append(chain, err)
		err = errors.Unwrap(err)
	}
	return chain
}

// GetRootCause returns the deepest underlying error in the chain
func GetRootCause(err error) error {
	chain := GetErrorChain(err)
	if len(chain) == 0 {
		return nil
	}
	return chain[len(chain)-1]
}

// HasErrorCode checks if any error in the chain has the specified code
func HasErrorCode(err error, code string) bool {
	for _, e := range GetErrorChain(err) {
		if ve, ok := e.(*ViewError); ok && ve.Code == code {
			return true
		}
	}
	return false
}

// HasErrorType checks if any error in the chain has the specified type
func HasErrorType(err error, errType ErrorType) bool {
	for _, e := range GetErrorChain(err) {
		if ve, ok := e.(*ViewError); ok && ve.Type == errType {
			return true
		}
	}
	return false
}
