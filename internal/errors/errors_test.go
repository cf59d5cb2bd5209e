package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewErrorFormatting(t *testing.T) {
	cause := errors.New("connection reset")
	err := ViewFailure("clock", "stream failed", cause)

	assert.Equal(t, "[PRODUCER_FAILED] view:clock stream failed: connection reset", err.Error())
	assert.Same(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestViewErrorIsMatchesTypeAndCode(t *testing.T) {
	err := RegistryError(ErrCodeUnknownView, "clock", "not registered")

	assert.True(t, errors.Is(err, &ViewError{Type: ErrorTypeValidation, Code: ErrCodeUnknownView}))
	assert.False(t, errors.Is(err, &ViewError{Type: ErrorTypeValidation, Code: ErrCodeDuplicateView}))
}

func TestProducerError(t *testing.T) {
	cause := errors.New("upstream closed")
	err := NewProducerError("stream", 3, cause)

	assert.Contains(t, err.Error(), "stream producer failed after 3 emissions")
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsProducerError(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsProducerError(cause))
}

func TestErrorChainHelpers(t *testing.T) {
	root := errors.New("root")
	mid := ViewFailure("feed", "failed", root)
	top := fmt.Errorf("outer: %w", mid)

	chain := GetErrorChain(top)
	require.Len(t, chain, 3)
	assert.Same(t, root, GetRootCause(top))
	assert.True(t, HasErrorCode(top, ErrCodeProducerFailed))
	assert.True(t, HasErrorType(top, ErrorTypeProducer))
	assert.False(t, HasErrorType(top, ErrorTypeConfig))
	assert.Nil(t, GetRootCause(nil))
}

func TestConfigurationErrorContext(t *testing.T) {
	err := ConfigurationError("server.port", "port out of range", 70000)

	assert.Equal(t, "server.port", err.Context["setting"])
	assert.Equal(t, 70000, err.Context["value"])
	assert.True(t, HasErrorType(err, ErrorTypeConfig))
}

func TestErrorCollector(t *testing.T) {
	ec := NewErrorCollector(2)
	assert.False(t, ec.HasErrors())
	assert.Empty(t, ec.ErrorOverlay())

	ec.Add("a", errors.New("first"))
	ec.Add("b", errors.New("second"))
	ec.Add("a", errors.New("<third>"))
	ec.Add("ignored", nil)

	all := ec.GetErrors()
	require.Len(t, all, 2)
	assert.Equal(t, "second", all[0].Err.Error())
	assert.Len(t, ec.GetErrorsByView("a"), 1)

	overlay := ec.ErrorOverlay()
	assert.Contains(t, overlay, "asyncview-error-overlay")
	assert.Contains(t, overlay, "&lt;third&gt;")
	assert.NotContains(t, overlay, "<third>")

	ec.Clear()
	assert.False(t, ec.HasErrors())
}
