package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_TypeAndStatus(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name   string
		err    *Error
		typ    ErrorType
		status int
	}{
		{"validation", ValidationError("invalid status"), TypeValidation, http.StatusBadRequest},
		{"not found", NotFoundError("simulation not found"), TypeNotFound, http.StatusNotFound},
		{"conflict", ConflictError("machine busy"), TypeConflict, http.StatusConflict},
		{"unavailable", UnavailableError("poller limit reached", cause), TypeUnavailable, http.StatusServiceUnavailable},
		{"internal", InternalError("failed to list simulations", cause), TypeInternal, http.StatusInternalServerError},
		{"external", ExternalError("database unavailable", cause), TypeExternal, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
			assert.NotNil(t, tt.err.Context)
			assert.Contains(t, tt.err.Error(), string(tt.typ))
		})
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := InternalError("failed to save simulation", fmt.Errorf("disk full"))

	assert.Equal(t, "internal: failed to save simulation: disk full", err.Error())
	assert.NotContains(t, InternalError("boom", nil).Error(), "<nil>")
}

func TestError_UnwrapSupportsErrorsIs(t *testing.T) {
	sentinel := errors.New("not found")
	err := NotFoundError("simulation not found").WithCause(sentinel)

	assert.ErrorIs(t, err, sentinel)
	assert.ErrorIs(t, fmt.Errorf("handler: %w", err), sentinel)
}

func TestWithField_Chainable(t *testing.T) {
	err := ValidationError("invalid status").
		WithField("status", "done").
		WithField("allowed", []string{"pending", "running", "finished"})

	assert.Equal(t, "done", err.Context["status"])
	assert.Len(t, err.Context, 2)

	nilCtx := &Error{Type: TypeValidation}
	nilCtx.WithField("k", 1)
	assert.Equal(t, 1, nilCtx.Context["k"])
}

func TestToResponse(t *testing.T) {
	resp := NotFoundError("machine not found").WithField("machine_id", 3).ToResponse()

	assert.Equal(t, "machine not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.Equal(t, 3, resp.Context["machine_id"])
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	original := ConflictError("machine busy")
	wrapped := fmt.Errorf("create: %w", original)
	require.Same(t, original, AsStructuredError(wrapped))

	plain := errors.New("plain")
	converted := AsStructuredError(plain)
	assert.Equal(t, TypeInternal, converted.Type)
	assert.Equal(t, "internal server error", converted.Message)
	assert.ErrorIs(t, converted, plain)
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ValidationError("bad"))

	assert.True(t, IsType(err, TypeValidation))
	assert.False(t, IsType(err, TypeNotFound))
	assert.False(t, IsType(errors.New("plain"), TypeValidation))
}
