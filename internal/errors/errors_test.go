package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{ProtocolError("bad frame"), http.StatusBadRequest},
		{InvalidParticipantError("not in match"), http.StatusBadRequest},
		{InvalidValueError("negative"), http.StatusBadRequest},
		{AuthorizationError("viewer"), http.StatusForbidden},
		{NotFoundError("no such match"), http.StatusNotFound},
		{InvalidStateError("not in progress"), http.StatusConflict},
		{InvalidTransitionError("terminal"), http.StatusConflict},
		{TransportError("redis down", nil), http.StatusBadGateway},
		{InternalError("boom", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.HTTPStatus(), "type %s", tt.err.Type)
	}
}

func TestError_ErrorStringIncludesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := TransportError("publish failed", cause)

	assert.Contains(t, err.Error(), "transport")
	assert.Contains(t, err.Error(), "publish failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("row not found")
	err := InternalError("query failed", cause)

	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("outer: %w", err)
	var structured *Error
	require.True(t, stderrors.As(wrapped, &structured))
	assert.Equal(t, TypeInternal, structured.Type)
}

func TestAsStructuredError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})

	t.Run("structured error unchanged", func(t *testing.T) {
		err := NotFoundError("no such match")
		assert.Same(t, err, AsStructuredError(err))
	})

	t.Run("wrapped structured error recovered", func(t *testing.T) {
		err := InvalidStateError("match not in progress")
		wrapped := fmt.Errorf("dispatch: %w", err)
		assert.Same(t, err, AsStructuredError(wrapped))
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		structured := AsStructuredError(stderrors.New("boom"))
		assert.Equal(t, TypeInternal, structured.Type)
	})
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(ProtocolError("bad frame")))
	assert.True(t, IsRecoverable(InvalidTransitionError("terminal")))
	assert.True(t, IsRecoverable(TransportError("redis down", nil)))
	assert.False(t, IsRecoverable(stderrors.New("boom")))
	assert.False(t, IsRecoverable(InternalError("boom", nil)))
}

func TestWithContextAndResponse(t *testing.T) {
	err := InvalidParticipantError("participant not in match").
		WithContext("participant_id", "p-1").
		WithContext("match_id", "m-1")

	resp := err.ToResponse()
	assert.Equal(t, "participant not in match", resp.Error)
	assert.Equal(t, TypeInvalidParticipant, resp.Type)
	assert.Equal(t, "p-1", resp.Context["participant_id"])
	assert.Equal(t, "m-1", resp.Context["match_id"])
}
