// Package errors provides structured error handling with context propagation and HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeProtocol indicates a malformed inbound frame (HTTP 400)
	TypeProtocol ErrorType = "protocol"
	// TypeAuthorization indicates an insufficient role (HTTP 403)
	TypeAuthorization ErrorType = "authorization"
	// TypeInvalidState indicates an operation outside the required match state (HTTP 409)
	TypeInvalidState ErrorType = "invalid_state"
	// TypeInvalidTransition indicates a state transition outside the table (HTTP 409)
	TypeInvalidTransition ErrorType = "invalid_transition"
	// TypeInvalidParticipant indicates a participant not part of the match (HTTP 400)
	TypeInvalidParticipant ErrorType = "invalid_participant"
	// TypeInvalidValue indicates an out-of-range value (HTTP 400)
	TypeInvalidValue ErrorType = "invalid_value"
	// TypeNotFound indicates resource not found (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeTransport indicates the broker or another backing service is unreachable (HTTP 502)
	TypeTransport ErrorType = "transport"
	// TypeInternal indicates server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeProtocol, TypeInvalidParticipant, TypeInvalidValue:
		return http.StatusBadRequest
	case TypeAuthorization:
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	case TypeInvalidState, TypeInvalidTransition:
		return http.StatusConflict
	case TypeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ProtocolError creates a new protocol error for a malformed frame.
func ProtocolError(message string) *Error {
	return &Error{Type: TypeProtocol, Message: message, Context: make(map[string]any)}
}

// AuthorizationError creates a new authorization error.
func AuthorizationError(message string) *Error {
	return &Error{Type: TypeAuthorization, Message: message, Context: make(map[string]any)}
}

// InvalidStateError creates a new invalid-state error.
func InvalidStateError(message string) *Error {
	return &Error{Type: TypeInvalidState, Message: message, Context: make(map[string]any)}
}

// InvalidTransitionError creates a new invalid-transition error.
func InvalidTransitionError(message string) *Error {
	return &Error{Type: TypeInvalidTransition, Message: message, Context: make(map[string]any)}
}

// InvalidParticipantError creates a new invalid-participant error.
func InvalidParticipantError(message string) *Error {
	return &Error{Type: TypeInvalidParticipant, Message: message, Context: make(map[string]any)}
}

// InvalidValueError creates a new invalid-value error.
func InvalidValueError(message string) *Error {
	return &Error{Type: TypeInvalidValue, Message: message, Context: make(map[string]any)}
}

// NotFoundError creates a new not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return &Error{Type: TypeNotFound, Message: message, Context: make(map[string]any)}
}

// TransportError creates a new transport error for broker failures.
func TransportError(message string, cause error) *Error {
	return &Error{Type: TypeTransport, Message: message, Cause: cause, Context: make(map[string]any)}
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return &Error{Type: TypeInternal, Message: message, Cause: cause, Context: make(map[string]any)}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}

// IsRecoverable reports whether the error should be answered with an ERROR
// frame instead of dropping the connection. Everything in the taxonomy is
// recoverable; only unknown internal failures are not.
func IsRecoverable(err error) bool {
	structured := AsStructuredError(err)
	return structured.Type != TypeInternal
}
