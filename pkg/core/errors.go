package core

import (
	"fmt"
)

// Error is the canonical error shape surfaced by the gateway.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrCollaborator   ErrorType = "collaborator_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewInvalidTargetError marks an escalation suggestion that carries no
// resolvable contact. It is logged and swallowed by the analysis pipeline,
// never surfaced to a request path.
func NewInvalidTargetError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Code:    "invalid_target",
	}
}

// NewCollaboratorError wraps a failure from an external collaborator
// (analyzer, telephony, directory backend).
func NewCollaboratorError(collaborator string, underlying error) *Error {
	return &Error{
		Type:    ErrCollaborator,
		Message: fmt.Sprintf("%s: %v", collaborator, underlying),
		Code:    collaborator,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewOverloadedError creates an overloaded error.
func NewOverloadedError(message string) *Error {
	return &Error{
		Type:    ErrOverloaded,
		Message: message,
	}
}

// IsNotFound reports whether err is a canonical not-found error.
func IsNotFound(err error) bool {
	e, ok := err.(*Error)
	return ok && e != nil && e.Type == ErrNotFound
}

// IsInvalidTarget reports whether err marks a missing escalation target.
func IsInvalidTarget(err error) bool {
	e, ok := err.(*Error)
	return ok && e != nil && e.Code == "invalid_target"
}
