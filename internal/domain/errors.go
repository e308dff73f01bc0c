package domain

import "errors"

var (
	// ErrNotFound is returned when a session, response or checkpoint question does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the caller does not own the session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when checkpoint or accommodation configuration disallows an operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState is returned when the session status does not permit the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidTransition is returned when a lifecycle transition is not legal from the current status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrValidation is returned when a submitted payload fails shape rules.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is returned when a write collides with a concurrent one on a unique key.
	ErrConflict = errors.New("conflict")
)

// FieldError is used to indicate an error with a specific payload field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// Error carries one of the kind sentinels above plus a caller-facing message.
type Error struct {
	Kind    error
	Message string
	Fields  []FieldError
}

func NewError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func NewValidationError(message string, fields ...FieldError) *Error {
	return &Error{Kind: ErrValidation, Message: message, Fields: fields}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// NotFound builds an ErrNotFound error naming the missing entity.
func NotFound(entity string) *Error {
	return NewError(ErrNotFound, entity+" not found")
}
