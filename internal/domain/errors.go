package domain

import "errors"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidTarget   = errors.New("invalid target")
	ErrInvalidInput    = errors.New("invalid input")
	ErrTransient       = errors.New("temporarily unavailable")
	// ErrConflict reports a unique constraint violation in the store
	ErrConflict = errors.New("conflict")
)

// Error codes sent to clients
const (
	CodeUnauthenticated = "unauthenticated"
	CodeUnauthorized    = "unauthorized"
	CodeNotFound        = "not_found"
	CodeInvalidState    = "invalid_state"
	CodeInvalidTarget   = "invalid_target"
	CodeInvalidInput    = "invalid_input"
	CodeConflict        = "conflict"
	CodeTransient       = "transient"
)

// Code maps an error to its client-facing code. Anything that is not a known
// domain condition is reported as transient.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrInvalidTarget):
		return CodeInvalidTarget
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrConflict):
		return CodeConflict
	default:
		return CodeTransient
	}
}

// ErrorMessage returns the client-facing text of err. Transient failures are not
// described, they may carry store internals.
func ErrorMessage(err error) string {
	if Code(err) == CodeTransient {
		return "temporarily unavailable, please retry"
	}
	return err.Error()
}
