package fhir

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the typed error surfaced by the persistence and search layers.
// Code is the OperationOutcome issue code; Status the HTTP status the thin
// transport layer maps it to.
type Error struct {
	Code        string
	Status      int
	Diagnostics string
	cause       error
}

func (e *Error) Error() string {
	if e.Diagnostics != "" {
		return e.Diagnostics
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two *Error values by issue code, so errors.Is(err, ErrNotFound)
// works for wrapped and parameterized instances.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Outcome renders the error as an OperationOutcome.
func (e *Error) Outcome() *OperationOutcome {
	return NewOperationOutcome("error", e.Code, e.Diagnostics)
}

// Sentinel errors for the failure taxonomy. Use the constructor helpers to
// attach diagnostics; errors.Is against these sentinels discriminates kinds.
var (
	ErrNotFound        = &Error{Code: "not-found", Status: http.StatusNotFound}
	ErrGone            = &Error{Code: "deleted", Status: http.StatusGone}
	ErrVersionConflict = &Error{Code: "conflict", Status: http.StatusConflict}
	ErrInvalid         = &Error{Code: "invalid", Status: http.StatusBadRequest}
	ErrInternal        = &Error{Code: "exception", Status: http.StatusInternalServerError}
)

func NotFoundError(resourceType, id string) *Error {
	return &Error{Code: "not-found", Status: http.StatusNotFound,
		Diagnostics: fmt.Sprintf("%s/%s not found", resourceType, id)}
}

func GoneError(resourceType, id string) *Error {
	return &Error{Code: "deleted", Status: http.StatusGone,
		Diagnostics: fmt.Sprintf("%s/%s is deleted", resourceType, id)}
}

func VersionConflictError(resourceType, id, expected string) *Error {
	return &Error{Code: "conflict", Status: http.StatusConflict,
		Diagnostics: fmt.Sprintf("%s/%s version precondition %q does not match current version", resourceType, id, expected)}
}

func InvalidError(format string, args ...interface{}) *Error {
	return &Error{Code: "invalid", Status: http.StatusBadRequest,
		Diagnostics: fmt.Sprintf(format, args...)}
}

func InternalError(err error) *Error {
	return &Error{Code: "exception", Status: http.StatusInternalServerError,
		Diagnostics: err.Error(), cause: err}
}

// OutcomeForError maps any error to an OperationOutcome plus HTTP status.
// Unrecognized errors surface as internal exceptions.
func OutcomeForError(err error) (*OperationOutcome, int) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Outcome(), fe.Status
	}
	return NewOperationOutcome("error", "exception", err.Error()), http.StatusInternalServerError
}
