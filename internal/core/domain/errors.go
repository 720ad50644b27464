package domain

import (
	"errors"
	"sort"
	"strings"
)

// Error kinds. Services wrap these so callers can branch with errors.Is and
// the API layer can map them to status codes.
var (
	ErrUnauthorized    = errors.New("invalid credentials")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("access forbidden")
	ErrTooManyAttempts = errors.New("too many login attempts")
	ErrInternal        = errors.New("internal error")
	ErrRoleNotFound    = errors.New("default role not found")
	ErrLastPrivileged  = errors.New("cannot delete the last active administrator")
	ErrUsernameTaken   = errors.New("username already registered")
	ErrEmailTaken      = errors.New("email already registered")
	ErrAccountNotFound = errors.New("account not found")
)

// kindError pairs a user facing message with one of the error kinds above.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string { return e.cause.Error() }

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.cause }

// Conflict reports a uniqueness or state conflict, e.g. a duplicate username.
func Conflict(cause error) error {
	return &kindError{kind: ErrConflict, cause: cause}
}

// NotFound reports a missing or soft-deleted record.
func NotFound(cause error) error {
	return &kindError{kind: ErrNotFound, cause: cause}
}

// ValidationError carries per-field messages for rejected input.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError returns an empty ValidationError ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

// Add appends a message for field.
func (e *ValidationError) Add(field, msg string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
	return e
}

// HasErrors reports whether any field was rejected.
func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	if !e.HasErrors() {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidField is shorthand for a ValidationError with a single message.
func InvalidField(field, msg string) *ValidationError {
	return NewValidationError().Add(field, msg)
}

// InternalError hides the storage or runtime cause from Error() so it never
// reaches a client, while keeping it reachable through errors.Unwrap for logs.
type InternalError struct {
	cause error
}

// Internal wraps err as an InternalError. Errors that already carry a known
// kind are returned unchanged.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	if IsExpected(err) {
		return err
	}
	var ie *InternalError
	if errors.As(err, &ie) {
		return err
	}
	return &InternalError{cause: err}
}

func (e *InternalError) Error() string { return ErrInternal.Error() }

func (e *InternalError) Unwrap() error { return e.cause }

func (e *InternalError) Is(target error) bool { return target == ErrInternal }

// IsExpected reports whether err is one of the typed outcomes services
// produce on purpose.
func IsExpected(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrTooManyAttempts):
		return true
	}
	return false
}

// PublicMessage returns the client safe text for an expected error,
// dropping any wrapping context added on the way up.
func PublicMessage(err error) string {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.cause.Error()
	}
	for _, kind := range []error{ErrUnauthorized, ErrValidation, ErrForbidden, ErrTooManyAttempts, ErrNotFound, ErrConflict} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return ErrInternal.Error()
}
