// Package apperror defines the error kinds shared by every layer of the
// identity backend.
//
// Services and repositories never return HTTP status codes. They return an
// *AppError whose Err field is one of the sentinel kinds below, and the HTTP
// boundary maps the kind to a status:
//
//	ErrInvalidCredentials → 401
//	ErrForbidden          → 403
//	ErrNotFound           → 404
//	ErrEmailExists        → 409
//	ErrValidation         → 400
//
// Anything that is not an *AppError is an unexpected failure and becomes a
// generic 500 without details.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrValidation         = errors.New("validation error")
)

type AppError struct {
	Err     error  // one of the sentinel kinds above
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// InvalidCredentials is returned for an unknown email and for a wrong
// password alike. The message must not reveal which one happened.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "invalid email or password",
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func NotFound(resource string, id int64) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %d", resource, id),
	}
}

func EmailAlreadyExists(email string) *AppError {
	return &AppError{
		Err:     ErrEmailExists,
		Message: fmt.Sprintf("email %s is already registered", email),
		Field:   "email",
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// InvalidRole is a validation failure for a role name outside the catalog.
func InvalidRole(name string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: fmt.Sprintf("role %q is not a known role", name),
		Field:   "roles",
	}
}

// Kind returns the sentinel kind carried by err, or nil when err is not an
// application error.
func Kind(err error) error {
	for _, k := range []error{ErrInvalidCredentials, ErrForbidden, ErrNotFound, ErrEmailExists, ErrValidation} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Code returns the machine-readable name of err's kind, as used in error
// envelopes and metric labels. Errors without a kind are "internal".
func Code(err error) string {
	switch Kind(err) {
	case ErrInvalidCredentials:
		return "invalid_credentials"
	case ErrForbidden:
		return "forbidden"
	case ErrNotFound:
		return "not_found"
	case ErrEmailExists:
		return "email_already_exists"
	case ErrValidation:
		return "validation_error"
	default:
		return "internal"
	}
}
