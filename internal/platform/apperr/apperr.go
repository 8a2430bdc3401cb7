// Package apperr defines the error kinds shared by the billing service.
//
// Every error returned across a package boundary is marked with exactly one
// kind. Callers test kinds with the Is* helpers, never by string matching.
package apperr

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
	ErrOverpayment  = errors.New("overpayment")
	ErrConcurrency  = errors.New("concurrent modification")
	ErrPersistence  = errors.New("persistence failure")

	statusCodes = []struct {
		kind   error
		status int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrInvalidState, http.StatusConflict},
		{ErrValidation, http.StatusBadRequest},
		{ErrOverpayment, http.StatusUnprocessableEntity},
		{ErrConcurrency, http.StatusConflict},
		{ErrPersistence, http.StatusServiceUnavailable},
	}
)

// NotFoundf builds a NotFound error.
func NotFoundf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

// InvalidStatef builds an InvalidState error.
func InvalidStatef(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidState)
}

// Validationf builds a Validation error.
func Validationf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// Overpaymentf builds an Overpayment error.
func Overpaymentf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrOverpayment)
}

// Concurrencyf builds a Concurrency error.
func Concurrencyf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConcurrency)
}

// Persistence wraps a store failure. A nil err yields nil.
func Persistence(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), ErrPersistence)
}

// Mark attaches kind to an existing error, keeping its message and chain.
func Mark(err error, kind error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, kind)
}

// WithHint adds a user-facing hint to err.
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return errors.WithHint(err, hint)
}

// Hint returns the flattened user-facing hints of err, or "" if none.
func Hint(err error) string {
	return errors.FlattenHints(err)
}

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }
func IsValidation(err error) bool   { return errors.Is(err, ErrValidation) }
func IsOverpayment(err error) bool  { return errors.Is(err, ErrOverpayment) }
func IsConcurrency(err error) bool  { return errors.Is(err, ErrConcurrency) }
func IsPersistence(err error) bool  { return errors.Is(err, ErrPersistence) }

// IsRetryable reports whether an operation that failed with err may be
// attempted again unchanged. Business-rule failures never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsValidation(err) || IsInvalidState(err) || IsOverpayment(err) || IsNotFound(err) {
		return false
	}
	return IsConcurrency(err) || IsPersistence(err)
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.kind) {
			return sc.status
		}
	}
	return http.StatusInternalServerError
}
