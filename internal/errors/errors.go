// Package errors defines the error taxonomy shared by all public operations.
//
// Every error crossing a package boundary falls into one of four classes:
//
//   - Not-Found: a metric, resource or org is absent. Expected, surfaced as
//     an empty result or 404.
//   - Bad-Request: malformed query expression, inverted time range, a regex
//     with zero candidates. Surfaced as 400.
//   - Transient: substrate transaction conflict or timeout, already retried
//     by the substrate's retry wrapper. Surfaced as 503.
//   - Partial-Failure: some fan-out branches failed while others succeeded.
//     Logged, not surfaced, unless every branch failed.
//
// Low-level substrate errors are translated at the boundary of every public
// operation and never passed through raw.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
)

// Sentinel errors for the four taxonomy classes.
var (
	ErrNotFound       = errors.New("not found")
	ErrBadRequest     = errors.New("bad request")
	ErrTransient      = errors.New("transient infrastructure error")
	ErrPartialFailure = errors.New("partial failure")
)

// Is is a convenience wrapper for errors.Is.
var Is = errors.Is

// As is a convenience wrapper for errors.As.
var As = errors.As

// NotFoundf creates a not-found error with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// BadRequestf creates a bad-request error with context.
func BadRequestf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrBadRequest)...)
}

// Transientf creates a transient-infrastructure error with context.
func Transientf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrTransient)...)
}

// PartialFailuref creates a partial-failure error with context.
func PartialFailuref(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrPartialFailure)...)
}

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsBadRequest returns true if err is a bad-request error.
func IsBadRequest(err error) bool { return errors.Is(err, ErrBadRequest) }

// IsTransient returns true if err is a transient-infrastructure error.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsPartialFailure returns true if err is a partial-failure error.
func IsPartialFailure(err error) bool { return errors.Is(err, ErrPartialFailure) }

// IsClientError returns true for the 4xx-class errors that a fan-out query
// tolerates on individual branches: not-found and bad-request.
func IsClientError(err error) bool {
	return IsNotFound(err) || IsBadRequest(err)
}

// HTTPStatus maps an error to the status code it is surfaced with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsBadRequest(err):
		return http.StatusBadRequest
	case IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromSubstrate translates a substrate error into the taxonomy, carrying the
// operation name for operator-facing logs. Substrate failures are transient:
// the retry wrapper has already exhausted its attempts by the time the error
// reaches us. Non-substrate errors pass through unchanged.
func FromSubstrate(err error, op string) error {
	if err == nil {
		return nil
	}
	var fdbErr fdb.Error
	if errors.As(err, &fdbErr) {
		return Transientf("%s: fdb error %d", op, fdbErr.Code)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
