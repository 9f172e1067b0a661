// Package errors defines the error taxonomy shared by every querycore
// package. Each kind is a sentinel; concrete failures wrap a sentinel in an
// *Error carrying the backend-supplied detail so callers can match with
// errors.Is and still print a readable message.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAssertion          = errors.New("assertion failure")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrUnimplemented      = errors.New("unimplemented")
	ErrDatabase           = errors.New("database error")
	ErrDatabaseCorrupt    = errors.New("database corrupt")
	ErrDatabaseCreate     = errors.New("database create failure")
	ErrDatabaseLocked     = errors.New("database locked")
	ErrDatabaseModified   = errors.New("database modified concurrently")
	ErrDatabaseOpening    = errors.New("database opening failure")
	ErrDatabaseVersion    = errors.New("database version mismatch")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrFeatureUnavailable = errors.New("feature unavailable")
	ErrInternal           = errors.New("internal error")
	ErrNetwork            = errors.New("network error")
	ErrNetworkTimeout     = errors.New("network timeout")
	ErrQueryParser        = errors.New("query parser syntax error")
	ErrSerialisation      = errors.New("serialisation error")
	ErrRange              = errors.New("range error")
)

var kinds = []error{
	ErrAssertion,
	ErrInvalidArgument,
	ErrInvalidOperation,
	ErrUnimplemented,
	ErrDatabaseCorrupt,
	ErrDatabaseCreate,
	ErrDatabaseLocked,
	ErrDatabaseModified,
	ErrDatabaseOpening,
	ErrDatabaseVersion,
	ErrDocumentNotFound,
	ErrFeatureUnavailable,
	ErrInternal,
	ErrNetworkTimeout,
	ErrNetwork,
	ErrQueryParser,
	ErrSerialisation,
	ErrRange,
	ErrDatabase,
}

// Error pairs a taxonomy sentinel with a human-readable detail.
type Error struct {
	Err     error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel this error wraps. The database
// specialisations also match the generic ErrDatabase kind.
func (e *Error) Is(target error) bool {
	if target == e.Err {
		return true
	}
	if target == ErrDatabase {
		switch e.Err {
		case ErrDatabaseCorrupt, ErrDatabaseCreate, ErrDatabaseLocked,
			ErrDatabaseModified, ErrDatabaseOpening, ErrDatabaseVersion:
			return true
		}
	}
	return false
}

func New(sentinel error, message string) *Error {
	return &Error{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *Error {
	return &Error{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches a sentinel kind to an underlying failure (typically an I/O
// error) while keeping the cause reachable through errors.Is/As.
func Wrap(sentinel error, cause error, message string) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", New(sentinel, message), cause)
}

// KindOf returns the taxonomy sentinel for err, or ErrInternal when err does
// not belong to the taxonomy. It returns nil for a nil error.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Err
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// Is is re-exported so callers importing this package under the name
// "errors" keep the standard helpers at hand.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func HTTPStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrQueryParser), errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrSerialisation), errors.Is(err, ErrRange):
		return http.StatusBadRequest
	case errors.Is(err, ErrDatabaseLocked), errors.Is(err, ErrDatabaseModified):
		return http.StatusConflict
	case errors.Is(err, ErrUnimplemented), errors.Is(err, ErrFeatureUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, ErrNetworkTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrDatabase), errors.Is(err, ErrNetwork):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
