package netstatus

import (
	"errors"
	"fmt"
)

// Error is the error type returned across the protocol boundary. Code is
// what the bus sees; Err keeps the backend error for logging.
type Error struct {
	Code ErrorCode
	Op   string // operation that failed: open, read, stat, ...
	Err  error  // underlying backend error, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code.String()
	}
}

// Unwrap returns the underlying backend error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an *Error with no underlying cause.
func New(code ErrorCode, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap creates an *Error around a backend error.
func Wrap(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Errorf creates an *Error with a formatted cause.
func Errorf(code ErrorCode, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the error code from err. nil is Success; errors that do not
// wrap an *Error are GeneralFailure.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Code
	}
	return GeneralFailure
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// ============================================================================
// Factory helpers for the codes used most often
// ============================================================================

// ErrNotConnected is returned when a command needs a bound, connected protocol.
func ErrNotConnected(op string) *Error { return New(NotConnected, op) }

// ErrNotImplemented is returned for optional operations a backend lacks.
func ErrNotImplemented(op string) *Error { return New(NotImplemented, op) }

// ErrEOF is returned when a read finds nothing left in the stream.
func ErrEOF(op string) *Error { return New(EndOfFile, op) }

// ErrInvalidDeviceSpec is returned when resolution yields no usable URL.
func ErrInvalidDeviceSpec(op string, err error) *Error { return Wrap(InvalidDeviceSpec, op, err) }
