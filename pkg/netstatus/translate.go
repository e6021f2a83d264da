package netstatus

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strings"
)

// FromError translates a backend error into an *Error. It is the single
// translation point used by every protocol right after each backend call, so
// raw backend errors never travel past the protocol boundary.
//
// An err that already carries a code is returned unchanged (with op filled if
// missing). fallback is used when nothing more specific matches.
func FromError(op string, err error, fallback ErrorCode) error {
	if err == nil {
		return nil
	}

	var ne *Error
	if errors.As(err, &ne) {
		if ne.Op == "" {
			return &Error{Code: ne.Code, Op: op, Err: ne.Err}
		}
		return err
	}

	if code, ok := classify(err); ok {
		return Wrap(code, op, err)
	}
	return Wrap(fallback, op, err)
}

// FromNetError translates socket-level failures. Unmatched errors become
// ConnectionReset, which is what a bus driver treats as "connection lost".
func FromNetError(op string, err error) error {
	return FromError(op, err, ConnectionReset)
}

// FromFSError translates filesystem failures. Unmatched errors become
// GeneralFailure.
func FromFSError(op string, err error) error {
	return FromError(op, err, GeneralFailure)
}

func classify(err error) (ErrorCode, bool) {
	switch {
	case errors.Is(err, io.EOF):
		return EndOfFile, true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return ConnectionReset, true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return SocketTimeout, true
	case errors.Is(err, context.Canceled):
		return ConnectionAborted, true
	case errors.Is(err, fs.ErrNotExist):
		return FileNotFound, true
	case errors.Is(err, fs.ErrPermission):
		return AccessDenied, true
	case errors.Is(err, fs.ErrExist):
		return FileExists, true
	}

	if code, ok := classifyErrno(err); ok {
		return code, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return SocketTimeout, true
		}
		return NetworkUnreachable, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return SocketTimeout, true
	}

	return classifyMessage(err.Error())
}

// classifyMessage matches the text of errors from libraries that do not wrap
// syscall errors (or on platforms without an errno table).
func classifyMessage(msg string) (ErrorCode, bool) {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "connection refused"):
		return ConnectionRefused, true
	case strings.Contains(msg, "network is unreachable"), strings.Contains(msg, "no route to host"):
		return NetworkUnreachable, true
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return ConnectionReset, true
	case strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "timed out"):
		return SocketTimeout, true
	case strings.Contains(msg, "network is down"):
		return NetworkDown, true
	case strings.Contains(msg, "no space left"):
		return NoSpaceOnDevice, true
	case strings.Contains(msg, "not a directory"):
		return NotADirectory, true
	}
	return 0, false
}

// FromHTTPStatus maps an HTTP (or WebDAV) status code. 2xx and 3xx are Success.
func FromHTTPStatus(status int) ErrorCode {
	switch {
	case status >= 200 && status < 400:
		return Success
	case status == http.StatusUnauthorized:
		return InvalidUsernameOrPassword
	case status == http.StatusForbidden, status == http.StatusMethodNotAllowed:
		return AccessDenied
	case status == http.StatusNotFound, status == http.StatusGone:
		return FileNotFound
	case status == http.StatusConflict, status == http.StatusPreconditionFailed:
		return FileExists
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return SocketTimeout
	case status == http.StatusInsufficientStorage, status == http.StatusRequestEntityTooLarge:
		return NoSpaceOnDevice
	case status == http.StatusNotImplemented:
		return NotImplemented
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway:
		return ServiceNotAvailable
	case status >= 500:
		return ServiceNotAvailable
	default:
		return GeneralFailure
	}
}
