//go:build linux || darwin || freebsd || netbsd || openbsd

package netstatus

import (
	"errors"

	"golang.org/x/sys/unix"
)

var errnoCodes = map[unix.Errno]ErrorCode{
	unix.ECONNREFUSED: ConnectionRefused,
	unix.ENETUNREACH:  NetworkUnreachable,
	unix.EHOSTUNREACH: NetworkUnreachable,
	unix.ECONNRESET:   ConnectionReset,
	unix.EPIPE:        ConnectionReset,
	unix.ETIMEDOUT:    SocketTimeout,
	unix.ENETDOWN:     NetworkDown,
	unix.EHOSTDOWN:    NetworkDown,
	unix.ENOTCONN:     NotConnected,
	unix.ECONNABORTED: ConnectionAborted,
	unix.ENOSPC:       NoSpaceOnDevice,
	unix.EDQUOT:       NoSpaceOnDevice,
	unix.ENOTDIR:      NotADirectory,
	unix.EEXIST:       FileExists,
	unix.ENOTEMPTY:    FileExists,
	unix.EACCES:       AccessDenied,
	unix.EPERM:        AccessDenied,
	unix.EROFS:        AccessDenied,
	unix.ENOENT:       FileNotFound,
	unix.ENOMEM:       CouldNotAllocateBuffers,
	unix.ENOBUFS:      CouldNotAllocateBuffers,
}

func classifyErrno(err error) (ErrorCode, bool) {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return 0, false
	}
	code, ok := errnoCodes[errno]
	return code, ok
}
