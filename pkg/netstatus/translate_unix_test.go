//go:build linux || darwin || freebsd || netbsd || openbsd

package netstatus

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestFromErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"Refused", &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", unix.ECONNREFUSED)}, ConnectionRefused},
		{"Unreachable", unix.ENETUNREACH, NetworkUnreachable},
		{"Reset", unix.ECONNRESET, ConnectionReset},
		{"NoSpace", unix.ENOSPC, NoSpaceOnDevice},
		{"NotDir", &os.PathError{Op: "open", Path: "/f/x", Err: unix.ENOTDIR}, NotADirectory},
		{"ReadOnlyFS", unix.EROFS, AccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(FromNetError("op", tt.err)))
		})
	}
}
