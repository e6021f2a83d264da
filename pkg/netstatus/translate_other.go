//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package netstatus

func classifyErrno(error) (ErrorCode, bool) { return 0, false }
