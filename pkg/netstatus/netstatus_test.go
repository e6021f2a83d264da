package netstatus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// ErrorCode
// ============================================================================

func TestErrorCodeValues(t *testing.T) {
	// Wire values expected by retro-OS drivers.
	assert.EqualValues(t, 1, Success)
	assert.EqualValues(t, 136, EndOfFile)
	assert.EqualValues(t, 144, GeneralFailure)
	assert.EqualValues(t, 146, NotImplemented)
	assert.EqualValues(t, 165, InvalidDeviceSpec)
	assert.EqualValues(t, 170, FileNotFound)
	assert.EqualValues(t, 200, ConnectionRefused)
	assert.EqualValues(t, 207, NotConnected)
	assert.EqualValues(t, 255, CouldNotAllocateBuffers)
}

func TestErrorCodeCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want Category
	}{
		{Success, CategorySuccess},
		{EndOfFile, CategoryEndOfFile},
		{SocketTimeout, CategoryTimeout},
		{GeneralFailure, CategoryGeneral},
		{NotImplemented, CategoryNotImplemented},
		{AccessDenied, CategoryAccessDenied},
		{FileNotFound, CategoryNotFound},
		{NoSpaceOnDevice, CategoryFilesystem},
		{ConnectionRefused, CategoryConnection},
		{InvalidUsernameOrPassword, CategoryAuth},
		{CouldNotAllocateBuffers, CategoryResource},
		{InvalidDeviceSpec, CategoryDeviceSpec},
		{ErrorCode(99), CategoryGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Category())
		})
	}
}

func TestErrorCodeString(t *testing.T) {
	assert.Equal(t, "FileNotFound", FileNotFound.String())
	assert.Equal(t, "Unknown(99)", ErrorCode(99).String())
	assert.False(t, ErrorCode(99).Known())
	assert.True(t, SocketTimeout.IsNetwork())
	assert.False(t, FileNotFound.IsNetwork())
}

// ============================================================================
// Error
// ============================================================================

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("boom")

	assert.Equal(t, "open: FileNotFound: boom", Wrap(FileNotFound, "open", cause).Error())
	assert.Equal(t, "read: EndOfFile", New(EndOfFile, "read").Error())
	assert.Equal(t, "NotConnected", (&Error{Code: NotConnected}).Error())
	assert.ErrorIs(t, Wrap(FileNotFound, "open", cause), cause)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Success, CodeOf(nil))
	assert.Equal(t, GeneralFailure, CodeOf(errors.New("plain")))
	assert.Equal(t, AccessDenied, CodeOf(fmt.Errorf("wrapped: %w", New(AccessDenied, "stat"))))
	assert.True(t, Is(ErrEOF("read"), EndOfFile))
}

// ============================================================================
// Translation
// ============================================================================

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"EOF", io.EOF, EndOfFile},
		{"NotExist", fs.ErrNotExist, FileNotFound},
		{"PathErrorNotExist", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist}, FileNotFound},
		{"Permission", fs.ErrPermission, AccessDenied},
		{"Exist", fs.ErrExist, FileExists},
		{"Deadline", context.DeadlineExceeded, SocketTimeout},
		{"DNS", &net.DNSError{Err: "no such host", Name: "nowhere"}, NetworkUnreachable},
		{"MessageRefused", errors.New("dial tcp: connection refused"), ConnectionRefused},
		{"Unmatched", errors.New("odd"), GeneralFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromFSError("op", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.want, CodeOf(err))
		})
	}

	t.Run("NilStaysNil", func(t *testing.T) {
		assert.NoError(t, FromNetError("read", nil))
	})

	t.Run("ExistingCodeIsKept", func(t *testing.T) {
		err := FromNetError("read", New(InvalidUsernameOrPassword, ""))
		assert.Equal(t, InvalidUsernameOrPassword, CodeOf(err))
		var ne *Error
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, "read", ne.Op)
	})

	t.Run("NetFallbackIsReset", func(t *testing.T) {
		assert.Equal(t, ConnectionReset, CodeOf(FromNetError("read", errors.New("odd"))))
	})
}

func TestFromHTTPStatus(t *testing.T) {
	assert.Equal(t, Success, FromHTTPStatus(http.StatusOK))
	assert.Equal(t, Success, FromHTTPStatus(http.StatusMultiStatus))
	assert.Equal(t, InvalidUsernameOrPassword, FromHTTPStatus(http.StatusUnauthorized))
	assert.Equal(t, AccessDenied, FromHTTPStatus(http.StatusForbidden))
	assert.Equal(t, FileNotFound, FromHTTPStatus(http.StatusNotFound))
	assert.Equal(t, NoSpaceOnDevice, FromHTTPStatus(http.StatusInsufficientStorage))
	assert.Equal(t, ServiceNotAvailable, FromHTTPStatus(http.StatusInternalServerError))
	assert.Equal(t, GeneralFailure, FromHTTPStatus(http.StatusTeapot))
}

// ============================================================================
// NetworkStatus
// ============================================================================

func TestNetworkStatusBytes(t *testing.T) {
	t.Run("LittleEndianCount", func(t *testing.T) {
		s := NetworkStatus{BytesWaiting: 0x1234, Connected: true, Error: Success}
		assert.Equal(t, [4]byte{0x34, 0x12, 1, 1}, s.Bytes())
	})

	t.Run("CountIsCapped", func(t *testing.T) {
		s := NetworkStatus{BytesWaiting: 1 << 20, Error: EndOfFile}
		assert.Equal(t, [4]byte{0xFF, 0xFF, 0, 136}, s.Bytes())
	})

	t.Run("ZeroErrorEncodesSuccess", func(t *testing.T) {
		assert.Equal(t, byte(Success), NetworkStatus{}.Bytes()[3])
	})

	t.Run("ParseRoundTrip", func(t *testing.T) {
		s := NetworkStatus{BytesWaiting: 512, Connected: true, Error: SocketTimeout}
		b := s.Bytes()
		got, err := ParseStatus(b[:])
		require.NoError(t, err)
		assert.Equal(t, s, got)

		_, err = ParseStatus(b[:2])
		assert.Error(t, err)
	})
}

func TestSetWaiting(t *testing.T) {
	var s NetworkStatus
	s.SetWaiting(-5, MaxBytesWaiting)
	assert.Zero(t, s.BytesWaiting)
	s.SetWaiting(100000, MaxBytesWaiting)
	assert.EqualValues(t, MaxBytesWaiting, s.BytesWaiting)
	s.SetWaiting(42, MaxBytesWaiting)
	assert.EqualValues(t, 42, s.BytesWaiting)
}
