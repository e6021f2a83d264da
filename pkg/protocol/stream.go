package protocol

import (
	"bytes"
	"errors"
	"io"
	"net"
	"time"

	"github.com/marmos91/netbridge/pkg/netstatus"
)

// pollTimeout bounds the liveness probe Status performs.
const pollTimeout = time.Millisecond

// Stream adapts a connected net.Conn to the receive-buffer contract shared by
// TCP, Telnet and similar stream protocols.
type Stream struct {
	Conn net.Conn

	// Filter, when set, post-processes raw network bytes before they reach
	// the receive buffer (telnet strips IAC sequences here).
	Filter func([]byte) []byte

	eof   bool
	reset bool
	chunk [2048]byte
}

// NewStream wraps conn.
func NewStream(conn net.Conn) *Stream {
	return &Stream{Conn: conn}
}

// Closed reports whether the peer has closed or reset the connection.
func (s *Stream) Closed() bool {
	return s.eof || s.reset
}

// Poll moves whatever is immediately readable into dst without blocking.
func (s *Stream) Poll(dst func([]byte)) {
	if s.Closed() {
		return
	}
	_ = s.Conn.SetReadDeadline(time.Now().Add(pollTimeout))
	for {
		n, err := s.Conn.Read(s.chunk[:])
		if n > 0 {
			dst(s.filter(s.chunk[:n]))
		}
		if err != nil {
			s.noteErr(err)
			return
		}
		if n < len(s.chunk) {
			return
		}
	}
}

// Fill reads until buffered() reaches n or timeout elapses.
func (s *Stream) Fill(n int, buffered func() int, dst func([]byte), timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for buffered() < n {
		if s.Closed() {
			if s.reset {
				return netstatus.New(netstatus.ConnectionReset, "read")
			}
			return netstatus.New(netstatus.EndOfFile, "read")
		}
		_ = s.Conn.SetReadDeadline(deadline)
		m, err := s.Conn.Read(s.chunk[:])
		if m > 0 {
			dst(s.filter(s.chunk[:m]))
		}
		if err != nil {
			if isTimeout(err) {
				return netstatus.Wrap(netstatus.SocketTimeout, "read", err)
			}
			s.noteErr(err)
		}
	}
	return nil
}

// WriteAll sends p. A short write is reported as SocketTimeout.
func (s *Stream) WriteAll(p []byte, timeout time.Duration) error {
	_ = s.Conn.SetWriteDeadline(time.Now().Add(timeout))
	n, err := s.Conn.Write(p)
	if err != nil {
		if isTimeout(err) || (n > 0 && n < len(p)) {
			return netstatus.Wrap(netstatus.SocketTimeout, "write", err)
		}
		return netstatus.FromNetError("write", err)
	}
	if n < len(p) {
		return netstatus.Errorf(netstatus.SocketTimeout, "write", "short write: %d of %d bytes", n, len(p))
	}
	return nil
}

func (s *Stream) filter(p []byte) []byte {
	if s.Filter == nil {
		return p
	}
	return s.Filter(p)
}

func (s *Stream) noteErr(err error) {
	switch {
	case isTimeout(err):
	case errors.Is(err, io.EOF):
		s.eof = true
	default:
		s.reset = true
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// StreamStatus computes the status of a stream protocol whose pending bytes
// live in recv. Data still buffered after the peer closed is reported as
// waiting with Success; once drained the error becomes EndOfFile.
func StreamStatus(s *Stream, recv *bytes.Buffer, max uint32, st *netstatus.NetworkStatus) {
	st.SetWaiting(int64(recv.Len()), max)
	st.Connected = s != nil && !s.Closed()
	switch {
	case st.Connected, recv.Len() > 0:
		st.Error = netstatus.Success
	case s != nil && s.reset:
		st.Error = netstatus.ConnectionReset
	default:
		st.Error = netstatus.EndOfFile
	}
}
