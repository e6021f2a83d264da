package netstatus

import "fmt"

// MaxBytesWaiting is the largest count the 16-bit status field can carry.
const MaxBytesWaiting = 65535

// StatusSize is the encoded size of a NetworkStatus.
const StatusSize = 4

// NetworkStatus is the per-call status record. It is recomputed on every
// Status command and never cached.
type NetworkStatus struct {
	BytesWaiting uint32
	Connected    bool
	Error        ErrorCode
}

// Reset returns the record to "nothing waiting, not connected, success".
func (s *NetworkStatus) Reset() {
	*s = NetworkStatus{Error: Success}
}

// SetWaiting stores n, clamped to [0, max].
func (s *NetworkStatus) SetWaiting(n int64, max uint32) {
	switch {
	case n <= 0:
		s.BytesWaiting = 0
	case uint64(n) > uint64(max):
		s.BytesWaiting = max
	default:
		s.BytesWaiting = uint32(n)
	}
}

// Bytes encodes the record as {waiting lo, waiting hi, connected, error}.
// BytesWaiting is capped at MaxBytesWaiting.
func (s NetworkStatus) Bytes() [StatusSize]byte {
	waiting := s.BytesWaiting
	if waiting > MaxBytesWaiting {
		waiting = MaxBytesWaiting
	}
	var b [StatusSize]byte
	b[0] = byte(waiting)
	b[1] = byte(waiting >> 8)
	if s.Connected {
		b[2] = 1
	}
	code := s.Error
	if code == 0 {
		code = Success
	}
	b[3] = byte(code)
	return b
}

// ParseStatus decodes a 4-byte status record.
func ParseStatus(b []byte) (NetworkStatus, error) {
	if len(b) < StatusSize {
		return NetworkStatus{}, fmt.Errorf("status record too short: %d bytes", len(b))
	}
	return NetworkStatus{
		BytesWaiting: uint32(b[0]) | uint32(b[1])<<8,
		Connected:    b[2] != 0,
		Error:        ErrorCode(b[3]),
	}, nil
}

func (s NetworkStatus) String() string {
	return fmt.Sprintf("waiting=%d connected=%t error=%s", s.BytesWaiting, s.Connected, s.Error)
}
