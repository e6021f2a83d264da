// Package channel holds the per-channel state the dispatcher drives: the
// buffers, credentials, prefix, channel mode and the one bound protocol.
package channel

import (
	"bytes"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/netbridge/pkg/jsonmode"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// Mode selects how reads are served.
type Mode byte

const (
	// ModeProtocol passes reads and writes through to the bound protocol.
	ModeProtocol Mode = 0
	// ModeJSON serves reads from the materialised result of the last JSON query.
	ModeJSON Mode = 1
)

func (m Mode) String() string {
	if m == ModeJSON {
		return "json"
	}
	return "protocol"
}

// State is one logical I/O channel. It is not safe for concurrent use; the
// dispatcher guards each State with its own mutex.
type State struct {
	Number uint8

	DeviceSpec  string
	Prefix      string // mutated only by the set-prefix command
	Login       string
	Password    string
	Mode        Mode
	Aux1        byte
	Aux2        byte
	Translation protocol.Translation

	// Scheme and SessionID describe the current binding.
	Scheme    string
	SessionID string
	OpenedAt  time.Time

	// LastError is the outcome of the last local operation, reported by
	// Status while no protocol is bound.
	LastError netstatus.ErrorCode

	Bufs *protocol.Buffers

	// JSON holds the parsed document in JSON mode; JSONResult holds the
	// rendered bytes of the last query not yet read by the host.
	JSON       *jsonmode.Document
	JSONResult bytes.Buffer

	BytesRead    uint64
	BytesWritten uint64

	proto protocol.NetworkProtocol
}

// New returns an empty channel.
func New(n uint8) *State {
	return &State{
		Number:    n,
		LastError: netstatus.Success,
		Bufs:      protocol.NewBuffers(),
	}
}

// Protocol returns the bound protocol, or nil.
func (s *State) Protocol() protocol.NetworkProtocol {
	return s.proto
}

// Bound reports whether a protocol is bound.
func (s *State) Bound() bool {
	return s.proto != nil
}

// Bind attaches p as the channel's protocol and starts a new session.
// Any previous binding must have been released with Unbind.
func (s *State) Bind(p protocol.NetworkProtocol, scheme string) {
	s.proto = p
	s.Scheme = scheme
	s.SessionID = uuid.NewString()
	s.OpenedAt = time.Now()
	s.BytesRead, s.BytesWritten = 0, 0
}

// Unbind detaches and returns the bound protocol. The caller closes it.
func (s *State) Unbind() protocol.NetworkProtocol {
	p := s.proto
	s.proto = nil
	s.Scheme = ""
	s.SessionID = ""
	s.OpenedAt = time.Time{}
	return p
}

// Reset clears the buffers and JSON state. Prefix and credentials survive.
func (s *State) Reset() {
	s.Bufs.Reset()
	s.JSON = nil
	s.JSONResult.Reset()
	s.Mode = ModeProtocol
}

// SetCredentials stores the login and password used by the next open.
// An empty login clears both.
func (s *State) SetCredentials(login, password string) {
	s.Login = login
	s.Password = password
	if login == "" {
		s.Password = ""
	}
}

// Snapshot is a read-only view of a channel for the admin API and CLI.
type Snapshot struct {
	Channel      uint8     `json:"channel"`
	Open         bool      `json:"open"`
	Scheme       string    `json:"scheme,omitempty"`
	DeviceSpec   string    `json:"devicespec,omitempty"`
	Prefix       string    `json:"prefix,omitempty"`
	Mode         string    `json:"mode"`
	Login        string    `json:"login,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	OpenedAt     time.Time `json:"opened_at,omitzero"`
	LastError    string    `json:"last_error"`
	BytesRead    uint64    `json:"bytes_read"`
	BytesWritten uint64    `json:"bytes_written"`
}

// Snapshot captures the current state. The password is never included.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Channel:      s.Number,
		Open:         s.Bound(),
		Scheme:       s.Scheme,
		DeviceSpec:   s.DeviceSpec,
		Prefix:       s.Prefix,
		Mode:         s.Mode.String(),
		Login:        s.Login,
		SessionID:    s.SessionID,
		OpenedAt:     s.OpenedAt,
		LastError:    s.LastError.String(),
		BytesRead:    s.BytesRead,
		BytesWritten: s.BytesWritten,
	}
}
