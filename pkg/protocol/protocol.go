// Package protocol defines the NetworkProtocol interface every backend
// implements, along with the small value types shared by the dispatcher and
// the protocol packages.
package protocol

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
)

// CommandFrame is a decoded bus command. It is created per command and
// discarded after dispatch.
type CommandFrame struct {
	Command byte
	Aux1    byte
	Aux2    byte
}

func (f CommandFrame) String() string {
	return fmt.Sprintf("cmd=0x%02X aux1=%d aux2=%d", f.Command, f.Aux1, f.Aux2)
}

// OpenMode is the aux1 value of an OPEN command.
type OpenMode byte

const (
	ModeRead      OpenMode = 4
	ModeDelete    OpenMode = 5 // HTTP DELETE
	ModeDirectory OpenMode = 6
	ModeWrite     OpenMode = 8
	ModeAppend    OpenMode = 9
	ModeReadWrite OpenMode = 12 // HTTP: GET with header access
	ModePost      OpenMode = 13 // HTTP POST
	ModePut       OpenMode = 14 // HTTP PUT
)

func (m OpenMode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeDelete:
		return "delete"
	case ModeDirectory:
		return "directory"
	case ModeWrite:
		return "write"
	case ModeAppend:
		return "append"
	case ModeReadWrite:
		return "read-write"
	case ModePost:
		return "post"
	case ModePut:
		return "put"
	default:
		return fmt.Sprintf("mode(%d)", byte(m))
	}
}

// Writes reports whether the mode sends data to the backend.
func (m OpenMode) Writes() bool {
	switch m {
	case ModeWrite, ModeAppend, ModeReadWrite, ModePost, ModePut:
		return true
	}
	return false
}

// Reads reports whether the mode receives data from the backend.
func (m OpenMode) Reads() bool {
	switch m {
	case ModeRead, ModeDirectory, ModeReadWrite, ModePost, ModeDelete:
		return true
	}
	return false
}

// Translation selects end-of-line conversion between the host's EOL byte
// and the network's line endings. It is taken from aux2&3.
type Translation byte

const (
	TranslateNone Translation = iota
	TranslateCR
	TranslateLF
	TranslateCRLF
)

// TranslationFromAux2 extracts the translation mode from an aux2 byte.
func TranslationFromAux2(aux2 byte) Translation {
	return Translation(aux2 & 0x03)
}

func (t Translation) String() string {
	return [...]string{"none", "cr", "lf", "crlf"}[t&0x03]
}

// Direction is the answer to a special-command inquiry: does the command
// carry a payload, and which way. The values are the DSTATS bytes bus
// drivers use.
type Direction byte

const (
	// DirNone: the command carries no payload.
	DirNone Direction = 0x00
	// DirToHost: the protocol produces a payload returned to the bus.
	DirToHost Direction = 0x40
	// DirFromHost: the bus supplies a payload the protocol consumes.
	DirFromHost Direction = 0x80
	// DirUnsupported: the command is not recognised.
	DirUnsupported Direction = 0xFF
)

func (d Direction) String() string {
	switch d {
	case DirNone:
		return "none"
	case DirToHost:
		return "to-host"
	case DirFromHost:
		return "from-host"
	case DirUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("direction(0x%02X)", byte(d))
	}
}

// OpenArgs carries the open parameters derived from the OPEN frame.
type OpenArgs struct {
	Mode        OpenMode
	Translation Translation
	Aux1        byte
	Aux2        byte
}

// ArgsFromFrame derives OpenArgs from an OPEN command frame.
func ArgsFromFrame(f CommandFrame) OpenArgs {
	return OpenArgs{
		Mode:        OpenMode(f.Aux1),
		Translation: TranslationFromAux2(f.Aux2),
		Aux1:        f.Aux1,
		Aux2:        f.Aux2,
	}
}

// LongListing reports whether a directory listing should use long entries.
func (a OpenArgs) LongListing() bool {
	return a.Aux2&0x80 != 0
}

// Buffers are the per-channel byte buffers. They belong to the channel;
// the bound protocol borrows them for the duration of each call.
type Buffers struct {
	Receive  *bytes.Buffer // backend -> host
	Transmit *bytes.Buffer // host -> backend
	Special  *bytes.Buffer // scratch for special commands
}

// NewBuffers allocates an empty buffer set.
func NewBuffers() *Buffers {
	return &Buffers{
		Receive:  new(bytes.Buffer),
		Transmit: new(bytes.Buffer),
		Special:  new(bytes.Buffer),
	}
}

// Reset empties all three buffers.
func (b *Buffers) Reset() {
	b.Receive.Reset()
	b.Transmit.Reset()
	b.Special.Reset()
}

// Options are the per-protocol runtime settings supplied by the factory.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	// EOL is the host's end-of-line byte (0x9B on Atari, 0x0D elsewhere).
	EOL byte
	// MaxBytesWaiting caps the status bytes-waiting count.
	MaxBytesWaiting uint32
}

// DefaultOptions returns the options used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:  5 * time.Second,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		EOL:             0x0D,
		MaxBytesWaiting: netstatus.MaxBytesWaiting,
	}
}

// NetworkProtocol is implemented by every backend variant.
//
// Lifecycle:
//  1. Construction by the factory: no I/O, must not block
//  2. Credentials are injected through SetCredentials when the channel has a login
//  3. Open establishes the connection, file handle or mount
//  4. Read, Write, Status and special commands run one at a time
//  5. Close releases everything Open acquired
//
// Every returned error is a *netstatus.Error; backend errors are translated
// immediately after each backend call.
//
// Thread safety:
// The dispatcher serialises all calls for a channel. Implementations need
// no locking unless they run background goroutines of their own.
type NetworkProtocol interface {
	// Open establishes the underlying connection or file handle for url.
	// url has been validated by the caller.
	Open(ctx context.Context, url *devicespec.ParsedURL, args OpenArgs) error

	// Close releases all resources acquired by Open. It must be safe after a
	// partially failed Open and when called twice. Resources are released even
	// when the remote side reports an error; that error is returned for logging.
	Close(ctx context.Context) error

	// Read makes at least n bytes available in the receive buffer, blocking up
	// to the read timeout. On timeout it fails with SocketTimeout and leaves
	// whatever arrived in the buffer; the caller pads.
	Read(ctx context.Context, n int) error

	// Write consumes n bytes from the transmit buffer and sends them. A partial
	// send is a SocketTimeout error.
	Write(ctx context.Context, n int) error

	// Status fills st without blocking. It may refresh liveness with a
	// zero-timeout probe.
	Status(ctx context.Context, st *netstatus.NetworkStatus) error

	// SpecialInquiry reports the payload direction of a vendor command.
	// Unknown commands are DirUnsupported.
	SpecialInquiry(cmd byte) Direction

	// SpecialExecute runs a vendor command. For DirFromHost, payload is the
	// bus data; for DirToHost, the returned slice is sent to the bus.
	SpecialExecute(ctx context.Context, dir Direction, frame CommandFrame, payload []byte) ([]byte, error)
}

// CredentialSetter is implemented by protocols that accept a login.
type CredentialSetter interface {
	SetCredentials(login, password string)
}

// TranslationSetter is implemented by protocols whose EOL translation can
// change while open.
type TranslationSetter interface {
	SetTranslation(t Translation)
}

// FilesystemOps are the optional, idempotent filesystem commands. The
// dispatcher runs them on a temporary protocol instance. Each reports
// NotImplemented when the backend lacks support.
type FilesystemOps interface {
	Rename(ctx context.Context, url *devicespec.ParsedURL) error
	Delete(ctx context.Context, url *devicespec.ParsedURL) error
	Mkdir(ctx context.Context, url *devicespec.ParsedURL) error
	Rmdir(ctx context.Context, url *devicespec.ParsedURL) error
	Lock(ctx context.Context, url *devicespec.ParsedURL) error
	Unlock(ctx context.Context, url *devicespec.ParsedURL) error
}
