// Package tnfs implements a TNFS client and the filesystem backend built on
// it. TNFS is a small UDP file protocol designed for 8-bit machines: every
// request is a single datagram carrying a session id, a sequence number and
// a command byte, and every reply echoes them followed by a status byte.
//
// Wire format (all integers little-endian):
//
//	request:  conn_id[2] seq[1] command[1] payload...
//	reply:    conn_id[2] seq[1] command[1] status[1] payload...
package tnfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/netbridge/pkg/netstatus"
)

// DefaultPort is the standard TNFS UDP port.
const DefaultPort = 16384

// Protocol version sent in MOUNT (1.2).
const (
	versionMinor = 0x02
	versionMajor = 0x01
)

// MaxIO is the largest READ/WRITE payload per datagram.
const MaxIO = 512

const (
	headerSize      = 4
	replyHeaderSize = 5
	maxDatagram     = 1024
)

// Command is a TNFS command byte.
type Command byte

const (
	CmdMount    Command = 0x00
	CmdUmount   Command = 0x01
	CmdOpenDir  Command = 0x10
	CmdReadDir  Command = 0x11
	CmdCloseDir Command = 0x12
	CmdMkdir    Command = 0x13
	CmdRmdir    Command = 0x14
	CmdRead     Command = 0x21
	CmdWrite    Command = 0x22
	CmdClose    Command = 0x23
	CmdStat     Command = 0x24
	CmdLseek    Command = 0x25
	CmdUnlink   Command = 0x26
	CmdChmod    Command = 0x27
	CmdRename   Command = 0x28
	CmdOpen     Command = 0x29
)

func (c Command) String() string {
	switch c {
	case CmdMount:
		return "MOUNT"
	case CmdUmount:
		return "UMOUNT"
	case CmdOpenDir:
		return "OPENDIR"
	case CmdReadDir:
		return "READDIR"
	case CmdCloseDir:
		return "CLOSEDIR"
	case CmdMkdir:
		return "MKDIR"
	case CmdRmdir:
		return "RMDIR"
	case CmdRead:
		return "READ"
	case CmdWrite:
		return "WRITE"
	case CmdClose:
		return "CLOSE"
	case CmdStat:
		return "STAT"
	case CmdLseek:
		return "LSEEK"
	case CmdUnlink:
		return "UNLINK"
	case CmdChmod:
		return "CHMOD"
	case CmdRename:
		return "RENAME"
	case CmdOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("CMD(0x%02X)", byte(c))
	}
}

// Open flags.
const (
	OpenRead   uint16 = 0x0001
	OpenWrite  uint16 = 0x0002
	OpenRDWR   uint16 = 0x0003
	OpenAppend uint16 = 0x0008
	OpenCreate uint16 = 0x0100
	OpenTrunc  uint16 = 0x0200
	OpenExcl   uint16 = 0x0400
)

// File type bits of the STAT mode field.
const (
	modeTypeMask uint16 = 0o170000
	modeDir      uint16 = 0o040000
)

// Status is the TNFS result byte.
type Status byte

const (
	StatusOK            Status = 0x00
	StatusPerm          Status = 0x01
	StatusNoEnt         Status = 0x02
	StatusIO            Status = 0x03
	StatusNXIO          Status = 0x04
	StatusTooBig        Status = 0x05
	StatusBadF          Status = 0x06
	StatusAgain         Status = 0x07
	StatusNoMem         Status = 0x08
	StatusAccess        Status = 0x09
	StatusBusy          Status = 0x0A
	StatusExist         Status = 0x0B
	StatusNotDir        Status = 0x0C
	StatusIsDir         Status = 0x0D
	StatusInval         Status = 0x0E
	StatusNFile         Status = 0x0F
	StatusMFile         Status = 0x10
	StatusFBig          Status = 0x11
	StatusNoSpace       Status = 0x12
	StatusSPipe         Status = 0x13
	StatusROFS          Status = 0x14
	StatusNameTooLong   Status = 0x15
	StatusNoSys         Status = 0x16
	StatusNotEmpty      Status = 0x17
	StatusLoop          Status = 0x18
	StatusNoData        Status = 0x19
	StatusNoStr         Status = 0x1A
	StatusProto         Status = 0x1B
	StatusBadFD         Status = 0x1C
	StatusUsers         Status = 0x1D
	StatusNoBufs        Status = 0x1E
	StatusAlready       Status = 0x1F
	StatusStale         Status = 0x20
	StatusEOF           Status = 0x21
	StatusInvalidHandle Status = 0xFF
)

var statusCodes = map[Status]netstatus.ErrorCode{
	StatusPerm:          netstatus.AccessDenied,
	StatusNoEnt:         netstatus.FileNotFound,
	StatusIO:            netstatus.GeneralFailure,
	StatusNXIO:          netstatus.InvalidDeviceSpec,
	StatusBadF:          netstatus.NotConnected,
	StatusAgain:         netstatus.SocketTimeout,
	StatusNoMem:         netstatus.CouldNotAllocateBuffers,
	StatusAccess:        netstatus.AccessDenied,
	StatusBusy:          netstatus.AccessDenied,
	StatusExist:         netstatus.FileExists,
	StatusNotDir:        netstatus.NotADirectory,
	StatusIsDir:         netstatus.AccessDenied,
	StatusInval:         netstatus.InvalidCommand,
	StatusNFile:         netstatus.CouldNotAllocateBuffers,
	StatusMFile:         netstatus.CouldNotAllocateBuffers,
	StatusFBig:          netstatus.NoSpaceOnDevice,
	StatusNoSpace:       netstatus.NoSpaceOnDevice,
	StatusROFS:          netstatus.ReadOnly,
	StatusNameTooLong:   netstatus.InvalidDeviceSpec,
	StatusNoSys:         netstatus.NotImplemented,
	StatusNotEmpty:      netstatus.AccessDenied,
	StatusStale:         netstatus.NotConnected,
	StatusEOF:           netstatus.EndOfFile,
	StatusInvalidHandle: netstatus.NotConnected,
}

// Code translates a TNFS status to the bridge error taxonomy.
func (s Status) Code() netstatus.ErrorCode {
	if s == StatusOK {
		return netstatus.Success
	}
	if c, ok := statusCodes[s]; ok {
		return c
	}
	return netstatus.GeneralFailure
}

// StatusError is returned when the server answers with a non-OK status.
type StatusError struct {
	Command Command
	Status  Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tnfs %s: status 0x%02X", e.Command, byte(e.Status))
}

// translate converts a client error to a *netstatus.Error.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) {
		return netstatus.Wrap(se.Status.Code(), op, err)
	}
	return netstatus.FromNetError(op, err)
}

// ============================================================================
// Encoding
// ============================================================================

// header is the fixed part of every datagram.
type header struct {
	ConnID  uint16
	Seq     uint8
	Command Command
}

func encodeRequest(h header, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], h.ConnID)
	buf[2] = h.Seq
	buf[3] = byte(h.Command)
	copy(buf[headerSize:], payload)
	return buf
}

// decodeReply splits a reply datagram into header, status and payload.
func decodeReply(b []byte) (header, Status, []byte, error) {
	if len(b) < replyHeaderSize {
		return header{}, 0, nil, fmt.Errorf("tnfs: short reply (%d bytes)", len(b))
	}
	h := header{
		ConnID:  binary.LittleEndian.Uint16(b[0:2]),
		Seq:     b[2],
		Command: Command(b[3]),
	}
	return h, Status(b[4]), b[replyHeaderSize:], nil
}

// payloadWriter builds request payloads.
type payloadWriter struct {
	bytes.Buffer
}

func (w *payloadWriter) u8(v byte) *payloadWriter {
	w.WriteByte(v)
	return w
}

func (w *payloadWriter) u16(v uint16) *payloadWriter {
	_ = binary.Write(&w.Buffer, binary.LittleEndian, v)
	return w
}

func (w *payloadWriter) u32(v uint32) *payloadWriter {
	_ = binary.Write(&w.Buffer, binary.LittleEndian, v)
	return w
}

func (w *payloadWriter) str(s string) *payloadWriter {
	w.WriteString(s)
	w.WriteByte(0)
	return w
}

// payloadReader decodes reply payloads. The first short read sets err and
// every later call returns zero values.
type payloadReader struct {
	b   []byte
	err error
}

func (r *payloadReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.b) < n {
		r.err = fmt.Errorf("tnfs: truncated reply payload")
		return false
	}
	return true
}

func (r *payloadReader) u8() byte {
	if !r.need(1) {
		return 0
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v
}

func (r *payloadReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.b)
	r.b = r.b[2:]
	return v
}

func (r *payloadReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.b)
	r.b = r.b[4:]
	return v
}

func (r *payloadReader) str() string {
	if r.err != nil {
		return ""
	}
	i := bytes.IndexByte(r.b, 0)
	if i < 0 {
		s := string(r.b)
		r.b = nil
		return s
	}
	s := string(r.b[:i])
	r.b = r.b[i+1:]
	return s
}

func (r *payloadReader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.b[:n]
	r.b = r.b[n:]
	return v
}

// FileInfo is a decoded STAT reply.
type FileInfo struct {
	Mode  uint16
	UID   uint16
	GID   uint16
	Size  uint32
	ATime time.Time
	MTime time.Time
	CTime time.Time
}

// IsDir reports whether the mode describes a directory.
func (fi FileInfo) IsDir() bool {
	return fi.Mode&modeTypeMask == modeDir
}

// ReadOnly reports whether no write bit is set.
func (fi FileInfo) ReadOnly() bool {
	return fi.Mode&0o222 == 0
}

func decodeStat(b []byte) (FileInfo, error) {
	r := &payloadReader{b: b}
	fi := FileInfo{
		Mode: r.u16(),
		UID:  r.u16(),
		GID:  r.u16(),
		Size: r.u32(),
	}
	fi.ATime = time.Unix(int64(r.u32()), 0)
	fi.MTime = time.Unix(int64(r.u32()), 0)
	fi.CTime = time.Unix(int64(r.u32()), 0)
	return fi, r.err
}
