package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys. Use these consistently so channel activity can be
// queried across the dispatcher, the protocols and the bus server.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Channel & Command
	// ========================================================================
	KeyChannel     = "channel"      // Logical channel number (0-15)
	KeyCommand     = "command"      // Bus command: OPEN, CLOSE, READ, WRITE, STATUS, SPECIAL
	KeyOpcode      = "opcode"       // Raw command byte, hex
	KeyAux1        = "aux1"         // First aux byte (open mode for OPEN)
	KeyAux2        = "aux2"         // Second aux byte (translation/sub-selector)
	KeyDirection   = "direction"    // Special command payload direction
	KeyChannelMode = "channel_mode" // protocol or json
	KeyDeviceSpec  = "devicespec"   // Raw devicespec as received
	KeyPrefix      = "prefix"       // Channel prefix

	// ========================================================================
	// Protocol & Backend
	// ========================================================================
	KeyScheme  = "scheme"   // Uppercased URL scheme: TNFS, HTTP, ...
	KeyHost    = "host"     // Remote host
	KeyPort    = "port"     // Remote port
	KeyURL     = "url"      // Resolved URL (credentials redacted)
	KeyMode    = "mode"     // Open mode
	KeyBackend = "backend"  // Backend name for filesystem protocols
	KeyShare   = "share"    // SMB share / NFS export
	KeyBucket  = "bucket"   // S3 bucket
	KeyKey     = "key"      // S3 object key
	KeyRegion  = "region"   // S3 region
	KeyUser    = "username" // Login name (never the password)

	// ========================================================================
	// File System Operations
	// ========================================================================
	KeyPath     = "path"
	KeyFilename = "filename"
	KeyOldPath  = "old_path"
	KeyNewPath  = "new_path"
	KeySize     = "size"
	KeyEntries  = "entries" // Number of directory entries
	KeyPattern  = "pattern" // Directory listing filter

	// ========================================================================
	// I/O
	// ========================================================================
	KeyCount        = "count"
	KeyBytesRead    = "bytes_read"
	KeyBytesWritten = "bytes_written"
	KeyBytesWaiting = "bytes_waiting"
	KeyConnected    = "connected"
	KeyEOF          = "eof"

	// ========================================================================
	// Session & Connection
	// ========================================================================
	KeySessionID  = "session_id"
	KeyClientAddr = "client_addr"
	KeyListenAddr = "listen_addr"
	KeyRequestID  = "request_id"      // RPC xid, TNFS sequence number
	KeyHTTPReqID  = "http_request_id" // chi request id
	KeyAttempt    = "attempt"         // Wire-level retransmission attempt

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code" // Bridge error code (decimal)
	KeyErrorName  = "error_name"
	KeyOperation  = "operation"
)

// ============================================================================
// Field constructors
// ============================================================================

// Channel returns a slog.Attr for a channel number
func Channel(n uint8) slog.Attr {
	return slog.Int(KeyChannel, int(n))
}

// Command returns a slog.Attr for a bus command name
func Command(name string) slog.Attr {
	return slog.String(KeyCommand, name)
}

// Opcode returns a slog.Attr for a raw command byte
func Opcode(b byte) slog.Attr {
	return slog.String(KeyOpcode, fmt.Sprintf("0x%02X", b))
}

// Aux returns the aux1/aux2 pair as two attrs.
func Aux(aux1, aux2 byte) []any {
	return []any{slog.Int(KeyAux1, int(aux1)), slog.Int(KeyAux2, int(aux2))}
}

// DeviceSpec returns a slog.Attr for a raw devicespec
func DeviceSpec(s string) slog.Attr {
	return slog.String(KeyDeviceSpec, s)
}

// Prefix returns a slog.Attr for a channel prefix
func Prefix(p string) slog.Attr {
	return slog.String(KeyPrefix, p)
}

// Scheme returns a slog.Attr for a URL scheme
func Scheme(s string) slog.Attr {
	return slog.String(KeyScheme, s)
}

// Host returns a slog.Attr for a remote host
func Host(h string) slog.Attr {
	return slog.String(KeyHost, h)
}

// URL returns a slog.Attr for a resolved URL. Callers pass the redacted form.
func URL(u string) slog.Attr {
	return slog.String(KeyURL, u)
}

// Path returns a slog.Attr for file/directory path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Filename returns a slog.Attr for a file name
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Size returns a slog.Attr for a size in bytes
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// Count returns a slog.Attr for a requested byte count
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// BytesRead returns a slog.Attr for actual bytes read
func BytesRead(n int) slog.Attr {
	return slog.Int(KeyBytesRead, n)
}

// BytesWritten returns a slog.Attr for actual bytes written
func BytesWritten(n int) slog.Attr {
	return slog.Int(KeyBytesWritten, n)
}

// ClientAddr returns a slog.Attr for a bus client address
func ClientAddr(addr string) slog.Attr {
	return slog.String(KeyClientAddr, addr)
}

// SessionID returns a slog.Attr for a session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// RequestID returns a slog.Attr for a wire request id
func RequestID(id uint32) slog.Attr {
	return slog.Any(KeyRequestID, id)
}

// HTTPRequestID returns a slog.Attr for an API request id
func HTTPRequestID(id string) slog.Attr {
	return slog.String(KeyHTTPReqID, id)
}

// Attempt returns a slog.Attr for a retransmission attempt
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Operation returns a slog.Attr for a sub-operation
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}
