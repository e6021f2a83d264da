package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for bridge spans.
const (
	// ========================================================================
	// Bus attributes
	// ========================================================================
	AttrBusClient = "bus.client"
	AttrChannel   = "bus.channel"
	AttrCommand   = "bus.command"
	AttrAux1      = "bus.aux1"
	AttrAux2      = "bus.aux2"

	// ========================================================================
	// Protocol attributes
	// ========================================================================
	AttrScheme     = "protocol.scheme"
	AttrDeviceSpec = "protocol.devicespec"
	AttrHost       = "protocol.host"
	AttrPath       = "protocol.path"
	AttrOpenMode   = "protocol.open_mode"
	AttrDirection  = "protocol.direction"
	AttrSessionID  = "protocol.session_id"

	// ========================================================================
	// Result attributes
	// ========================================================================
	AttrErrorCode  = "result.error_code"
	AttrErrorName  = "result.error"
	AttrCount      = "io.count"
	AttrBytesRead  = "io.bytes_read"
	AttrBytesWrite = "io.bytes_written"
	AttrWaiting    = "io.bytes_waiting"
)

// Span names.
const (
	SpanOpen           = "bridge.open"
	SpanClose          = "bridge.close"
	SpanRead           = "bridge.read"
	SpanWrite          = "bridge.write"
	SpanStatus         = "bridge.status"
	SpanSpecialInquiry = "bridge.special_inquiry"
	SpanSpecialExecute = "bridge.special_execute"
	SpanBusRequest     = "bus.request"
)

// BusClient returns the remote address of a bus connection.
func BusClient(addr string) attribute.KeyValue {
	return attribute.String(AttrBusClient, addr)
}

// Channel returns the channel number attribute.
func Channel(n uint8) attribute.KeyValue {
	return attribute.Int(AttrChannel, int(n))
}

// Command returns the command byte attribute, formatted as hex.
func Command(cmd byte) attribute.KeyValue {
	return attribute.String(AttrCommand, fmt.Sprintf("0x%02X", cmd))
}

// Aux returns the aux1 and aux2 attributes.
func Aux(aux1, aux2 byte) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrAux1, int(aux1)),
		attribute.Int(AttrAux2, int(aux2)),
	}
}

// Scheme returns the URL scheme attribute.
func Scheme(s string) attribute.KeyValue {
	return attribute.String(AttrScheme, s)
}

// DeviceSpec returns the devicespec attribute. Callers pass a redacted spec.
func DeviceSpec(spec string) attribute.KeyValue {
	return attribute.String(AttrDeviceSpec, spec)
}

// Host returns the backend host attribute.
func Host(h string) attribute.KeyValue {
	return attribute.String(AttrHost, h)
}

// Path returns the backend path attribute.
func Path(p string) attribute.KeyValue {
	return attribute.String(AttrPath, p)
}

// OpenMode returns the open mode attribute.
func OpenMode(mode string) attribute.KeyValue {
	return attribute.String(AttrOpenMode, mode)
}

// Direction returns the special-command direction attribute.
func Direction(d string) attribute.KeyValue {
	return attribute.String(AttrDirection, d)
}

// SessionID returns the channel session attribute.
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// ErrorCode returns the numeric result code and its name.
func ErrorCode(code uint8, name string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrErrorCode, int(code)),
		attribute.String(AttrErrorName, name),
	}
}

// Count returns the requested byte count attribute.
func Count(n int) attribute.KeyValue {
	return attribute.Int(AttrCount, n)
}

// BytesRead returns the bytes read attribute.
func BytesRead(n int) attribute.KeyValue {
	return attribute.Int(AttrBytesRead, n)
}

// BytesWritten returns the bytes written attribute.
func BytesWritten(n int) attribute.KeyValue {
	return attribute.Int(AttrBytesWrite, n)
}

// BytesWaiting returns the status bytes-waiting attribute.
func BytesWaiting(n uint32) attribute.KeyValue {
	return attribute.Int64(AttrWaiting, int64(n))
}

// StartCommandSpan starts a span for a dispatcher command on channel.
func StartCommandSpan(ctx context.Context, name string, channel uint8, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Channel(channel)}, attrs...)
	return StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(allAttrs...),
	)
}

// StartBusSpan starts the root span of one bus frame.
func StartBusSpan(ctx context.Context, client string, opcode byte, channel uint8) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanBusRequest,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(BusClient(client), Command(opcode), Channel(channel)),
	)
}
