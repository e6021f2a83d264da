package bus

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/internal/telemetry"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// connection serves the frames of one bus client.
type connection struct {
	server *Server
	conn   net.Conn
	addr   string
}

func (c *connection) serve(ctx context.Context) {
	ctx = logger.WithContext(ctx, logger.NewLogContext(c.addr))

	for {
		if ctx.Err() != nil {
			return
		}
		if idle := c.server.cfg.IdleTimeout; idle > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(idle))
		}

		req, err := ReadRequest(c.conn, c.server.cfg.MaxPayload)
		if err != nil {
			c.readFailed(ctx, err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Time{})

		rep := c.server.handle(ctx, c.addr, req)
		if err := WriteReply(c.conn, rep); err != nil {
			logger.DebugCtx(ctx, "Failed to write bus reply", logger.Err(err))
			return
		}
	}
}

// readFailed logs why the connection is going away. A malformed frame
// cannot be resynchronised, so every error ends the connection.
func (c *connection) readFailed(ctx context.Context, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), isClosed(err):
		logger.DebugCtx(ctx, "Bus client disconnected")
	case errors.As(err, &ne) && ne.Timeout():
		logger.DebugCtx(ctx, "Bus connection idle, closing")
	case errors.Is(err, ErrBadMagic), errors.Is(err, ErrBadVersion), errors.Is(err, ErrPayloadTooLarge):
		logger.WarnCtx(ctx, "Malformed bus frame", logger.Err(err))
	default:
		logger.DebugCtx(ctx, "Bus read failed", logger.Err(err))
	}
}

// handle runs one request against the dispatcher.
func (s *Server) handle(ctx context.Context, client string, req *Request) *Reply {
	ctx, span := telemetry.StartBusSpan(ctx, client, req.Opcode, req.Channel)
	defer span.End()

	d := s.d
	n := req.Channel
	rep := &Reply{Channel: n, Opcode: req.Opcode}

	var err error
	switch req.Opcode {
	case OpOpen:
		err = d.Open(ctx, n, req.Frame(), req.Payload)

	case OpClose:
		err = d.Close(ctx, n)

	case OpRead:
		var data []byte
		count := req.Length()
		data, err = d.Read(ctx, n, count)
		rep.Payload = pad(data, count)

	case OpWrite:
		err = d.Write(ctx, n, req.Payload)

	case OpStatus:
		var st netstatus.NetworkStatus
		st, err = d.Status(ctx, n)
		b := st.Bytes()
		rep.Payload = b[:]

	case OpInquiry:
		rep.Payload = []byte{byte(d.SpecialInquiry(ctx, n, req.Aux1))}

	default:
		rep.Payload, err = s.special(ctx, req)
	}

	rep.Code = netstatus.CodeOf(err)
	rep.Err = err != nil
	span.SetAttributes(telemetry.ErrorCode(uint8(rep.Code), rep.Code.String())...)
	return rep
}

func (s *Server) special(ctx context.Context, req *Request) ([]byte, error) {
	dir := s.d.SpecialInquiry(ctx, req.Channel, req.Opcode)
	if dir == protocol.DirUnsupported {
		return nil, netstatus.Errorf(netstatus.InvalidCommand, "special", "command 0x%02X not supported", req.Opcode)
	}
	out, err := s.d.SpecialExecute(ctx, req.Channel, req.Frame(), req.Payload)
	if dir != protocol.DirToHost {
		out = nil
	}
	return out, err
}

// pad extends data with zero bytes to n.
func pad(data []byte, n int) []byte {
	if len(data) >= n {
		return data
	}
	out := make([]byte, n)
	copy(out, data)
	return out
}
