package bus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// Client drives a remote bus server. It implements Dispatcher, so tools
// written against a local dispatcher work unchanged over the wire.
//
// Requests are serialized: the wire carries one outstanding frame per
// connection.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	timeout time.Duration
}

var _ Dispatcher = (*Client)(nil)

// Dial connects to the bus server at addr. timeout bounds each round trip;
// 0 means none.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus server %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Shutdown closes the connection. Channels the server holds for this
// client stay open; Close them first.
func (c *Client) Shutdown() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(ctx context.Context, req *Request) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Time{}
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	if err := WriteRequest(c.conn, req); err != nil {
		return nil, netstatus.FromNetError("bus", err)
	}
	rep, err := ReadReply(c.conn, 0)
	if err != nil {
		return nil, netstatus.FromNetError("bus", err)
	}
	if rep.Channel != req.Channel || rep.Opcode != req.Opcode {
		return nil, netstatus.Errorf(netstatus.GeneralFailure, "bus",
			"reply for channel %d opcode 0x%02X, want channel %d opcode 0x%02X",
			rep.Channel, rep.Opcode, req.Channel, req.Opcode)
	}
	return rep, nil
}

// call runs req and turns an error reply into a *netstatus.Error.
func (c *Client) call(ctx context.Context, op string, req *Request) ([]byte, error) {
	rep, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if rep.Err {
		return rep.Payload, netstatus.New(rep.Code, op)
	}
	return rep.Payload, nil
}

// Open implements Dispatcher.
func (c *Client) Open(ctx context.Context, n uint8, frame protocol.CommandFrame, payload []byte) error {
	_, err := c.call(ctx, "open", &Request{Channel: n, Opcode: OpOpen, Aux1: frame.Aux1, Aux2: frame.Aux2, Payload: payload})
	return err
}

// Close implements Dispatcher.
func (c *Client) Close(ctx context.Context, n uint8) error {
	_, err := c.call(ctx, "close", &Request{Channel: n, Opcode: OpClose})
	return err
}

// Read implements Dispatcher. The reply is always count bytes long; use
// Status first to learn how many of them are data.
func (c *Client) Read(ctx context.Context, n uint8, count int) ([]byte, error) {
	if count < 0 || count > MaxPayload {
		return nil, netstatus.Errorf(netstatus.InvalidCommand, "read", "count %d out of range", count)
	}
	return c.call(ctx, "read", &Request{Channel: n, Opcode: OpRead, Aux1: byte(count), Aux2: byte(count >> 8)})
}

// Write implements Dispatcher.
func (c *Client) Write(ctx context.Context, n uint8, data []byte) error {
	_, err := c.call(ctx, "write", &Request{Channel: n, Opcode: OpWrite, Aux1: byte(len(data)), Aux2: byte(len(data) >> 8), Payload: data})
	return err
}

// Status implements Dispatcher.
func (c *Client) Status(ctx context.Context, n uint8) (netstatus.NetworkStatus, error) {
	payload, err := c.call(ctx, "status", &Request{Channel: n, Opcode: OpStatus})
	if len(payload) < netstatus.StatusSize {
		if err == nil {
			err = netstatus.Errorf(netstatus.GeneralFailure, "status", "short status reply: %d bytes", len(payload))
		}
		return netstatus.NetworkStatus{}, err
	}
	st, perr := netstatus.ParseStatus(payload)
	if perr != nil {
		return netstatus.NetworkStatus{}, netstatus.Wrap(netstatus.GeneralFailure, "status", perr)
	}
	return st, err
}

// SpecialInquiry implements Dispatcher. A transport failure reads as
// DirUnsupported.
func (c *Client) SpecialInquiry(ctx context.Context, n uint8, cmd byte) protocol.Direction {
	payload, err := c.call(ctx, "inquiry", &Request{Channel: n, Opcode: OpInquiry, Aux1: cmd})
	if err != nil || len(payload) < 1 {
		return protocol.DirUnsupported
	}
	return protocol.Direction(payload[0])
}

// SpecialExecute implements Dispatcher.
func (c *Client) SpecialExecute(ctx context.Context, n uint8, frame protocol.CommandFrame, payload []byte) ([]byte, error) {
	switch frame.Command {
	case OpOpen, OpClose, OpRead, OpWrite, OpStatus, OpInquiry:
		return nil, netstatus.Errorf(netstatus.InvalidCommand, "special", "command 0x%02X is a bus opcode", frame.Command)
	}
	return c.call(ctx, "special", &Request{Channel: n, Opcode: frame.Command, Aux1: frame.Aux1, Aux2: frame.Aux2, Payload: payload})
}
