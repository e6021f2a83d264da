// Package udp implements the datagram protocol. Each Write sends one
// datagram to the current destination; received datagrams are appended to
// the receive buffer in arrival order.
package udp

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// CmdSetDestination changes the destination; payload "host:port".
const CmdSetDestination = 'D'

const (
	maxDatagram = 65507
	pollTimeout = time.Millisecond
)

// Protocol is a UDP socket with a current destination.
type Protocol struct {
	protocol.Base

	conn net.PacketConn
	dest net.Addr
	// last is the sender of the most recent datagram. Without an explicit
	// destination, replies go there.
	last net.Addr
	buf  []byte
}

var _ protocol.NetworkProtocol = (*Protocol)(nil)

// New creates a UDP protocol.
func New(bufs *protocol.Buffers, opts protocol.Options) *Protocol {
	return &Protocol{Base: protocol.NewBase(bufs, opts)}
}

// Open implements protocol.NetworkProtocol. "UDP://host:port" binds an
// ephemeral port and sends to host:port; "UDP://:port" binds port and
// replies to whoever sent last.
func (p *Protocol) Open(ctx context.Context, u *devicespec.ParsedURL, args protocol.OpenArgs) error {
	p.Translation = args.Translation
	port := u.PortNumber(0)
	if port == 0 {
		return netstatus.Errorf(netstatus.InvalidDeviceSpec, "open", "no port in %s", u.Redacted())
	}

	local := ":0"
	if u.Host == "" {
		local = ":" + strconv.Itoa(port)
	}
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", local)
	if err != nil {
		return netstatus.FromNetError("bind", err)
	}

	if u.Host != "" {
		dest, err := net.ResolveUDPAddr("udp", net.JoinHostPort(u.Host, strconv.Itoa(port)))
		if err != nil {
			_ = conn.Close()
			return netstatus.FromNetError("resolve", err)
		}
		p.dest = dest
	}
	p.conn = conn
	p.buf = make([]byte, maxDatagram)
	logger.DebugCtx(ctx, "UDP socket bound", logger.KeyListenAddr, conn.LocalAddr().String())
	return nil
}

// LocalAddr returns the bound address.
func (p *Protocol) LocalAddr() net.Addr {
	if p.conn == nil {
		return nil
	}
	return p.conn.LocalAddr()
}

// Close implements protocol.NetworkProtocol.
func (p *Protocol) Close(context.Context) error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.dest, p.last = nil, nil, nil
	return netstatus.FromNetError("close", err)
}

// receive reads one datagram, waiting until deadline.
func (p *Protocol) receive(deadline time.Time) error {
	_ = p.conn.SetReadDeadline(deadline)
	n, from, err := p.conn.ReadFrom(p.buf)
	if err != nil {
		return err
	}
	p.last = from
	p.PutReceive(p.buf[:n])
	return nil
}

// Read implements protocol.NetworkProtocol.
func (p *Protocol) Read(_ context.Context, n int) error {
	if p.conn == nil {
		return netstatus.ErrNotConnected("read")
	}
	deadline := time.Now().Add(p.Opts.ReadTimeout)
	for p.Bufs.Receive.Len() < n {
		if err := p.receive(deadline); err != nil {
			return netstatus.FromNetError("read", err)
		}
	}
	return nil
}

// Write implements protocol.NetworkProtocol.
func (p *Protocol) Write(_ context.Context, n int) error {
	if p.conn == nil {
		return netstatus.ErrNotConnected("write")
	}
	dest := p.dest
	if dest == nil {
		dest = p.last
	}
	if dest == nil {
		return netstatus.Errorf(netstatus.NotConnected, "write", "no destination")
	}
	data, err := p.TakeTransmit(n)
	if err != nil {
		return err
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.Opts.WriteTimeout))
	if _, err := p.conn.WriteTo(data, dest); err != nil {
		return netstatus.FromNetError("write", err)
	}
	return nil
}

// Status implements protocol.NetworkProtocol. Pending datagrams are drained
// without blocking.
func (p *Protocol) Status(_ context.Context, st *netstatus.NetworkStatus) error {
	if p.conn == nil {
		st.Reset()
		st.Error = netstatus.NotConnected
		return nil
	}
	for {
		err := p.receive(time.Now().Add(pollTimeout))
		if err != nil {
			var ne net.Error
			if !errors.As(err, &ne) || !ne.Timeout() {
				logger.Debug("UDP poll failed", logger.Err(err))
			}
			break
		}
	}
	st.SetWaiting(int64(p.Bufs.Receive.Len()), p.Opts.MaxBytesWaiting)
	st.Connected = true
	st.Error = netstatus.Success
	return nil
}

// SpecialInquiry implements protocol.NetworkProtocol.
func (p *Protocol) SpecialInquiry(cmd byte) protocol.Direction {
	if cmd == CmdSetDestination {
		return protocol.DirFromHost
	}
	return p.Base.SpecialInquiry(cmd)
}

// SpecialExecute implements protocol.NetworkProtocol.
func (p *Protocol) SpecialExecute(ctx context.Context, dir protocol.Direction, frame protocol.CommandFrame, payload []byte) ([]byte, error) {
	if frame.Command != CmdSetDestination {
		return p.Base.SpecialExecute(ctx, dir, frame, payload)
	}
	target := devicespec.FromPayload(payload)
	dest, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, netstatus.Wrap(netstatus.InvalidDeviceSpec, "set-destination", err)
	}
	p.dest = dest
	logger.DebugCtx(ctx, "UDP destination set", logger.Host(dest.String()))
	return nil, nil
}
