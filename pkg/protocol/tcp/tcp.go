// Package tcp implements the TCP stream protocol. With a host in the URL
// it connects as a client; with an empty host it listens on the URL port
// and serves one client at a time.
package tcp

import (
	"context"
	"net"
	"strconv"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// Special commands.
const (
	CmdAccept      = 'A'
	CmdCloseClient = 'c'
)

// Protocol is a TCP connection, or a listener with at most one accepted
// client.
type Protocol struct {
	protocol.Base

	// DefaultPort is used when the URL has no port. Zero means the port is
	// required.
	DefaultPort int

	// OnConnect runs on every new connection before it is used. A returned
	// error fails the open (or the accept).
	OnConnect func(s *protocol.Stream) error

	// Encode, when set, transforms outgoing bytes after EOL translation.
	Encode func([]byte) []byte

	stream   *protocol.Stream
	listener net.Listener
	pending  chan net.Conn
	done     chan struct{}
}

var _ protocol.NetworkProtocol = (*Protocol)(nil)

// New creates a TCP protocol.
func New(bufs *protocol.Buffers, opts protocol.Options) *Protocol {
	return &Protocol{Base: protocol.NewBase(bufs, opts)}
}

// Open implements protocol.NetworkProtocol.
func (p *Protocol) Open(ctx context.Context, u *devicespec.ParsedURL, args protocol.OpenArgs) error {
	p.Translation = args.Translation
	port := u.PortNumber(p.DefaultPort)
	if port == 0 {
		return netstatus.Errorf(netstatus.InvalidDeviceSpec, "open", "no port in %s", u.Redacted())
	}

	if u.Host == "" {
		return p.listen(ctx, port)
	}

	d := net.Dialer{Timeout: p.Opts.ConnectTimeout}
	addr := net.JoinHostPort(u.Host, strconv.Itoa(port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return netstatus.FromNetError("connect", err)
	}
	if err := p.attach(conn); err != nil {
		return err
	}
	logger.DebugCtx(ctx, "TCP connected", logger.Host(u.Host), logger.KeyPort, port)
	return nil
}

func (p *Protocol) attach(conn net.Conn) error {
	s := protocol.NewStream(conn)
	if p.OnConnect != nil {
		if err := p.OnConnect(s); err != nil {
			_ = conn.Close()
			return netstatus.FromNetError("connect", err)
		}
	}
	p.stream = s
	return nil
}

func (p *Protocol) listen(ctx context.Context, port int) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return netstatus.FromNetError("listen", err)
	}
	p.listener = ln
	p.pending = make(chan net.Conn, 1)
	p.done = make(chan struct{})
	go p.acceptLoop(ln, p.pending, p.done)

	logger.DebugCtx(ctx, "TCP listening", logger.KeyListenAddr, ln.Addr().String())
	return nil
}

// acceptLoop hands connections to the channel one at a time.
func (p *Protocol) acceptLoop(ln net.Listener, pending chan<- net.Conn, done <-chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		select {
		case pending <- conn:
		case <-done:
			_ = conn.Close()
			return
		}
	}
}

// Listening reports whether the protocol is in server mode.
func (p *Protocol) Listening() bool {
	return p.listener != nil
}

// Addr returns the listener address in server mode.
func (p *Protocol) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Close implements protocol.NetworkProtocol.
func (p *Protocol) Close(context.Context) error {
	var err error
	if p.stream != nil {
		err = p.stream.Conn.Close()
		p.stream = nil
	}
	if p.listener != nil {
		close(p.done)
		_ = p.listener.Close()
		p.listener = nil
	drain:
		for {
			select {
			case c := <-p.pending:
				_ = c.Close()
			default:
				break drain
			}
		}
	}
	if err != nil {
		return netstatus.FromNetError("close", err)
	}
	return nil
}

// Read implements protocol.NetworkProtocol.
func (p *Protocol) Read(_ context.Context, n int) error {
	if p.stream == nil {
		return netstatus.ErrNotConnected("read")
	}
	return p.stream.Fill(n, p.Bufs.Receive.Len, p.PutReceive, p.Opts.ReadTimeout)
}

// Write implements protocol.NetworkProtocol.
func (p *Protocol) Write(_ context.Context, n int) error {
	if p.stream == nil {
		return netstatus.ErrNotConnected("write")
	}
	data, err := p.TakeTransmit(n)
	if err != nil {
		return err
	}
	if p.Encode != nil {
		data = p.Encode(data)
	}
	return p.stream.WriteAll(data, p.Opts.WriteTimeout)
}

// Status implements protocol.NetworkProtocol. A listener without a client
// reports connected while a client is waiting to be accepted.
func (p *Protocol) Status(_ context.Context, st *netstatus.NetworkStatus) error {
	if p.stream != nil {
		p.stream.Poll(p.PutReceive)
		protocol.StreamStatus(p.stream, p.Bufs.Receive, p.Opts.MaxBytesWaiting, st)
		return nil
	}
	if p.listener != nil {
		st.SetWaiting(0, p.Opts.MaxBytesWaiting)
		st.Connected = len(p.pending) > 0
		st.Error = netstatus.Success
		return nil
	}
	st.Reset()
	st.Error = netstatus.NotConnected
	return nil
}

// SpecialInquiry implements protocol.NetworkProtocol.
func (p *Protocol) SpecialInquiry(cmd byte) protocol.Direction {
	switch cmd {
	case CmdAccept, CmdCloseClient:
		return protocol.DirNone
	}
	return p.Base.SpecialInquiry(cmd)
}

// SpecialExecute implements protocol.NetworkProtocol.
func (p *Protocol) SpecialExecute(ctx context.Context, dir protocol.Direction, frame protocol.CommandFrame, payload []byte) ([]byte, error) {
	switch frame.Command {
	case CmdAccept:
		return nil, p.accept(ctx)
	case CmdCloseClient:
		if p.listener == nil {
			return nil, netstatus.New(netstatus.InvalidCommand, "close-client")
		}
		if p.stream != nil {
			_ = p.stream.Conn.Close()
			p.stream = nil
		}
		return nil, nil
	}
	return p.Base.SpecialExecute(ctx, dir, frame, payload)
}

func (p *Protocol) accept(ctx context.Context) error {
	if p.listener == nil {
		return netstatus.New(netstatus.InvalidCommand, "accept")
	}
	if p.stream != nil {
		return nil
	}
	select {
	case conn := <-p.pending:
		if err := p.attach(conn); err != nil {
			return err
		}
		logger.DebugCtx(ctx, "TCP client accepted", logger.ClientAddr(conn.RemoteAddr().String()))
		return nil
	default:
		return netstatus.ErrNotConnected("accept")
	}
}
