// Package telnet is TCP with telnet option negotiation. The client agrees
// to the server echoing and suppressing go-ahead, answers terminal-type
// queries, and refuses every other option. Data bytes equal to IAC are
// doubled on the way out and undoubled on the way in.
package telnet

import (
	"bytes"
	"net"

	"github.com/marmos91/netbridge/pkg/protocol"
	"github.com/marmos91/netbridge/pkg/protocol/tcp"
)

// DefaultPort is the telnet port.
const DefaultPort = 23

// Telnet command bytes (RFC 854).
const (
	IAC  = 255
	DONT = 254
	DO   = 253
	WONT = 252
	WILL = 251
	SB   = 250
	SE   = 240
)

// Options (RFC 857, 858, 1091).
const (
	OptEcho  = 1
	OptSGA   = 3
	OptTType = 24
)

const (
	ttypeIs   = 0
	ttypeSend = 1
)

// Config selects the terminal type reported to the server.
type Config struct {
	TerminalType string
}

// Protocol is a telnet session over TCP.
type Protocol struct {
	*tcp.Protocol
	neg *negotiator
}

var _ protocol.NetworkProtocol = (*Protocol)(nil)

// New creates a telnet protocol.
func New(bufs *protocol.Buffers, opts protocol.Options, cfg Config) *Protocol {
	if cfg.TerminalType == "" {
		cfg.TerminalType = "dumb"
	}
	p := &Protocol{Protocol: tcp.New(bufs, opts), neg: &negotiator{ttype: cfg.TerminalType}}
	p.DefaultPort = DefaultPort
	p.Encode = Escape
	p.OnConnect = func(s *protocol.Stream) error {
		p.neg.reset(s.Conn)
		s.Filter = p.neg.filter
		return nil
	}
	return p
}

// Escape doubles IAC bytes in outgoing data.
func Escape(p []byte) []byte {
	if bytes.IndexByte(p, IAC) < 0 {
		return p
	}
	return bytes.ReplaceAll(p, []byte{IAC}, []byte{IAC, IAC})
}

type negState int

const (
	stData negState = iota
	stIAC
	stOption // after WILL/WONT/DO/DONT
	stSub
	stSubIAC
)

// negotiator strips telnet commands from the inbound stream and answers
// them. State survives across reads because a command can straddle two
// segments.
type negotiator struct {
	ttype string
	conn  net.Conn

	state negState
	verb  byte
	sub   []byte
}

func (n *negotiator) reset(conn net.Conn) {
	n.conn = conn
	n.state = stData
	n.sub = n.sub[:0]
}

func (n *negotiator) filter(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, c := range p {
		switch n.state {
		case stData:
			if c == IAC {
				n.state = stIAC
			} else {
				out = append(out, c)
			}
		case stIAC:
			switch c {
			case IAC:
				out = append(out, IAC)
				n.state = stData
			case WILL, WONT, DO, DONT:
				n.verb = c
				n.state = stOption
			case SB:
				n.sub = n.sub[:0]
				n.state = stSub
			default:
				n.state = stData
			}
		case stOption:
			n.answer(n.verb, c)
			n.state = stData
		case stSub:
			if c == IAC {
				n.state = stSubIAC
			} else {
				n.sub = append(n.sub, c)
			}
		case stSubIAC:
			switch c {
			case SE:
				n.subnegotiation(n.sub)
				n.state = stData
			case IAC:
				n.sub = append(n.sub, IAC)
				n.state = stSub
			default:
				n.state = stSub
			}
		}
	}
	return out
}

func (n *negotiator) answer(verb, opt byte) {
	switch verb {
	case WILL:
		if opt == OptEcho || opt == OptSGA {
			n.send(IAC, DO, opt)
		} else {
			n.send(IAC, DONT, opt)
		}
	case DO:
		if opt == OptTType {
			n.send(IAC, WILL, opt)
		} else {
			n.send(IAC, WONT, opt)
		}
	}
}

func (n *negotiator) subnegotiation(sub []byte) {
	if len(sub) >= 2 && sub[0] == OptTType && sub[1] == ttypeSend {
		msg := []byte{IAC, SB, OptTType, ttypeIs}
		msg = append(msg, n.ttype...)
		msg = append(msg, IAC, SE)
		n.send(msg...)
	}
}

func (n *negotiator) send(b ...byte) {
	if n.conn != nil {
		_, _ = n.conn.Write(b)
	}
}
