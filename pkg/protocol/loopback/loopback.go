// Package loopback implements the TEST scheme: everything written is
// queued for reading. It needs no network and is used to exercise a bus
// driver end to end.
package loopback

import (
	"context"

	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// Protocol echoes writes back to reads.
type Protocol struct {
	protocol.Base
	open bool
}

var _ protocol.NetworkProtocol = (*Protocol)(nil)

// New creates a loopback protocol.
func New(bufs *protocol.Buffers, opts protocol.Options) *Protocol {
	return &Protocol{Base: protocol.NewBase(bufs, opts)}
}

// Open implements protocol.NetworkProtocol.
func (p *Protocol) Open(_ context.Context, _ *devicespec.ParsedURL, args protocol.OpenArgs) error {
	p.Translation = args.Translation
	p.open = true
	return nil
}

// Close implements protocol.NetworkProtocol.
func (p *Protocol) Close(context.Context) error {
	p.open = false
	return nil
}

// Read implements protocol.NetworkProtocol. Nothing more will ever arrive,
// so a short buffer is EndOfFile rather than a timeout.
func (p *Protocol) Read(_ context.Context, n int) error {
	if !p.open {
		return netstatus.ErrNotConnected("read")
	}
	if p.Bufs.Receive.Len() < n {
		return netstatus.ErrEOF("read")
	}
	return nil
}

// Write implements protocol.NetworkProtocol.
func (p *Protocol) Write(_ context.Context, n int) error {
	if !p.open {
		return netstatus.ErrNotConnected("write")
	}
	data, err := p.TakeTransmit(n)
	if err != nil {
		return err
	}
	p.PutReceive(data)
	return nil
}

// Status implements protocol.NetworkProtocol.
func (p *Protocol) Status(_ context.Context, st *netstatus.NetworkStatus) error {
	if !p.open {
		st.Reset()
		st.Error = netstatus.NotConnected
		return nil
	}
	st.SetWaiting(int64(p.Bufs.Receive.Len()), p.Opts.MaxBytesWaiting)
	st.Connected = true
	st.Error = netstatus.Success
	return nil
}
