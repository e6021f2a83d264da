package udp

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

func peer(t *testing.T) net.PacketConn {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func readFrom(t *testing.T, pc net.PacketConn) (string, net.Addr) {
	t.Helper()
	buf := make([]byte, 1500)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, from, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	return string(buf[:n]), from
}

// loopback returns 127.0.0.1 on the port of a, which may be a wildcard
// address such as [::]:port.
func loopback(a net.Addr) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: a.(*net.UDPAddr).Port}
}

func testOptions() protocol.Options {
	opts := protocol.DefaultOptions()
	opts.ReadTimeout = 500 * time.Millisecond
	return opts
}

func TestDatagrams(t *testing.T) {
	ctx := context.Background()

	t.Run("SendAndReceive", func(t *testing.T) {
		srv := peer(t)
		bufs := protocol.NewBuffers()
		p := New(bufs, testOptions())
		require.NoError(t, p.Open(ctx, devicespec.Parse("UDP://"+srv.LocalAddr().String()), protocol.OpenArgs{}))
		defer p.Close(ctx)

		bufs.Transmit.WriteString("one")
		require.NoError(t, p.Write(ctx, 3))
		bufs.Transmit.WriteString("two")
		require.NoError(t, p.Write(ctx, 3))

		got, from := readFrom(t, srv)
		assert.Equal(t, "one", got)
		got, _ = readFrom(t, srv)
		assert.Equal(t, "two", got, "each write is one datagram")

		_, err := srv.WriteTo([]byte("ack"), from)
		require.NoError(t, err)
		require.NoError(t, p.Read(ctx, 3))
		assert.Equal(t, "ack", bufs.Receive.String())
	})

	t.Run("StatusDrainsPending", func(t *testing.T) {
		srv := peer(t)
		bufs := protocol.NewBuffers()
		p := New(bufs, testOptions())
		require.NoError(t, p.Open(ctx, devicespec.Parse("UDP://"+srv.LocalAddr().String()), protocol.OpenArgs{}))
		defer p.Close(ctx)

		_, err := srv.WriteTo([]byte("12345"), loopback(p.LocalAddr()))
		require.NoError(t, err)

		var st netstatus.NetworkStatus
		require.Eventually(t, func() bool {
			return p.Status(ctx, &st) == nil && st.BytesWaiting == 5
		}, 2*time.Second, 5*time.Millisecond)
		assert.True(t, st.Connected)
		assert.Equal(t, netstatus.Success, st.Error)
	})

	t.Run("ServerRepliesToLastSender", func(t *testing.T) {
		bufs := protocol.NewBuffers()
		p := New(bufs, testOptions())
		spare := peer(t)
		port := spare.LocalAddr().(*net.UDPAddr).Port
		require.NoError(t, spare.Close())
		require.NoError(t, p.Open(ctx, devicespec.Parse("UDP://:"+strconv.Itoa(port)), protocol.OpenArgs{}))
		defer p.Close(ctx)

		bufs.Transmit.WriteString("x")
		err := p.Write(ctx, 1)
		assert.Equal(t, netstatus.NotConnected, netstatus.CodeOf(err), "nobody to reply to yet")
		bufs.Transmit.Reset()

		client := peer(t)
		_, err = client.WriteTo([]byte("hi"), loopback(&net.UDPAddr{Port: port}))
		require.NoError(t, err)
		require.NoError(t, p.Read(ctx, 2))

		bufs.Transmit.WriteString("yo")
		require.NoError(t, p.Write(ctx, 2))
		got, _ := readFrom(t, client)
		assert.Equal(t, "yo", got)
	})

	t.Run("SetDestination", func(t *testing.T) {
		first, second := peer(t), peer(t)
		bufs := protocol.NewBuffers()
		p := New(bufs, testOptions())
		require.NoError(t, p.Open(ctx, devicespec.Parse("UDP://"+first.LocalAddr().String()), protocol.OpenArgs{}))
		defer p.Close(ctx)

		assert.Equal(t, protocol.DirFromHost, p.SpecialInquiry(CmdSetDestination))
		payload := append([]byte(second.LocalAddr().String()), 0, 0, 0)
		_, err := p.SpecialExecute(ctx, protocol.DirFromHost, protocol.CommandFrame{Command: CmdSetDestination}, payload)
		require.NoError(t, err)

		bufs.Transmit.WriteString("moved")
		require.NoError(t, p.Write(ctx, 5))
		got, _ := readFrom(t, second)
		assert.Equal(t, "moved", got)

		_, err = p.SpecialExecute(ctx, protocol.DirFromHost, protocol.CommandFrame{Command: CmdSetDestination}, []byte("nonsense"))
		assert.Equal(t, netstatus.InvalidDeviceSpec, netstatus.CodeOf(err))
	})

	t.Run("ReadTimeout", func(t *testing.T) {
		srv := peer(t)
		p := New(protocol.NewBuffers(), testOptions())
		require.NoError(t, p.Open(ctx, devicespec.Parse("UDP://"+srv.LocalAddr().String()), protocol.OpenArgs{}))
		defer p.Close(ctx)
		assert.Equal(t, netstatus.SocketTimeout, netstatus.CodeOf(p.Read(ctx, 1)))
	})

	t.Run("PortRequired", func(t *testing.T) {
		p := New(protocol.NewBuffers(), testOptions())
		err := p.Open(ctx, devicespec.Parse("UDP://host/"), protocol.OpenArgs{})
		assert.Equal(t, netstatus.InvalidDeviceSpec, netstatus.CodeOf(err))
	})
}
