package channel

import (
	"context"
	"testing"

	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/jsonmode"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopProtocol struct{ protocol.Base }

func (nopProtocol) Open(context.Context, *devicespec.ParsedURL, protocol.OpenArgs) error { return nil }
func (nopProtocol) Close(context.Context) error                                          { return nil }
func (nopProtocol) Read(context.Context, int) error                                      { return nil }
func (nopProtocol) Write(context.Context, int) error                                     { return nil }
func (nopProtocol) Status(context.Context, *netstatus.NetworkStatus) error               { return nil }

func TestBindUnbind(t *testing.T) {
	s := New(2)
	assert.False(t, s.Bound())
	assert.Equal(t, netstatus.Success, s.LastError)

	p := &nopProtocol{}
	s.Bind(p, "TEST")
	assert.True(t, s.Bound())
	assert.Equal(t, "TEST", s.Scheme)
	assert.NotEmpty(t, s.SessionID)
	first := s.SessionID

	got := s.Unbind()
	assert.Same(t, p, got)
	assert.False(t, s.Bound())
	assert.Empty(t, s.SessionID)
	assert.Nil(t, s.Unbind(), "second unbind returns nothing")

	s.Bind(p, "TEST")
	assert.NotEqual(t, first, s.SessionID, "each bind is a new session")
}

func TestResetKeepsPrefixAndLogin(t *testing.T) {
	s := New(0)
	s.Prefix = "TNFS://host/games/"
	s.SetCredentials("joe", "secret")
	s.Mode = ModeJSON
	s.Bufs.Receive.WriteString("data")
	s.Bufs.Transmit.WriteString("out")
	doc, err := jsonmode.Parse([]byte(`{"a":1}`))
	require.NoError(t, err)
	s.JSON = doc
	s.JSONResult.WriteString("1")

	s.Reset()

	assert.Equal(t, "TNFS://host/games/", s.Prefix)
	assert.Equal(t, "joe", s.Login)
	assert.Equal(t, ModeProtocol, s.Mode)
	assert.Zero(t, s.Bufs.Receive.Len())
	assert.Zero(t, s.Bufs.Transmit.Len())
	assert.Nil(t, s.JSON)
	assert.Zero(t, s.JSONResult.Len())
}

func TestSetCredentialsEmptyLoginClearsPassword(t *testing.T) {
	s := New(0)
	s.SetCredentials("joe", "secret")
	s.SetCredentials("", "ignored")
	assert.Empty(t, s.Login)
	assert.Empty(t, s.Password)
}

func TestSnapshotOmitsPassword(t *testing.T) {
	s := New(7)
	s.SetCredentials("joe", "secret")
	s.DeviceSpec = "N:TCP://h:23"
	s.Bind(&nopProtocol{}, "TCP")

	snap := s.Snapshot()
	assert.Equal(t, uint8(7), snap.Channel)
	assert.True(t, snap.Open)
	assert.Equal(t, "TCP", snap.Scheme)
	assert.Equal(t, "protocol", snap.Mode)
	assert.Equal(t, "Success", snap.LastError)
	assert.NotContains(t, snap.Login+snap.DeviceSpec+snap.Prefix, "secret")
}
