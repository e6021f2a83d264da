// Package factory maps URL schemes to protocol constructors.
//
// Construction performs no I/O: a Constructor only wires the channel's
// buffers and the configured settings into a fresh protocol value. The
// connection, mount or file handle is established later by Open.
package factory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/marmos91/netbridge/pkg/channel"
	"github.com/marmos91/netbridge/pkg/protocol"
	"github.com/marmos91/netbridge/pkg/protocol/fs"
	"github.com/marmos91/netbridge/pkg/protocol/fs/ftp"
	"github.com/marmos91/netbridge/pkg/protocol/fs/httpfs"
	"github.com/marmos91/netbridge/pkg/protocol/fs/local"
	"github.com/marmos91/netbridge/pkg/protocol/fs/nfs"
	"github.com/marmos91/netbridge/pkg/protocol/fs/s3"
	"github.com/marmos91/netbridge/pkg/protocol/fs/smb"
	"github.com/marmos91/netbridge/pkg/protocol/fs/tnfs"
	"github.com/marmos91/netbridge/pkg/protocol/loopback"
	"github.com/marmos91/netbridge/pkg/protocol/ssh"
	"github.com/marmos91/netbridge/pkg/protocol/tcp"
	"github.com/marmos91/netbridge/pkg/protocol/telnet"
	"github.com/marmos91/netbridge/pkg/protocol/udp"
)

// Constructor builds a protocol over the channel's buffers.
type Constructor func(bufs *protocol.Buffers, opts protocol.Options) protocol.NetworkProtocol

// Settings are the per-scheme settings handed to the default constructors.
type Settings struct {
	Options protocol.Options

	// SDRoot is the host directory served by the SD scheme. SDFs, when
	// set, is used instead.
	SDRoot string
	SDFs   afero.Fs

	TNFS   tnfs.Config
	FTP    ftp.Config
	HTTP   httpfs.Config
	SMB    smb.Config
	NFS    nfs.Config
	S3     s3.Config
	SSH    ssh.Config
	Telnet telnet.Config
}

// Factory is a scheme table. It is safe for concurrent use.
type Factory struct {
	mu    sync.RWMutex
	opts  protocol.Options
	table map[string]Constructor
}

// New creates an empty factory. opts are passed to every constructor.
func New(opts protocol.Options) *Factory {
	return &Factory{opts: opts, table: make(map[string]Constructor)}
}

// Register binds scheme (case-insensitive) to c. It fails if the scheme is
// already bound; use Replace to override a built-in.
func (f *Factory) Register(scheme string, c Constructor) error {
	return f.bind(scheme, c, false)
}

// Replace binds scheme to c whether or not it is already bound.
func (f *Factory) Replace(scheme string, c Constructor) error {
	return f.bind(scheme, c, true)
}

func (f *Factory) bind(scheme string, c Constructor, replace bool) error {
	if c == nil {
		return fmt.Errorf("cannot register nil constructor")
	}
	if scheme == "" {
		return fmt.Errorf("cannot register constructor with empty scheme")
	}

	key := strings.ToUpper(scheme)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.table[key]; exists && !replace {
		return fmt.Errorf("scheme %q already registered", key)
	}
	f.table[key] = c
	return nil
}

// Create builds the protocol for scheme over ch's buffers and, when the
// channel has a login, injects the credentials. It returns false for an
// unknown scheme.
func (f *Factory) Create(scheme string, ch *channel.State) (protocol.NetworkProtocol, bool) {
	f.mu.RLock()
	c, ok := f.table[strings.ToUpper(scheme)]
	f.mu.RUnlock()
	if !ok {
		return nil, false
	}

	p := c(ch.Bufs, f.opts)
	if ch.Login != "" {
		if cs, ok := p.(protocol.CredentialSetter); ok {
			cs.SetCredentials(ch.Login, ch.Password)
		}
	}
	return p, true
}

// Schemes returns the registered schemes in sorted order.
func (f *Factory) Schemes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, 0, len(f.table))
	for s := range f.table {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// NewDefault returns a factory with every built-in scheme registered.
func NewDefault(s Settings) *Factory {
	f := New(s.Options)

	if s.HTTP.EOL == 0 {
		s.HTTP.EOL = s.Options.EOL
	}

	sdFs := s.SDFs
	if sdFs == nil {
		sdFs = afero.NewBasePathFs(afero.NewOsFs(), s.SDRoot)
	}

	filesystem := func(backend func() fs.Backend) Constructor {
		return func(bufs *protocol.Buffers, opts protocol.Options) protocol.NetworkProtocol {
			return fs.New(bufs, opts, backend())
		}
	}

	builtins := map[string]Constructor{
		"TCP": func(bufs *protocol.Buffers, opts protocol.Options) protocol.NetworkProtocol {
			return tcp.New(bufs, opts)
		},
		"UDP": func(bufs *protocol.Buffers, opts protocol.Options) protocol.NetworkProtocol {
			return udp.New(bufs, opts)
		},
		"TEST": func(bufs *protocol.Buffers, opts protocol.Options) protocol.NetworkProtocol {
			return loopback.New(bufs, opts)
		},
		"TELNET": func(bufs *protocol.Buffers, opts protocol.Options) protocol.NetworkProtocol {
			return telnet.New(bufs, opts, s.Telnet)
		},
		"SSH": func(bufs *protocol.Buffers, opts protocol.Options) protocol.NetworkProtocol {
			return ssh.New(bufs, opts, s.SSH)
		},
		"TNFS":  filesystem(func() fs.Backend { return tnfs.New(s.TNFS) }),
		"FTP":   filesystem(func() fs.Backend { return ftp.New(s.FTP) }),
		"HTTP":  filesystem(func() fs.Backend { return httpfs.New(s.HTTP) }),
		"HTTPS": filesystem(func() fs.Backend { return httpfs.New(s.HTTP) }),
		"SMB":   filesystem(func() fs.Backend { return smb.New(s.SMB) }),
		"NFS":   filesystem(func() fs.Backend { return nfs.New(s.NFS) }),
		"S3":    filesystem(func() fs.Backend { return s3.New(s.S3) }),
		"SD":    filesystem(func() fs.Backend { return local.New(sdFs) }),
	}
	for scheme, c := range builtins {
		_ = f.Register(scheme, c)
	}
	return f
}
