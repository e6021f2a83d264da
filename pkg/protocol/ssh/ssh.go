// Package ssh implements the SSH scheme: an interactive shell on a pseudo
// terminal. The channel login and password (or the URL userinfo) are the
// credentials; host keys are checked against a known_hosts file unless the
// configuration disables checking.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// DefaultPort is the SSH port.
const DefaultPort = 22

// Config holds the SSH client settings.
type Config struct {
	// KnownHostsFile defaults to ~/.ssh/known_hosts.
	KnownHostsFile string

	// InsecureIgnoreHostKey accepts any host key.
	InsecureIgnoreHostKey bool

	// Terminal type and size requested for the PTY.
	Term string
	Cols int
	Rows int
}

func (c Config) withDefaults() Config {
	if c.Term == "" {
		c.Term = "vt100"
	}
	if c.Cols <= 0 {
		c.Cols = 80
	}
	if c.Rows <= 0 {
		c.Rows = 24
	}
	return c
}

// Protocol is one shell session.
type Protocol struct {
	protocol.Base
	cfg Config

	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser

	mu      sync.Mutex
	pending bytes.Buffer
	ended   bool
	notify  chan struct{}
}

var _ protocol.NetworkProtocol = (*Protocol)(nil)

// New creates an SSH protocol.
func New(bufs *protocol.Buffers, opts protocol.Options, cfg Config) *Protocol {
	return &Protocol{Base: protocol.NewBase(bufs, opts), cfg: cfg.withDefaults()}
}

func (p *Protocol) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if p.cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec
	}
	path := strings.TrimSpace(p.cfg.KnownHostsFile)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

// Open implements protocol.NetworkProtocol.
func (p *Protocol) Open(ctx context.Context, u *devicespec.ParsedURL, args protocol.OpenArgs) error {
	p.Translation = args.Translation

	user, pass := p.Login, p.Password
	if u.User != "" {
		user, pass = u.User, u.Password
	}
	if user == "" {
		return netstatus.Errorf(netstatus.InvalidUsernameOrPassword, "open", "ssh needs a login")
	}

	hostKey, err := p.hostKeyCallback()
	if err != nil {
		return netstatus.Wrap(netstatus.GeneralFailure, "open", err)
	}

	cfg := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(pass),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pass
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         p.Opts.ConnectTimeout,
	}

	addr := u.HostPort(DefaultPort)
	d := net.Dialer{Timeout: p.Opts.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return netstatus.FromNetError("connect", err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return translate("handshake", err)
	}
	p.client = ssh.NewClient(clientConn, chans, reqs)

	if err := p.startShell(); err != nil {
		_ = p.Close(ctx)
		return translate("shell", err)
	}
	logger.DebugCtx(ctx, "SSH shell started", logger.Host(u.Host), logger.KeyUser, user)
	return nil
}

func (p *Protocol) startShell() error {
	session, err := p.client.NewSession()
	if err != nil {
		return err
	}
	p.session = session

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(p.cfg.Term, p.cfg.Rows, p.cfg.Cols, modes); err != nil {
		return fmt.Errorf("request pty: %w", err)
	}
	if p.stdin, err = session.StdinPipe(); err != nil {
		return err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return err
	}
	if err := session.Shell(); err != nil {
		return fmt.Errorf("start shell: %w", err)
	}

	p.mu.Lock()
	p.pending.Reset()
	p.ended = false
	p.notify = make(chan struct{}, 1)
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go p.pump(&wg, stdout)
	go p.pump(&wg, stderr)
	go func() {
		wg.Wait()
		_ = session.Wait()
		p.mu.Lock()
		p.ended = true
		p.mu.Unlock()
		p.signal()
	}()
	return nil
}

func (p *Protocol) pump(wg *sync.WaitGroup, r io.Reader) {
	defer wg.Done()
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.pending.Write(buf[:n])
			p.mu.Unlock()
			p.signal()
		}
		if err != nil {
			return
		}
	}
}

func (p *Protocol) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// drain moves output gathered by the pumps into the receive buffer.
func (p *Protocol) drain() (ended bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.Len() > 0 {
		p.PutReceive(p.pending.Bytes())
		p.pending.Reset()
	}
	return p.ended
}

// Close implements protocol.NetworkProtocol.
func (p *Protocol) Close(context.Context) error {
	if p.stdin != nil {
		_ = p.stdin.Close()
		p.stdin = nil
	}
	if p.session != nil {
		_ = p.session.Close()
		p.session = nil
	}
	var err error
	if p.client != nil {
		err = p.client.Close()
		p.client = nil
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return netstatus.FromNetError("close", err)
	}
	return nil
}

// Read implements protocol.NetworkProtocol.
func (p *Protocol) Read(ctx context.Context, n int) error {
	if p.session == nil {
		return netstatus.ErrNotConnected("read")
	}
	timer := time.NewTimer(p.Opts.ReadTimeout)
	defer timer.Stop()
	for {
		ended := p.drain()
		if p.Bufs.Receive.Len() >= n {
			return nil
		}
		if ended {
			return netstatus.ErrEOF("read")
		}
		select {
		case <-p.notify:
		case <-timer.C:
			return netstatus.New(netstatus.SocketTimeout, "read")
		case <-ctx.Done():
			return netstatus.FromNetError("read", ctx.Err())
		}
	}
}

// Write implements protocol.NetworkProtocol.
func (p *Protocol) Write(_ context.Context, n int) error {
	if p.stdin == nil {
		return netstatus.ErrNotConnected("write")
	}
	data, err := p.TakeTransmit(n)
	if err != nil {
		return err
	}
	if _, err := p.stdin.Write(data); err != nil {
		return netstatus.FromNetError("write", err)
	}
	return nil
}

// Status implements protocol.NetworkProtocol.
func (p *Protocol) Status(_ context.Context, st *netstatus.NetworkStatus) error {
	if p.session == nil {
		st.Reset()
		st.Error = netstatus.NotConnected
		return nil
	}
	ended := p.drain()
	st.SetWaiting(int64(p.Bufs.Receive.Len()), p.Opts.MaxBytesWaiting)
	st.Connected = !ended
	if st.Connected || p.Bufs.Receive.Len() > 0 {
		st.Error = netstatus.Success
	} else {
		st.Error = netstatus.EndOfFile
	}
	return nil
}

func translate(op string, err error) error {
	var keyErr *knownhosts.KeyError
	switch {
	case errors.As(err, &keyErr):
		return netstatus.Wrap(netstatus.AccessDenied, op, err)
	case strings.Contains(err.Error(), "unable to authenticate"):
		return netstatus.Wrap(netstatus.InvalidUsernameOrPassword, op, err)
	}
	return netstatus.FromNetError(op, err)
}
