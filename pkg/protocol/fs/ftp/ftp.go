// Package ftp is the FTP backend of the filesystem protocol.
package ftp

import (
	"context"
	"errors"
	"io"
	iofs "io/fs"
	"net/textproto"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
	"github.com/marmos91/netbridge/pkg/protocol/fs"
)

// DefaultPort is the FTP control port.
const DefaultPort = 21

// Config holds FTP backend settings.
type Config struct {
	// AnonymousPassword is sent with the "anonymous" login when the
	// channel has no credentials.
	AnonymousPassword string
	// DisableEPSV forces PASV for servers that mishandle EPSV.
	DisableEPSV bool
	Timeout     time.Duration
}

// Backend implements fs.Backend over one FTP control connection per mount.
type Backend struct {
	cfg  Config
	conn *ftp.ServerConn
}

// New creates an FTP backend.
func New(cfg Config) *Backend {
	if cfg.AnonymousPassword == "" {
		cfg.AnonymousPassword = "netbridge@"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Backend{cfg: cfg}
}

// Name implements fs.Backend.
func (b *Backend) Name() string { return "ftp" }

// credentials picks the login: URL user first, then the channel login,
// then anonymous.
func (b *Backend) credentials(u *devicespec.ParsedURL, creds fs.Credentials) (string, string) {
	switch {
	case u.User != "":
		return u.User, u.Password
	case creds.Login != "":
		return creds.Login, creds.Password
	default:
		return "anonymous", b.cfg.AnonymousPassword
	}
}

// Mount implements fs.Backend.
func (b *Backend) Mount(ctx context.Context, u *devicespec.ParsedURL, creds fs.Credentials) error {
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(b.cfg.Timeout),
	}
	if b.cfg.DisableEPSV {
		opts = append(opts, ftp.DialWithDisabledEPSV(true))
	}

	conn, err := ftp.Dial(u.HostPort(DefaultPort), opts...)
	if err != nil {
		return translate("connect", err)
	}

	user, pass := b.credentials(u, creds)
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return translate("login", err)
	}
	b.conn = conn
	logger.DebugCtx(ctx, "FTP session opened", logger.Host(u.Host), logger.KeyUser, user)
	return nil
}

// Unmount implements fs.Backend.
func (b *Backend) Unmount(context.Context) error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Quit()
	b.conn = nil
	return translate("quit", err)
}

func (b *Backend) session(op string) (*ftp.ServerConn, error) {
	if b.conn == nil {
		return nil, netstatus.ErrNotConnected(op)
	}
	return b.conn, nil
}

// Stat implements fs.Backend. FTP has no portable stat, so the entry is
// looked up in its parent's listing.
func (b *Backend) Stat(_ context.Context, p string) (fs.Entry, error) {
	c, err := b.session("stat")
	if err != nil {
		return fs.Entry{}, err
	}
	p = path.Clean("/" + p)
	if p == "/" {
		return fs.Entry{Name: "/", IsDir: true}, nil
	}

	entries, err := c.List(path.Dir(p))
	if err != nil {
		return fs.Entry{}, translate("stat", err)
	}
	name := path.Base(p)
	for _, e := range entries {
		if e.Name == name {
			return entryOf(e), nil
		}
	}
	return fs.Entry{}, netstatus.Wrap(netstatus.FileNotFound, "stat", iofs.ErrNotExist)
}

func entryOf(e *ftp.Entry) fs.Entry {
	return fs.Entry{
		Name:    e.Name,
		Size:    int64(e.Size),
		IsDir:   e.Type == ftp.EntryTypeFolder,
		ModTime: e.Time,
	}
}

// OpenDir implements fs.Backend.
func (b *Backend) OpenDir(_ context.Context, p string) (fs.DirIterator, error) {
	c, err := b.session("opendir")
	if err != nil {
		return nil, err
	}
	entries, err := c.List(p)
	if err != nil {
		return nil, translate("list", err)
	}
	it := &fs.SliceIterator{Entries: make([]fs.Entry, 0, len(entries))}
	for _, e := range entries {
		it.Entries = append(it.Entries, entryOf(e))
	}
	return it, nil
}

// OpenFile implements fs.Backend. Reads use RETR; writes stream into STOR
// (or APPE) through a pipe that completes on Close.
func (b *Backend) OpenFile(_ context.Context, p string, mode protocol.OpenMode) (fs.File, error) {
	c, err := b.session("open")
	if err != nil {
		return nil, err
	}

	switch mode {
	case protocol.ModeRead:
		resp, err := c.Retr(p)
		if err != nil {
			return nil, translate("retr", err)
		}
		return &reader{resp: resp}, nil

	case protocol.ModeWrite, protocol.ModePut, protocol.ModeAppend:
		pr, pw := io.Pipe()
		w := &writer{pw: pw, done: make(chan error, 1)}
		go func() {
			var err error
			if mode == protocol.ModeAppend {
				err = c.Append(p, pr)
			} else {
				err = c.Stor(p, pr)
			}
			_ = pr.CloseWithError(err)
			w.done <- err
		}()
		return w, nil

	default:
		return nil, netstatus.Errorf(netstatus.InvalidCommand, "open", "mode %s not supported by FTP", mode)
	}
}

type reader struct {
	resp *ftp.Response
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.resp.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, translate("read", err)
	}
	return n, err
}

func (r *reader) Write([]byte) (int, error) {
	return 0, netstatus.New(netstatus.ReadOnly, "write")
}

func (r *reader) Close() error {
	return translate("close", r.resp.Close())
}

type writer struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *writer) Read([]byte) (int, error) {
	return 0, netstatus.New(netstatus.WriteOnly, "read")
}

func (w *writer) Write(p []byte) (int, error) {
	n, err := w.pw.Write(p)
	if err != nil {
		return n, translate("write", err)
	}
	return n, nil
}

func (w *writer) Close() error {
	_ = w.pw.Close()
	return translate("stor", <-w.done)
}

// Rename implements fs.Renamer.
func (b *Backend) Rename(_ context.Context, from, to string) error {
	c, err := b.session("rename")
	if err != nil {
		return err
	}
	return translate("rename", c.Rename(from, to))
}

// Remove implements fs.Remover.
func (b *Backend) Remove(_ context.Context, p string) error {
	c, err := b.session("delete")
	if err != nil {
		return err
	}
	return translate("delete", c.Delete(p))
}

// Mkdir implements fs.DirMaker.
func (b *Backend) Mkdir(_ context.Context, p string) error {
	c, err := b.session("mkdir")
	if err != nil {
		return err
	}
	return translate("mkdir", c.MakeDir(p))
}

// Rmdir implements fs.DirRemover.
func (b *Backend) Rmdir(_ context.Context, p string) error {
	c, err := b.session("rmdir")
	if err != nil {
		return err
	}
	return translate("rmdir", c.RemoveDir(p))
}

// ============================================================================
// Reply code translation
// ============================================================================

// replyCodes maps FTP reply codes to the error taxonomy.
var replyCodes = map[int]netstatus.ErrorCode{
	421: netstatus.ServiceNotAvailable,       // service not available
	425: netstatus.ConnectionRefused,         // can't open data connection
	426: netstatus.ConnectionReset,           // transfer aborted
	430: netstatus.InvalidUsernameOrPassword, // invalid credentials
	450: netstatus.AccessDenied,              // file busy
	451: netstatus.GeneralFailure,            // local error
	452: netstatus.NoSpaceOnDevice,           // insufficient storage
	500: netstatus.InvalidCommand,
	501: netstatus.InvalidCommand,
	502: netstatus.NotImplemented,
	503: netstatus.InvalidCommand,
	504: netstatus.NotImplemented,
	530: netstatus.InvalidUsernameOrPassword, // not logged in
	532: netstatus.AccessDenied,              // need account for storing
	550: netstatus.FileNotFound,              // file unavailable
	551: netstatus.GeneralFailure,
	552: netstatus.NoSpaceOnDevice, // exceeded storage allocation
	553: netstatus.InvalidDeviceSpec,
}

// CodeForReply translates an FTP reply code.
func CodeForReply(code int) netstatus.ErrorCode {
	if c, ok := replyCodes[code]; ok {
		return c
	}
	if code >= 100 && code < 400 {
		return netstatus.Success
	}
	return netstatus.GeneralFailure
}

func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *textproto.Error
	if errors.As(err, &te) {
		code := CodeForReply(te.Code)
		if code == netstatus.FileNotFound && strings.Contains(strings.ToLower(te.Msg), "exist") &&
			!strings.Contains(strings.ToLower(te.Msg), "not") {
			code = netstatus.FileExists
		}
		return netstatus.Wrap(code, op, err)
	}
	return netstatus.FromNetError(op, err)
}
