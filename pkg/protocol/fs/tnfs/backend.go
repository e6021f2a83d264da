package tnfs

import (
	"context"
	"io"
	"path"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
	"github.com/marmos91/netbridge/pkg/protocol/fs"
)

// Backend implements fs.Backend over a TNFS session. Every Mount opens a
// fresh session against the server root; paths are sent verbatim.
type Backend struct {
	cfg    Config
	client *Client
}

// New creates a TNFS backend.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg.withDefaults()}
}

// Name implements fs.Backend.
func (b *Backend) Name() string { return "tnfs" }

// Mount implements fs.Backend. URL credentials take precedence over the
// channel login.
func (b *Backend) Mount(ctx context.Context, u *devicespec.ParsedURL, creds fs.Credentials) error {
	user, pass := creds.Login, creds.Password
	if u.User != "" {
		user, pass = u.User, u.Password
	}

	c, err := Dial(ctx, u.HostPort(DefaultPort), b.cfg)
	if err != nil {
		return translate("mount", err)
	}
	if err := c.Mount(ctx, "/", user, pass); err != nil {
		_ = c.Close()
		return translate("mount", err)
	}
	b.client = c
	logger.DebugCtx(ctx, "TNFS session opened", logger.Host(u.Host), "conn_id", c.ConnID())
	return nil
}

// Unmount implements fs.Backend.
func (b *Backend) Unmount(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	c := b.client
	b.client = nil
	err := c.Umount(ctx)
	_ = c.Close()
	return translate("unmount", err)
}

func (b *Backend) session(op string) (*Client, error) {
	if b.client == nil {
		return nil, netstatus.ErrNotConnected(op)
	}
	return b.client, nil
}

// Stat implements fs.Backend.
func (b *Backend) Stat(ctx context.Context, p string) (fs.Entry, error) {
	c, err := b.session("stat")
	if err != nil {
		return fs.Entry{}, err
	}
	fi, err := c.Stat(ctx, p)
	if err != nil {
		return fs.Entry{}, translate("stat", err)
	}
	return entryOf(path.Base(p), fi), nil
}

func entryOf(name string, fi FileInfo) fs.Entry {
	return fs.Entry{
		Name:    name,
		Size:    int64(fi.Size),
		IsDir:   fi.IsDir(),
		Locked:  fi.ReadOnly(),
		ModTime: fi.MTime,
	}
}

// OpenDir implements fs.Backend. Each entry is stat'ed as it is read.
func (b *Backend) OpenDir(ctx context.Context, p string) (fs.DirIterator, error) {
	c, err := b.session("opendir")
	if err != nil {
		return nil, err
	}
	dir := path.Clean("/" + p)
	h, err := c.OpenDir(ctx, dir)
	if err != nil {
		return nil, translate("opendir", err)
	}
	return &dirIterator{client: c, handle: h, dir: dir}, nil
}

type dirIterator struct {
	client *Client
	handle byte
	dir    string
}

func (it *dirIterator) Next(ctx context.Context) (fs.Entry, error) {
	name, err := it.client.ReadDir(ctx, it.handle)
	if err == io.EOF {
		return fs.Entry{}, io.EOF
	}
	if err != nil {
		return fs.Entry{}, translate("readdir", err)
	}
	if name == "." || name == ".." {
		return fs.Entry{Name: name, IsDir: true}, nil
	}
	fi, err := it.client.Stat(ctx, path.Join(it.dir, name))
	if err != nil {
		return fs.Entry{}, translate("stat", err)
	}
	return entryOf(name, fi), nil
}

func (it *dirIterator) Close() error {
	return translate("closedir", it.client.CloseDir(context.Background(), it.handle))
}

// OpenFile implements fs.Backend.
func (b *Backend) OpenFile(ctx context.Context, p string, mode protocol.OpenMode) (fs.File, error) {
	c, err := b.session("open")
	if err != nil {
		return nil, err
	}

	var flags uint16
	switch mode {
	case protocol.ModeRead:
		flags = OpenRead
	case protocol.ModeWrite, protocol.ModePut:
		flags = OpenWrite | OpenCreate | OpenTrunc
	case protocol.ModeAppend:
		flags = OpenWrite | OpenCreate | OpenAppend
	case protocol.ModeReadWrite:
		flags = OpenRDWR | OpenCreate
	default:
		return nil, netstatus.Errorf(netstatus.InvalidCommand, "open", "mode %s not supported by TNFS", mode)
	}

	fd, err := c.Open(ctx, p, flags, 0o644)
	if err != nil {
		return nil, translate("open", err)
	}
	return &file{client: c, fd: fd}, nil
}

// file is an open TNFS descriptor. Reads and writes are split into MaxIO
// datagrams.
type file struct {
	client *Client
	fd     byte
}

func (f *file) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data, err := f.client.Read(context.Background(), f.fd, len(p))
	if err == io.EOF {
		return 0, io.EOF
	}
	if err != nil {
		return 0, translate("read", err)
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (f *file) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n, err := f.client.Write(context.Background(), f.fd, p)
		total += n
		if err != nil {
			return total, translate("write", err)
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
		p = p[n:]
	}
	return total, nil
}

func (f *file) Close() error {
	return translate("close", f.client.CloseFile(context.Background(), f.fd))
}

// Rename implements fs.Renamer.
func (b *Backend) Rename(ctx context.Context, from, to string) error {
	c, err := b.session("rename")
	if err != nil {
		return err
	}
	return translate("rename", c.Rename(ctx, from, to))
}

// Remove implements fs.Remover.
func (b *Backend) Remove(ctx context.Context, p string) error {
	c, err := b.session("delete")
	if err != nil {
		return err
	}
	return translate("delete", c.Unlink(ctx, p))
}

// Mkdir implements fs.DirMaker.
func (b *Backend) Mkdir(ctx context.Context, p string) error {
	c, err := b.session("mkdir")
	if err != nil {
		return err
	}
	return translate("mkdir", c.Mkdir(ctx, p))
}

// Rmdir implements fs.DirRemover.
func (b *Backend) Rmdir(ctx context.Context, p string) error {
	c, err := b.session("rmdir")
	if err != nil {
		return err
	}
	return translate("rmdir", c.Rmdir(ctx, p))
}

// SetLocked implements fs.Locker with CHMOD.
func (b *Backend) SetLocked(ctx context.Context, p string, locked bool) error {
	c, err := b.session("lock")
	if err != nil {
		return err
	}
	var mode uint16 = 0o644
	if locked {
		mode = 0o444
	}
	return translate("lock", c.Chmod(ctx, p, mode))
}
