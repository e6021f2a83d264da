// Package nfs is an NFSv3 backend for the filesystem protocol. It speaks
// ONC RPC over TCP directly: the portmapper locates mountd and nfsd, the
// mount protocol picks the export holding the requested path, and file
// operations walk the path from the export's root handle with LOOKUP.
package nfs

import (
	"context"
	"errors"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
	"github.com/marmos91/netbridge/pkg/protocol/fs"
)

const (
	PortmapPort = 111
	DefaultPort = 2049
)

// Config controls the NFS client.
type Config struct {
	// MountPort and NFSPort skip the portmapper when non-zero.
	MountPort int
	NFSPort   int
	// UID and GID are sent in the AUTH_UNIX credential.
	UID uint32
	GID uint32
	// MachineName is sent in the AUTH_UNIX credential.
	MachineName string
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MachineName == "" {
		c.MachineName, _ = os.Hostname()
		if c.MachineName == "" {
			c.MachineName = "netbridge"
		}
	}
	return c
}

// Backend implements fs.Backend over NFSv3.
type Backend struct {
	cfg Config

	mount  *rpcClient
	nfs    *nfsClient
	export string
	root   []byte
}

var (
	_ fs.Backend    = (*Backend)(nil)
	_ fs.Renamer    = (*Backend)(nil)
	_ fs.Remover    = (*Backend)(nil)
	_ fs.DirMaker   = (*Backend)(nil)
	_ fs.DirRemover = (*Backend)(nil)
	_ fs.Locker     = (*Backend)(nil)
)

// New creates an NFS backend.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg.withDefaults()}
}

// Name implements fs.Backend.
func (b *Backend) Name() string { return "nfs" }

// Mount implements fs.Backend. The export is the longest exported directory
// containing the URL path; paths handed to the other methods keep the
// export prefix.
func (b *Backend) Mount(ctx context.Context, u *devicespec.ParsedURL, _ fs.Credentials) error {
	cred := unixCred{
		Stamp:       uint32(time.Now().Unix()),
		MachineName: b.cfg.MachineName,
		UID:         b.cfg.UID,
		GID:         b.cfg.GID,
		GIDs:        []uint32{b.cfg.GID},
	}

	mountPort, nfsPort := b.cfg.MountPort, b.cfg.NFSPort
	if mountPort == 0 || nfsPort == 0 {
		pm, err := dialRPC(ctx, joinPort(u.Host, PortmapPort), cred, b.cfg.Timeout)
		if err != nil {
			return translate("portmap", err)
		}
		if mountPort == 0 {
			mountPort, err = getPort(ctx, pm, progMount, versMount)
		}
		if err == nil && nfsPort == 0 {
			if nfsPort, err = getPort(ctx, pm, progNFS, versNFS); err != nil {
				nfsPort, err = u.PortNumber(DefaultPort), nil
			}
		}
		_ = pm.Close()
		if err != nil {
			return translate("portmap", err)
		}
	}

	mc, err := dialRPC(ctx, joinPort(u.Host, mountPort), cred, b.cfg.Timeout)
	if err != nil {
		return translate("mount", err)
	}
	list, err := exports(ctx, mc)
	if err != nil {
		_ = mc.Close()
		return translate("export", err)
	}
	export := pickExport(list, path.Clean("/"+u.Path))
	if export == "" {
		_ = mc.Close()
		return netstatus.Errorf(netstatus.FileNotFound, "mount", "no export contains %s", u.Path)
	}
	root, err := mnt(ctx, mc, export)
	if err != nil {
		_ = mc.Close()
		return translate("mount", err)
	}

	nc, err := dialRPC(ctx, joinPort(u.Host, nfsPort), cred, b.cfg.Timeout)
	if err != nil {
		_ = umnt(ctx, mc, export)
		_ = mc.Close()
		return translate("mount", err)
	}

	b.mount, b.nfs, b.export, b.root = mc, &nfsClient{rpc: nc}, export, root
	logger.DebugCtx(ctx, "NFS export mounted", logger.Host(u.Host), logger.KeyShare, export)
	return nil
}

// Unmount implements fs.Backend.
func (b *Backend) Unmount(ctx context.Context) error {
	if b.mount == nil {
		return nil
	}
	err := umnt(ctx, b.mount, b.export)
	_ = b.mount.Close()
	_ = b.nfs.rpc.Close()
	b.mount, b.nfs, b.root = nil, nil, nil
	return translate("unmount", err)
}

func (b *Backend) session(op string) (*nfsClient, error) {
	if b.nfs == nil {
		return nil, netstatus.ErrNotConnected(op)
	}
	return b.nfs, nil
}

// components splits p into the elements below the export root.
func (b *Backend) components(p string) []string {
	p = path.Clean("/" + p)
	if b.export != "/" {
		p = strings.TrimPrefix(p, b.export)
	}
	var out []string
	for _, c := range strings.Split(p, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// walk resolves p to a handle and its attributes.
func (b *Backend) walk(ctx context.Context, c *nfsClient, p string) ([]byte, Attr, error) {
	fh := b.root
	a, err := c.getAttr(ctx, fh)
	if err != nil {
		return nil, Attr{}, err
	}
	for _, name := range b.components(p) {
		if !a.IsDir() {
			return nil, Attr{}, &StatusError{Proc: "lookup", Status: StatusNotDir}
		}
		if fh, a, err = c.lookup(ctx, fh, name); err != nil {
			return nil, Attr{}, err
		}
	}
	return fh, a, nil
}

// walkParent resolves the directory holding p and returns p's base name.
func (b *Backend) walkParent(ctx context.Context, c *nfsClient, p string) ([]byte, string, error) {
	parts := b.components(p)
	if len(parts) == 0 {
		return nil, "", netstatus.Errorf(netstatus.InvalidDeviceSpec, "lookup", "no file name in %q", p)
	}
	fh := b.root
	for _, name := range parts[:len(parts)-1] {
		var err error
		if fh, _, err = c.lookup(ctx, fh, name); err != nil {
			return nil, "", err
		}
	}
	return fh, parts[len(parts)-1], nil
}

// Stat implements fs.Backend.
func (b *Backend) Stat(ctx context.Context, p string) (fs.Entry, error) {
	c, err := b.session("stat")
	if err != nil {
		return fs.Entry{}, err
	}
	_, a, err := b.walk(ctx, c, p)
	if err != nil {
		return fs.Entry{}, translate("stat", err)
	}
	return entryOf(path.Base(p), a), nil
}

func entryOf(name string, a Attr) fs.Entry {
	return fs.Entry{
		Name:    name,
		Size:    int64(a.Size),
		IsDir:   a.IsDir(),
		Locked:  a.ReadOnly(),
		ModTime: a.MTime,
	}
}

// OpenDir implements fs.Backend.
func (b *Backend) OpenDir(ctx context.Context, p string) (fs.DirIterator, error) {
	c, err := b.session("opendir")
	if err != nil {
		return nil, err
	}
	fh, a, err := b.walk(ctx, c, p)
	if err != nil {
		return nil, translate("opendir", err)
	}
	if !a.IsDir() {
		return nil, netstatus.Wrap(netstatus.NotADirectory, "opendir", errors.New(p))
	}
	list, err := c.readDirPlus(ctx, fh)
	if err != nil {
		return nil, translate("readdir", err)
	}
	entries := make([]fs.Entry, 0, len(list))
	for _, e := range list {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		entries = append(entries, entryOf(e.Name, e.Attr))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return &fs.SliceIterator{Entries: entries}, nil
}

// OpenFile implements fs.Backend.
func (b *Backend) OpenFile(ctx context.Context, p string, mode protocol.OpenMode) (fs.File, error) {
	c, err := b.session("open")
	if err != nil {
		return nil, err
	}
	fctx := context.WithoutCancel(ctx)

	switch mode {
	case protocol.ModeRead:
		fh, a, err := b.walk(ctx, c, p)
		if err != nil {
			return nil, translate("open", err)
		}
		if a.IsDir() {
			return nil, netstatus.Wrap(netstatus.AccessDenied, "open", errors.New(p))
		}
		return &file{ctx: fctx, client: c, fh: fh}, nil

	case protocol.ModeWrite, protocol.ModePut:
		dir, name, err := b.walkParent(ctx, c, p)
		if err != nil {
			return nil, translate("open", err)
		}
		fh, err := c.create(ctx, dir, name, 0o644)
		if err != nil {
			return nil, translate("create", err)
		}
		return &file{ctx: fctx, client: c, fh: fh, write: true}, nil

	case protocol.ModeAppend, protocol.ModeReadWrite:
		dir, name, err := b.walkParent(ctx, c, p)
		if err != nil {
			return nil, translate("open", err)
		}
		fh, a, err := c.lookup(ctx, dir, name)
		var se *StatusError
		switch {
		case errors.As(err, &se) && se.Status == StatusNoEnt:
			if fh, err = c.create(ctx, dir, name, 0o644); err != nil {
				return nil, translate("create", err)
			}
			a = Attr{}
		case err != nil:
			return nil, translate("open", err)
		}
		f := &file{ctx: fctx, client: c, fh: fh, write: true}
		if mode == protocol.ModeAppend {
			f.off = a.Size
		}
		return f, nil
	}
	return nil, netstatus.Errorf(netstatus.InvalidCommand, "open", "unsupported open mode %d", mode)
}

// Rename implements fs.Renamer.
func (b *Backend) Rename(ctx context.Context, from, to string) error {
	c, err := b.session("rename")
	if err != nil {
		return err
	}
	fromDir, fromName, err := b.walkParent(ctx, c, from)
	if err != nil {
		return translate("rename", err)
	}
	toDir, toName, err := b.walkParent(ctx, c, to)
	if err != nil {
		return translate("rename", err)
	}
	return translate("rename", c.rename(ctx, fromDir, fromName, toDir, toName))
}

// Remove implements fs.Remover.
func (b *Backend) Remove(ctx context.Context, p string) error {
	return b.unlink(ctx, "delete", nfsProcRemove, p)
}

// Rmdir implements fs.DirRemover.
func (b *Backend) Rmdir(ctx context.Context, p string) error {
	return b.unlink(ctx, "rmdir", nfsProcRmdir, p)
}

func (b *Backend) unlink(ctx context.Context, op string, proc uint32, p string) error {
	c, err := b.session(op)
	if err != nil {
		return err
	}
	dir, name, err := b.walkParent(ctx, c, p)
	if err != nil {
		return translate(op, err)
	}
	return translate(op, c.remove(ctx, proc, dir, name))
}

// Mkdir implements fs.DirMaker.
func (b *Backend) Mkdir(ctx context.Context, p string) error {
	c, err := b.session("mkdir")
	if err != nil {
		return err
	}
	dir, name, err := b.walkParent(ctx, c, p)
	if err != nil {
		return translate("mkdir", err)
	}
	return translate("mkdir", c.mkdir(ctx, dir, name, 0o755))
}

// SetLocked implements fs.Locker by clearing or restoring the write bits.
func (b *Backend) SetLocked(ctx context.Context, p string, locked bool) error {
	c, err := b.session("lock")
	if err != nil {
		return err
	}
	fh, _, err := b.walk(ctx, c, p)
	if err != nil {
		return translate("lock", err)
	}
	mode := uint32(0o644)
	if locked {
		mode = 0o444
	}
	return translate("lock", c.setAttr(ctx, fh, &mode, nil))
}

// translate maps NFS, mount and RPC failures onto bridge error codes.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) {
		return netstatus.Wrap(se.Status.Code(), op, err)
	}
	var re *RPCError
	if errors.As(err, &re) {
		code := netstatus.ServiceNotAvailable
		if re.Denied {
			code = netstatus.AccessDenied
		}
		return netstatus.Wrap(code, op, err)
	}
	return netstatus.FromNetError(op, err)
}
