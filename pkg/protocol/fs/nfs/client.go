package nfs

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// ============================================================================
// Portmapper
// ============================================================================

// getPort asks the portmapper at host for the TCP port of prog/vers.
func getPort(ctx context.Context, c *rpcClient, prog, vers uint32) (int, error) {
	args, err := (&encoder{}).put(prog).put(vers).put(uint32(ipProtoTCP)).put(uint32(0)).Bytes()
	if err != nil {
		return 0, err
	}
	d, err := c.call(ctx, progPortmap, versPortmap, pmapProcGetPort, args)
	if err != nil {
		return 0, err
	}
	port := d.u32()
	if d.err != nil {
		return 0, fmt.Errorf("portmap: decode reply: %w", d.err)
	}
	if port == 0 {
		return 0, &RPCError{Program: prog, Stat: acceptProgUnavail}
	}
	return int(port), nil
}

// ============================================================================
// Mount protocol
// ============================================================================

// exports returns the directories the server exports.
func exports(ctx context.Context, c *rpcClient) ([]string, error) {
	d, err := c.call(ctx, progMount, versMount, mountProcExport, nil)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for d.boolean() {
		dirs = append(dirs, d.str())
		for d.boolean() {
			d.str() // group
		}
	}
	if d.err != nil {
		return nil, fmt.Errorf("mount: decode export list: %w", d.err)
	}
	return dirs, nil
}

// mnt mounts dir and returns its root file handle.
func mnt(ctx context.Context, c *rpcClient, dir string) ([]byte, error) {
	args, err := (&encoder{}).put(dir).Bytes()
	if err != nil {
		return nil, err
	}
	d, err := c.call(ctx, progMount, versMount, mountProcMnt, args)
	if err != nil {
		return nil, err
	}
	if _, err := d.status("mnt"); err != nil {
		return nil, err
	}
	fh := d.opaque()
	if d.err != nil {
		return nil, fmt.Errorf("mount: decode mnt reply: %w", d.err)
	}
	return fh, nil
}

func umnt(ctx context.Context, c *rpcClient, dir string) error {
	args, err := (&encoder{}).put(dir).Bytes()
	if err != nil {
		return err
	}
	_, err = c.call(ctx, progMount, versMount, mountProcUmnt, args)
	return err
}

// pickExport returns the longest export that contains p on a path-element
// boundary, or "" when none does.
func pickExport(list []string, p string) string {
	best := ""
	for _, e := range list {
		e = strings.TrimSuffix(e, "/")
		if e == "" {
			e = "/"
		}
		if !within(p, e) {
			continue
		}
		if len(e) > len(best) {
			best = e
		}
	}
	return best
}

func within(p, export string) bool {
	if export == "/" {
		return true
	}
	return p == export || strings.HasPrefix(p, export+"/")
}

// ============================================================================
// NFSv3
// ============================================================================

// nfsClient runs NFSv3 procedures against one export.
type nfsClient struct {
	rpc *rpcClient
}

func (c *nfsClient) call(ctx context.Context, proc uint32, e *encoder) (*decoder, error) {
	args, err := e.Bytes()
	if err != nil {
		return nil, err
	}
	return c.rpc.call(ctx, progNFS, versNFS, proc, args)
}

func (c *nfsClient) getAttr(ctx context.Context, fh []byte) (Attr, error) {
	d, err := c.call(ctx, nfsProcGetAttr, (&encoder{}).put(fh))
	if err != nil {
		return Attr{}, err
	}
	if _, err := d.status("getattr"); err != nil {
		return Attr{}, err
	}
	a := d.fattr3()
	return a, d.err
}

// lookup resolves name in dir. The attributes come from the reply or, when
// the server omits them, a GETATTR.
func (c *nfsClient) lookup(ctx context.Context, dir []byte, name string) ([]byte, Attr, error) {
	d, err := c.call(ctx, nfsProcLookup, (&encoder{}).put(dir).put(name))
	if err != nil {
		return nil, Attr{}, err
	}
	if _, err := d.status("lookup"); err != nil {
		return nil, Attr{}, err
	}
	fh := d.opaque()
	a, ok := d.postOpAttr()
	if d.err != nil {
		return nil, Attr{}, fmt.Errorf("nfs: decode lookup reply: %w", d.err)
	}
	if !ok {
		if a, err = c.getAttr(ctx, fh); err != nil {
			return nil, Attr{}, err
		}
	}
	return fh, a, nil
}

func (c *nfsClient) read(ctx context.Context, fh []byte, off uint64, n uint32) ([]byte, bool, error) {
	d, err := c.call(ctx, nfsProcRead, (&encoder{}).put(fh).put(off).put(n))
	if err != nil {
		return nil, false, err
	}
	_, err = d.status("read")
	d.postOpAttr()
	if err != nil {
		return nil, false, err
	}
	d.u32() // count
	eof := d.boolean()
	data := d.opaque()
	return data, eof, d.err
}

func (c *nfsClient) write(ctx context.Context, fh []byte, off uint64, data []byte) (int, error) {
	e := (&encoder{}).put(fh).put(off).put(uint32(len(data))).put(uint32(stableFileSync)).put(data)
	d, err := c.call(ctx, nfsProcWrite, e)
	if err != nil {
		return 0, err
	}
	_, err = d.status("write")
	d.wccData()
	if err != nil {
		return 0, err
	}
	n := d.u32()
	return int(n), d.err
}

// create makes name in dir (UNCHECKED, so an existing file is truncated)
// and returns its handle.
func (c *nfsClient) create(ctx context.Context, dir []byte, name string, mode uint32) ([]byte, error) {
	size := uint64(0)
	e := (&encoder{}).put(dir).put(name).put(uint32(createUnchecked)).sattr(&mode, &size)
	d, err := c.call(ctx, nfsProcCreate, e)
	if err != nil {
		return nil, err
	}
	if _, err := d.status("create"); err != nil {
		return nil, err
	}
	fh := d.postOpFH()
	if d.err != nil {
		return nil, fmt.Errorf("nfs: decode create reply: %w", d.err)
	}
	if fh == nil {
		fh, _, err = c.lookup(ctx, dir, name)
	}
	return fh, err
}

func (c *nfsClient) setAttr(ctx context.Context, fh []byte, mode *uint32, size *uint64) error {
	e := (&encoder{}).put(fh).sattr(mode, size).put(false)
	d, err := c.call(ctx, nfsProcSetAttr, e)
	if err != nil {
		return err
	}
	_, err = d.status("setattr")
	return err
}

func (c *nfsClient) mkdir(ctx context.Context, dir []byte, name string, mode uint32) error {
	e := (&encoder{}).put(dir).put(name).sattr(&mode, nil)
	d, err := c.call(ctx, nfsProcMkdir, e)
	if err != nil {
		return err
	}
	_, err = d.status("mkdir")
	return err
}

func (c *nfsClient) remove(ctx context.Context, proc uint32, dir []byte, name string) error {
	d, err := c.call(ctx, proc, (&encoder{}).put(dir).put(name))
	if err != nil {
		return err
	}
	op := "remove"
	if proc == nfsProcRmdir {
		op = "rmdir"
	}
	_, err = d.status(op)
	return err
}

func (c *nfsClient) rename(ctx context.Context, fromDir []byte, from string, toDir []byte, to string) error {
	d, err := c.call(ctx, nfsProcRename, (&encoder{}).put(fromDir).put(from).put(toDir).put(to))
	if err != nil {
		return err
	}
	_, err = d.status("rename")
	return err
}

// dirEntry is one READDIRPLUS entry.
type dirEntry struct {
	Name   string
	Attr   Attr
	HasAtt bool
}

// readDirPlus reads the whole directory.
func (c *nfsClient) readDirPlus(ctx context.Context, dir []byte) ([]dirEntry, error) {
	var (
		out    []dirEntry
		cookie uint64
		verf   [8]byte
	)
	for {
		e := (&encoder{}).put(dir).put(cookie).put(verf).put(uint32(readDirCount)).put(uint32(readDirMax))
		d, err := c.call(ctx, nfsProcReadDirPlus, e)
		if err != nil {
			return nil, err
		}
		_, err = d.status("readdirplus")
		d.postOpAttr()
		if err != nil {
			return nil, err
		}
		verf = d.fixed8()
		for d.boolean() {
			d.u64() // fileid
			name := d.str()
			cookie = d.u64()
			a, ok := d.postOpAttr()
			d.postOpFH()
			out = append(out, dirEntry{Name: name, Attr: a, HasAtt: ok})
		}
		eof := d.boolean()
		if d.err != nil {
			return nil, fmt.Errorf("nfs: decode readdirplus reply: %w", d.err)
		}
		if eof {
			return out, nil
		}
	}
}

const (
	readDirCount = 4096
	readDirMax   = 32768
)

// ============================================================================
// File handle
// ============================================================================

// file is an open regular file. Reads and writes advance a local offset.
type file struct {
	ctx    context.Context
	client *nfsClient
	fh     []byte
	off    uint64
	eof    bool
	write  bool
}

func (f *file) Read(p []byte) (int, error) {
	if f.write {
		return 0, fmt.Errorf("nfs: file opened for writing")
	}
	if f.eof {
		return 0, io.EOF
	}
	n := len(p)
	if n > maxIO {
		n = maxIO
	}
	data, eof, err := f.client.read(f.ctx, f.fh, f.off, uint32(n))
	if err != nil {
		return 0, err
	}
	n = copy(p, data)
	f.off += uint64(n)
	f.eof = eof
	if n == 0 && eof {
		return 0, io.EOF
	}
	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	if !f.write {
		return 0, fmt.Errorf("nfs: file opened for reading")
	}
	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxIO {
			chunk = chunk[:maxIO]
		}
		n, err := f.client.write(f.ctx, f.fh, f.off, chunk)
		f.off += uint64(n)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
		p = p[n:]
	}
	return total, nil
}

func (f *file) Close() error { return nil }

// maxIO caps READ and WRITE payloads.
const maxIO = 32768

func joinPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
