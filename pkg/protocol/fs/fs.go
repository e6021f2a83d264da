package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// maxEntryErrors bounds how many per-entry errors a listing tolerates before
// giving up on a directory iterator that never reaches the end.
const maxEntryErrors = 64

// Protocol is the NetworkProtocol shared by every file-backed scheme.
//
// State per open: Idle -> (Open) -> file stream | directory stream -> (Close) -> Idle.
type Protocol struct {
	protocol.Base

	backend Backend
	mounted bool

	mode      protocol.OpenMode
	path      string
	isDir     bool
	dirBuf    bytes.Buffer
	file      File
	sized     bool  // remaining is meaningful
	remaining int64 // unread bytes of a read stream

	// EntryErrors counts per-entry failures of the last listing.
	EntryErrors int
}

// New creates a filesystem protocol over backend.
func New(bufs *protocol.Buffers, opts protocol.Options, backend Backend) *Protocol {
	return &Protocol{Base: protocol.NewBase(bufs, opts), backend: backend}
}

// Backend returns the underlying backend.
func (p *Protocol) Backend() Backend {
	return p.backend
}

func (p *Protocol) creds() Credentials {
	return Credentials{Login: p.Login, Password: p.Password}
}

func (p *Protocol) mount(ctx context.Context, u *devicespec.ParsedURL) error {
	if err := p.backend.Mount(ctx, u, p.creds()); err != nil {
		_ = p.backend.Unmount(ctx)
		return netstatus.FromNetError("mount", err)
	}
	p.mounted = true
	return nil
}

func (p *Protocol) unmount(ctx context.Context) error {
	if !p.mounted {
		return nil
	}
	p.mounted = false
	return netstatus.FromNetError("unmount", p.backend.Unmount(ctx))
}

// Open implements protocol.NetworkProtocol.
func (p *Protocol) Open(ctx context.Context, u *devicespec.ParsedURL, args protocol.OpenArgs) error {
	p.Translation = args.Translation
	p.mode = args.Mode

	if err := p.mount(ctx, u); err != nil {
		return err
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	var err error
	if args.Mode == protocol.ModeDirectory {
		dir, pattern := splitPath(path)
		err = p.openDir(ctx, dir, normalizePattern(pattern), args.LongListing())
	} else {
		err = p.openFile(ctx, path, args)
	}
	if err != nil {
		_ = p.unmount(ctx)
		return err
	}
	return nil
}

func (p *Protocol) openDir(ctx context.Context, dir, pattern string, long bool) error {
	it, err := p.backend.OpenDir(ctx, dir)
	if err != nil {
		return netstatus.FromFSError("opendir", err)
	}
	defer it.Close()

	p.isDir = true
	p.path = dir
	p.dirBuf.Reset()
	p.EntryErrors = 0

	entries := 0
	for {
		e, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.EntryErrors++
			logger.WarnCtx(ctx, "Directory entry failed", logger.Path(dir), logger.Err(err))
			if p.EntryErrors >= maxEntryErrors {
				break
			}
			continue
		}
		if e.Name == "." || e.Name == ".." || !matchPattern(pattern, e.Name) {
			continue
		}

		if long {
			p.dirBuf.WriteString(FormatLong(e))
		} else {
			p.dirBuf.WriteString(FormatShort(e))
		}
		p.dirBuf.WriteByte(p.Opts.EOL)
		entries++
	}

	p.dirBuf.WriteString(FreeSectorsSentinel)
	p.dirBuf.WriteByte(p.Opts.EOL)

	logger.DebugCtx(ctx, "Directory listed",
		logger.Path(dir), logger.KeyPattern, pattern, logger.KeyEntries, entries, logger.KeyBackend, p.backend.Name())
	return nil
}

func (p *Protocol) openFile(ctx context.Context, path string, args protocol.OpenArgs) error {
	info, err := p.backend.Stat(ctx, path)
	if err != nil {
		dir, name := splitPath(path)
		if resolved, ok := p.resolve(ctx, dir, name); ok {
			path = resolved
			info, err = p.backend.Stat(ctx, path)
		}
	}

	if err == nil && info.IsDir && args.Mode == protocol.ModeRead {
		return p.openDir(ctx, strings.TrimSuffix(path, "/")+"/", "*", args.LongListing())
	}
	if err != nil && !args.Mode.Writes() {
		return netstatus.FromFSError("stat", err)
	}

	f, err := p.backend.OpenFile(ctx, path, args.Mode)
	if err != nil {
		return netstatus.FromFSError("open", err)
	}

	p.file = f
	p.path = path
	p.remaining, p.sized = 0, false
	if _, ok := f.(Sizer); !ok && args.Mode.Reads() {
		p.remaining, p.sized = info.Size, true
	}
	return nil
}

// remainingBytes returns the unread size of the stream and whether it is
// known. A Sizer file is asked on every call.
func (p *Protocol) remainingBytes() (int64, bool, error) {
	if s, ok := p.file.(Sizer); ok {
		n, err := s.Size()
		if err != nil {
			return 0, false, netstatus.FromNetError("size", err)
		}
		return n, n >= 0, nil
	}
	return p.remaining, p.sized, nil
}

// resolve finds the real name of a file requested under a folded 8.3 name.
// It scans dir and returns the first matching entry; ok is false when
// nothing matches, in which case the caller keeps the original path.
func (p *Protocol) resolve(ctx context.Context, dir, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	it, err := p.backend.OpenDir(ctx, dir)
	if err != nil {
		return "", false
	}
	defer it.Close()

	m := newCrunchMatcher(name)
	for failures := 0; failures < maxEntryErrors; {
		e, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			failures++
			continue
		}
		if m.match(e.Name) {
			logger.DebugCtx(ctx, "Resolved crunched name", logger.Filename(name), logger.Path(dir+e.Name))
			return dir + e.Name, true
		}
	}
	return "", false
}

// Close implements protocol.NetworkProtocol.
func (p *Protocol) Close(ctx context.Context) error {
	var err error
	if p.file != nil {
		err = netstatus.FromFSError("close", p.file.Close())
		p.file = nil
	}
	p.isDir = false
	p.dirBuf.Reset()
	p.remaining, p.sized = 0, false

	if uerr := p.unmount(ctx); err == nil {
		err = uerr
	}
	return err
}

// Read implements protocol.NetworkProtocol. A request crossing the end of
// the stream delivers what remains and reports EndOfFile.
func (p *Protocol) Read(ctx context.Context, n int) error {
	if p.isDir {
		if p.dirBuf.Len() == 0 {
			return netstatus.ErrEOF("read")
		}
		chunk := p.dirBuf.Next(n)
		p.Bufs.Receive.Write(chunk)
		if len(chunk) < n {
			return netstatus.ErrEOF("read")
		}
		return nil
	}

	if p.file == nil {
		return netstatus.ErrNotConnected("read")
	}
	if !p.mode.Reads() {
		return netstatus.New(netstatus.WriteOnly, "read")
	}

	rem, known, err := p.remainingBytes()
	if err != nil {
		return err
	}
	want := int64(n)
	if known {
		if rem <= 0 {
			return netstatus.ErrEOF("read")
		}
		if want > rem {
			want = rem
		}
	}

	buf := make([]byte, want)
	got, err := io.ReadFull(p.file, buf)
	if got > 0 {
		p.PutReceive(buf[:got])
	}
	if p.sized {
		p.remaining -= int64(got)
	}

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		p.remaining = 0
		return netstatus.ErrEOF("read")
	case err != nil:
		return netstatus.FromFSError("read", err)
	case int64(n) > want:
		return netstatus.ErrEOF("read")
	}
	return nil
}

// Write implements protocol.NetworkProtocol.
func (p *Protocol) Write(ctx context.Context, n int) error {
	if p.file == nil {
		return netstatus.ErrNotConnected("write")
	}
	if !p.mode.Writes() {
		return netstatus.New(netstatus.ReadOnly, "write")
	}

	data, err := p.TakeTransmit(n)
	if err != nil {
		return err
	}
	written, err := p.file.Write(data)
	if err != nil {
		return netstatus.FromFSError("write", err)
	}
	if written < len(data) {
		return netstatus.Errorf(netstatus.SocketTimeout, "write", "short write: %d of %d bytes", written, len(data))
	}
	return nil
}

// Status implements protocol.NetworkProtocol.
func (p *Protocol) Status(ctx context.Context, st *netstatus.NetworkStatus) error {
	max := p.Opts.MaxBytesWaiting
	pending := int64(p.Bufs.Receive.Len())

	switch {
	case p.isDir:
		waiting := int64(p.dirBuf.Len()) + pending
		st.SetWaiting(waiting, max)
		st.Connected = waiting > 0
		st.Error = eofUnless(waiting > 0)

	case p.file == nil:
		st.Reset()
		st.Error = netstatus.NotConnected

	case p.mode.Reads():
		rem, known, err := p.remainingBytes()
		if err != nil {
			st.Reset()
			st.Error = netstatus.CodeOf(err)
			return nil
		}
		if !known {
			st.SetWaiting(pending, max)
			st.Connected = true
			st.Error = netstatus.Success
			return nil
		}
		waiting := rem + pending
		st.SetWaiting(waiting, max)
		st.Connected = waiting > 0
		st.Error = eofUnless(waiting > 0)

	default:
		// Write streams stay connected until closed.
		st.SetWaiting(pending, max)
		st.Connected = true
		st.Error = netstatus.Success
	}
	return nil
}

func eofUnless(more bool) netstatus.ErrorCode {
	if more {
		return netstatus.Success
	}
	return netstatus.EndOfFile
}

// SpecialInquiry implements protocol.NetworkProtocol.
func (p *Protocol) SpecialInquiry(cmd byte) protocol.Direction {
	if sc, ok := p.backend.(SpecialCommander); ok {
		return sc.SpecialInquiry(cmd)
	}
	return p.Base.SpecialInquiry(cmd)
}

// SpecialExecute implements protocol.NetworkProtocol.
func (p *Protocol) SpecialExecute(ctx context.Context, dir protocol.Direction, frame protocol.CommandFrame, payload []byte) ([]byte, error) {
	if sc, ok := p.backend.(SpecialCommander); ok {
		return sc.SpecialExecute(ctx, dir, frame, payload)
	}
	return p.Base.SpecialExecute(ctx, dir, frame, payload)
}
