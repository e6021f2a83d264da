package fs_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
	"github.com/marmos91/netbridge/pkg/protocol/fs"
	"github.com/marmos91/netbridge/pkg/protocol/fs/local"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

type sdFixture struct {
	mem   afero.Fs
	bufs  *protocol.Buffers
	proto *fs.Protocol
}

func newSD(t *testing.T) *sdFixture {
	t.Helper()
	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/games/Autorun.sys", []byte("hello world"), 0o644))
	require.NoError(t, afero.WriteFile(mem, "/games/BigFile.dat", bytes.Repeat([]byte{'x'}, 600), 0o644))
	require.NoError(t, mem.MkdirAll("/games/Demos", 0o755))
	require.NoError(t, afero.WriteFile(mem, "/long/autorun_long_name.sys", []byte("long"), 0o644))

	bufs := protocol.NewBuffers()
	return &sdFixture{
		mem:   mem,
		bufs:  bufs,
		proto: fs.New(bufs, protocol.DefaultOptions(), local.New(mem)),
	}
}

func open(t *testing.T, p protocol.NetworkProtocol, spec string, mode protocol.OpenMode, aux2 byte) error {
	t.Helper()
	args := protocol.ArgsFromFrame(protocol.CommandFrame{Command: 'O', Aux1: byte(mode), Aux2: aux2})
	return p.Open(context.Background(), devicespec.Parse(spec), args)
}

func status(t *testing.T, p protocol.NetworkProtocol) netstatus.NetworkStatus {
	t.Helper()
	var st netstatus.NetworkStatus
	require.NoError(t, p.Status(context.Background(), &st))
	return st
}

func listing(t *testing.T, f *sdFixture) []string {
	t.Helper()
	err := f.proto.Read(context.Background(), 4096)
	assert.True(t, netstatus.Is(err, netstatus.EndOfFile), "listing read: %v", err)
	lines := strings.Split(f.bufs.Receive.String(), "\r")
	require.NotEmpty(t, lines)
	return lines[:len(lines)-1]
}

// ============================================================================
// File Stream Tests
// ============================================================================

func TestReadFile(t *testing.T) {
	ctx := context.Background()

	t.Run("StatusThenRead", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/Autorun.sys", protocol.ModeRead, 0))

		st := status(t, f.proto)
		assert.Equal(t, uint32(11), st.BytesWaiting)
		assert.True(t, st.Connected)
		assert.Equal(t, netstatus.Success, st.Error)

		require.NoError(t, f.proto.Read(ctx, 11))
		assert.Equal(t, "hello world", f.bufs.Receive.String())

		f.bufs.Receive.Reset()
		st = status(t, f.proto)
		assert.Zero(t, st.BytesWaiting)
		assert.Equal(t, netstatus.EndOfFile, st.Error)

		err := f.proto.Read(ctx, 1)
		assert.True(t, netstatus.Is(err, netstatus.EndOfFile))
		require.NoError(t, f.proto.Close(ctx))
	})

	t.Run("ReadPastEndDeliversRemainder", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/Autorun.sys", protocol.ModeRead, 0))

		err := f.proto.Read(ctx, 64)
		assert.True(t, netstatus.Is(err, netstatus.EndOfFile))
		assert.Equal(t, "hello world", f.bufs.Receive.String())
	})

	t.Run("CaseFoldedName", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/AUTORUN.SYS", protocol.ModeRead, 0))
		require.NoError(t, f.proto.Read(ctx, 5))
		assert.Equal(t, "hello", f.bufs.Receive.String())
	})

	t.Run("CrunchedName", func(t *testing.T) {
		f := newSD(t)
		short := fs.Crunch("autorun_long_name.sys")
		require.NoError(t, open(t, f.proto, "SD:/long/"+short, protocol.ModeRead, 0))
		require.NoError(t, f.proto.Read(ctx, 4))
		assert.Equal(t, "long", f.bufs.Receive.String())
	})

	t.Run("TildeAlias", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/long/AUTORU~1.SYS", protocol.ModeRead, 0))
		require.NoError(t, f.proto.Read(ctx, 4))
		assert.Equal(t, "long", f.bufs.Receive.String())
	})

	t.Run("MissingFileIsFileNotFound", func(t *testing.T) {
		f := newSD(t)
		err := open(t, f.proto, "SD:/games/MISSING.DAT", protocol.ModeRead, 0)
		assert.Equal(t, netstatus.FileNotFound, netstatus.CodeOf(err))

		st := status(t, f.proto)
		assert.False(t, st.Connected)
		assert.Equal(t, netstatus.NotConnected, st.Error)
	})

	t.Run("WriteOnReadStreamIsReadOnly", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/Autorun.sys", protocol.ModeRead, 0))
		f.bufs.Transmit.WriteString("x")
		err := f.proto.Write(ctx, 1)
		assert.Equal(t, netstatus.ReadOnly, netstatus.CodeOf(err))
	})

	t.Run("ReadWithoutOpenIsNotConnected", func(t *testing.T) {
		f := newSD(t)
		assert.Equal(t, netstatus.NotConnected, netstatus.CodeOf(f.proto.Read(ctx, 1)))
		assert.Equal(t, netstatus.NotConnected, netstatus.CodeOf(f.proto.Write(ctx, 1)))
	})

	t.Run("CloseTwice", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/Autorun.sys", protocol.ModeRead, 0))
		require.NoError(t, f.proto.Close(ctx))
		require.NoError(t, f.proto.Close(ctx))
	})
}

func TestWriteFile(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesFile", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/new.txt", protocol.ModeWrite, 0))

		st := status(t, f.proto)
		assert.True(t, st.Connected)
		assert.Equal(t, netstatus.Success, st.Error)

		f.bufs.Transmit.WriteString("abc\r")
		require.NoError(t, f.proto.Write(ctx, 4))
		require.NoError(t, f.proto.Close(ctx))

		data, err := afero.ReadFile(f.mem, "/games/new.txt")
		require.NoError(t, err)
		assert.Equal(t, "abc\r", string(data))
	})

	t.Run("TranslatesEOL", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/lf.txt", protocol.ModeWrite, byte(protocol.TranslateLF)))
		f.bufs.Transmit.WriteString("one\rtwo\r")
		require.NoError(t, f.proto.Write(ctx, 8))
		require.NoError(t, f.proto.Close(ctx))

		data, err := afero.ReadFile(f.mem, "/games/lf.txt")
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\n", string(data))
	})

	t.Run("Append", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/Autorun.sys", protocol.ModeAppend, 0))
		f.bufs.Transmit.WriteString("!")
		require.NoError(t, f.proto.Write(ctx, 1))
		require.NoError(t, f.proto.Close(ctx))

		data, err := afero.ReadFile(f.mem, "/games/Autorun.sys")
		require.NoError(t, err)
		assert.Equal(t, "hello world!", string(data))
	})

	t.Run("ReadOnWriteStreamIsWriteOnly", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/new.txt", protocol.ModeWrite, 0))
		assert.Equal(t, netstatus.WriteOnly, netstatus.CodeOf(f.proto.Read(ctx, 1)))
	})

	t.Run("WriteMoreThanBuffered", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/new.txt", protocol.ModeWrite, 0))
		f.bufs.Transmit.WriteString("ab")
		assert.Error(t, f.proto.Write(ctx, 3))
	})
}

// ============================================================================
// Directory Listing Tests
// ============================================================================

func TestDirectoryListing(t *testing.T) {
	t.Run("ShortFormat", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/", protocol.ModeDirectory, 0))

		st := status(t, f.proto)
		assert.True(t, st.Connected)
		assert.Equal(t, uint32(3*18+len(fs.FreeSectorsSentinel)+1), st.BytesWaiting)

		assert.Equal(t, []string{
			"  AUTORUN SYS 001",
			"  BIGFILE DAT 003",
			"  DEMOS       DIR",
			fs.FreeSectorsSentinel,
		}, listing(t, f))

		f.bufs.Receive.Reset()
		st = status(t, f.proto)
		assert.False(t, st.Connected)
		assert.Equal(t, netstatus.EndOfFile, st.Error)
	})

	t.Run("Pattern", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/*.SYS", protocol.ModeDirectory, 0))
		assert.Equal(t, []string{"  AUTORUN SYS 001", fs.FreeSectorsSentinel}, listing(t, f))
	})

	t.Run("NoMatchesStillHasSentinel", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/*.BAS", protocol.ModeDirectory, 0))
		assert.Equal(t, []string{fs.FreeSectorsSentinel}, listing(t, f))
	})

	t.Run("LongFormat", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/", protocol.ModeDirectory, 0x80))

		lines := listing(t, f)
		require.Len(t, lines, 4)
		assert.True(t, strings.HasPrefix(lines[0], "Autorun.sys "))
		assert.True(t, strings.HasSuffix(lines[0], " 11"))
		assert.True(t, strings.HasSuffix(lines[2], "<DIR>"))
		assert.Equal(t, fs.FreeSectorsSentinel, lines[3])
	})

	t.Run("LockedEntryIsMarked", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, f.mem.Chmod("/games/Autorun.sys", 0o444))
		require.NoError(t, open(t, f.proto, "SD:/games/", protocol.ModeDirectory, 0))
		assert.Equal(t, "* AUTORUN SYS 001", listing(t, f)[0])
	})

	t.Run("ReadModeOnDirectoryLists", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games", protocol.ModeRead, 0))
		assert.Len(t, listing(t, f), 4)
	})

	t.Run("MissingDirectory", func(t *testing.T) {
		f := newSD(t)
		err := open(t, f.proto, "SD:/nowhere/", protocol.ModeDirectory, 0)
		assert.Equal(t, netstatus.FileNotFound, netstatus.CodeOf(err))
	})

	t.Run("PartialReads", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/", protocol.ModeDirectory, 0))
		require.NoError(t, f.proto.Read(context.Background(), 18))
		assert.Equal(t, "  AUTORUN SYS 001\r", f.bufs.Receive.String())
	})

	t.Run("AtariEOL", func(t *testing.T) {
		mem := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(mem, "/a.txt", []byte("a"), 0o644))
		opts := protocol.DefaultOptions()
		opts.EOL = 0x9B
		bufs := protocol.NewBuffers()
		p := fs.New(bufs, opts, local.New(mem))

		require.NoError(t, open(t, p, "SD:/", protocol.ModeDirectory, 0))
		_ = p.Read(context.Background(), 4096)
		assert.Equal(t, "  A       TXT 001\x9b"+fs.FreeSectorsSentinel+"\x9b", bufs.Receive.String())
	})
}

// flakyBackend fails one directory entry in every listing.
type flakyBackend struct {
	*local.Backend
}

type flakyIterator struct {
	fs.DirIterator
	failed bool
}

func (f *flakyIterator) Next(ctx context.Context) (fs.Entry, error) {
	if !f.failed {
		f.failed = true
		return fs.Entry{}, errors.New("stat failed")
	}
	return f.DirIterator.Next(ctx)
}

func (b flakyBackend) OpenDir(ctx context.Context, path string) (fs.DirIterator, error) {
	it, err := b.Backend.OpenDir(ctx, path)
	if err != nil {
		return nil, err
	}
	return &flakyIterator{DirIterator: it}, nil
}

func TestListingToleratesEntryErrors(t *testing.T) {
	f := newSD(t)
	p := fs.New(f.bufs, protocol.DefaultOptions(), flakyBackend{local.New(f.mem)})

	require.NoError(t, open(t, p, "SD:/games/", protocol.ModeDirectory, 0))
	assert.Equal(t, 1, p.EntryErrors)

	err := p.Read(context.Background(), 4096)
	assert.True(t, netstatus.Is(err, netstatus.EndOfFile))
	assert.Contains(t, f.bufs.Receive.String(), "AUTORUN")
	assert.Contains(t, f.bufs.Receive.String(), fs.FreeSectorsSentinel)
}

// ============================================================================
// Unknown Size Tests
// ============================================================================

// lazyFile reports an unknown size until its first Read.
type lazyFile struct {
	io.Reader
	started bool
	left    int64
}

func (l *lazyFile) Read(p []byte) (int, error) {
	l.started = true
	n, err := l.Reader.Read(p)
	l.left -= int64(n)
	return n, err
}

func (l *lazyFile) Write([]byte) (int, error) { return 0, errors.New("read only") }
func (l *lazyFile) Close() error              { return nil }

func (l *lazyFile) Size() (int64, error) {
	if !l.started {
		return -1, nil
	}
	return l.left, nil
}

type lazyBackend struct {
	*local.Backend
	file *lazyFile
}

func (b *lazyBackend) OpenFile(context.Context, string, protocol.OpenMode) (fs.File, error) {
	return b.file, nil
}

func TestSizerFile(t *testing.T) {
	f := newSD(t)
	lf := &lazyFile{Reader: strings.NewReader("payload"), left: 7}
	p := fs.New(f.bufs, protocol.DefaultOptions(), &lazyBackend{Backend: local.New(f.mem), file: lf})

	require.NoError(t, open(t, p, "SD:/games/Autorun.sys", protocol.ModeRead, 0))
	assert.False(t, lf.started)

	st := status(t, p)
	assert.True(t, st.Connected)
	assert.Equal(t, netstatus.Success, st.Error)
	assert.Zero(t, st.BytesWaiting)

	require.NoError(t, p.Read(context.Background(), 3))
	assert.Equal(t, "pay", f.bufs.Receive.String())

	f.bufs.Receive.Reset()
	st = status(t, p)
	assert.Equal(t, uint32(4), st.BytesWaiting)
}

// ============================================================================
// Filesystem Command Tests
// ============================================================================

func TestFilesystemOps(t *testing.T) {
	ctx := context.Background()
	url := devicespec.Parse

	t.Run("Rename", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, f.proto.Rename(ctx, url("SD:/games/Autorun.sys,boot.sys")))

		exists, _ := afero.Exists(f.mem, "/games/boot.sys")
		assert.True(t, exists)
		exists, _ = afero.Exists(f.mem, "/games/Autorun.sys")
		assert.False(t, exists)
	})

	t.Run("RenameToAbsolutePath", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, f.proto.Rename(ctx, url("SD:/games/Autorun.sys,/long/boot.sys")))
		exists, _ := afero.Exists(f.mem, "/long/boot.sys")
		assert.True(t, exists)
	})

	t.Run("RenameWithoutCommaIsNoOp", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, f.proto.Rename(ctx, url("SD:/games/Autorun.sys")))
		exists, _ := afero.Exists(f.mem, "/games/Autorun.sys")
		assert.True(t, exists)
	})

	t.Run("RenameMissing", func(t *testing.T) {
		f := newSD(t)
		err := f.proto.Rename(ctx, url("SD:/games/none.sys,x.sys"))
		assert.Equal(t, netstatus.FileNotFound, netstatus.CodeOf(err))
	})

	t.Run("Delete", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, f.proto.Delete(ctx, url("SD:/games/Autorun.sys")))
		err := f.proto.Delete(ctx, url("SD:/games/Autorun.sys"))
		assert.Equal(t, netstatus.FileNotFound, netstatus.CodeOf(err))
	})

	t.Run("MkdirRmdir", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, f.proto.Mkdir(ctx, url("SD:/games/saves/")))
		isDir, _ := afero.IsDir(f.mem, "/games/saves")
		assert.True(t, isDir)

		err := f.proto.Mkdir(ctx, url("SD:/games/saves"))
		assert.Equal(t, netstatus.FileExists, netstatus.CodeOf(err))

		require.NoError(t, f.proto.Rmdir(ctx, url("SD:/games/saves/")))
		isDir, _ = afero.IsDir(f.mem, "/games/saves")
		assert.False(t, isDir)
	})

	t.Run("LockUnlock", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, f.proto.Lock(ctx, url("SD:/games/Autorun.sys")))
		fi, err := f.mem.Stat("/games/Autorun.sys")
		require.NoError(t, err)
		assert.Zero(t, fi.Mode().Perm()&0o222)

		require.NoError(t, f.proto.Unlock(ctx, url("SD:/games/Autorun.sys")))
		fi, err = f.mem.Stat("/games/Autorun.sys")
		require.NoError(t, err)
		assert.NotZero(t, fi.Mode().Perm()&0o200)
	})

	t.Run("OpsDoNotDisturbOpenStream", func(t *testing.T) {
		f := newSD(t)
		require.NoError(t, open(t, f.proto, "SD:/games/Autorun.sys", protocol.ModeRead, 0))
		fresh := fs.New(protocol.NewBuffers(), protocol.DefaultOptions(), local.New(f.mem))
		require.NoError(t, fresh.Mkdir(ctx, url("SD:/games/other")))

		require.NoError(t, f.proto.Read(ctx, 5))
		assert.Equal(t, "hello", f.bufs.Receive.String())
	})
}

// bareBackend implements only the mandatory Backend methods.
type bareBackend struct {
	b *local.Backend
}

func (b bareBackend) Name() string { return "bare" }
func (b bareBackend) Mount(ctx context.Context, u *devicespec.ParsedURL, c fs.Credentials) error {
	return b.b.Mount(ctx, u, c)
}
func (b bareBackend) Unmount(ctx context.Context) error { return b.b.Unmount(ctx) }
func (b bareBackend) Stat(ctx context.Context, p string) (fs.Entry, error) {
	return b.b.Stat(ctx, p)
}
func (b bareBackend) OpenDir(ctx context.Context, p string) (fs.DirIterator, error) {
	return b.b.OpenDir(ctx, p)
}
func (b bareBackend) OpenFile(ctx context.Context, p string, m protocol.OpenMode) (fs.File, error) {
	return b.b.OpenFile(ctx, p, m)
}

func TestMissingCapabilities(t *testing.T) {
	ctx := context.Background()
	f := newSD(t)
	p := fs.New(f.bufs, protocol.DefaultOptions(), bareBackend{local.New(f.mem)})
	u := devicespec.Parse("SD:/games/Autorun.sys,x")

	for name, op := range map[string]func(context.Context, *devicespec.ParsedURL) error{
		"rename": p.Rename,
		"delete": p.Delete,
		"mkdir":  p.Mkdir,
		"rmdir":  p.Rmdir,
		"lock":   p.Lock,
		"unlock": p.Unlock,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, netstatus.NotImplemented, netstatus.CodeOf(op(ctx, u)))
		})
	}

	assert.Equal(t, protocol.DirUnsupported, p.SpecialInquiry('M'))
	_, err := p.SpecialExecute(ctx, protocol.DirNone, protocol.CommandFrame{Command: 'M'}, nil)
	assert.Equal(t, netstatus.InvalidCommand, netstatus.CodeOf(err))
}
