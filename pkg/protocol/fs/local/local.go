// Package local is the SD backend: files on local storage, served through
// an afero filesystem rooted at the configured SD directory.
package local

import (
	"context"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
	"github.com/marmos91/netbridge/pkg/protocol/fs"
)

// Backend implements fs.Backend over an afero.Fs.
type Backend struct {
	fsys afero.Fs
	base string // leading directory taken from the URL host
}

// New returns a backend over fsys. fsys is expected to be rooted already.
func New(fsys afero.Fs) *Backend {
	return &Backend{fsys: fsys}
}

// NewOS returns a backend over the host directory root.
func NewOS(root string) *Backend {
	return New(afero.NewBasePathFs(afero.NewOsFs(), root))
}

// Name implements fs.Backend.
func (b *Backend) Name() string { return "sd" }

// Mount implements fs.Backend. "SD://games/x" and "SD:/games/x" name the
// same file: a host component is treated as the first directory.
func (b *Backend) Mount(_ context.Context, u *devicespec.ParsedURL, _ fs.Credentials) error {
	b.base = ""
	if u.Host != "" {
		b.base = "/" + u.Host
	}
	return nil
}

// Unmount implements fs.Backend.
func (b *Backend) Unmount(context.Context) error { return nil }

func (b *Backend) abs(p string) string {
	return path.Clean("/" + b.base + "/" + p)
}

// Stat implements fs.Backend.
func (b *Backend) Stat(_ context.Context, p string) (fs.Entry, error) {
	fi, err := b.fsys.Stat(b.abs(p))
	if err != nil {
		return fs.Entry{}, err
	}
	return entryOf(fi), nil
}

func entryOf(fi os.FileInfo) fs.Entry {
	return fs.Entry{
		Name:    fi.Name(),
		Size:    fi.Size(),
		IsDir:   fi.IsDir(),
		Locked:  fi.Mode().Perm()&0o222 == 0,
		ModTime: fi.ModTime(),
	}
}

// OpenDir implements fs.Backend. Entries are served in name order.
func (b *Backend) OpenDir(_ context.Context, p string) (fs.DirIterator, error) {
	infos, err := afero.ReadDir(b.fsys, b.abs(p))
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool {
		return strings.ToUpper(infos[i].Name()) < strings.ToUpper(infos[j].Name())
	})

	it := &fs.SliceIterator{Entries: make([]fs.Entry, 0, len(infos))}
	for _, fi := range infos {
		it.Entries = append(it.Entries, entryOf(fi))
	}
	return it, nil
}

// OpenFile implements fs.Backend.
func (b *Backend) OpenFile(_ context.Context, p string, mode protocol.OpenMode) (fs.File, error) {
	var flag int
	switch mode {
	case protocol.ModeRead:
		flag = os.O_RDONLY
	case protocol.ModeWrite, protocol.ModePut:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case protocol.ModeAppend:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case protocol.ModeReadWrite:
		flag = os.O_RDWR | os.O_CREATE
	default:
		return nil, netstatus.Errorf(netstatus.InvalidCommand, "open", "mode %s not supported on local storage", mode)
	}
	return b.fsys.OpenFile(b.abs(p), flag, 0o644)
}

// Rename implements fs.Renamer.
func (b *Backend) Rename(_ context.Context, from, to string) error {
	return b.fsys.Rename(b.abs(from), b.abs(to))
}

// Remove implements fs.Remover. Directories are refused; use Rmdir.
func (b *Backend) Remove(_ context.Context, p string) error {
	fi, err := b.fsys.Stat(b.abs(p))
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return netstatus.New(netstatus.AccessDenied, "delete")
	}
	return b.fsys.Remove(b.abs(p))
}

// Mkdir implements fs.DirMaker.
func (b *Backend) Mkdir(_ context.Context, p string) error {
	return b.fsys.Mkdir(b.abs(p), 0o755)
}

// Rmdir implements fs.DirRemover.
func (b *Backend) Rmdir(_ context.Context, p string) error {
	fi, err := b.fsys.Stat(b.abs(p))
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return netstatus.New(netstatus.NotADirectory, "rmdir")
	}
	return b.fsys.Remove(b.abs(p))
}

// SetLocked implements fs.Locker by toggling the write bits.
func (b *Backend) SetLocked(_ context.Context, p string, locked bool) error {
	mode := os.FileMode(0o644)
	if locked {
		mode = 0o444
	}
	return b.fsys.Chmod(b.abs(p), mode)
}
