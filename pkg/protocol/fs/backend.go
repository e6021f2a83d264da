// Package fs is the shared filesystem protocol. It implements directory
// listings, crunch-fallback file resolution and the idempotent filesystem
// commands once, over a small Backend contract that each file-backed
// scheme (SD, TNFS, FTP, HTTP, SMB, NFS, S3) implements.
package fs

import (
	"context"
	"io"
	"time"

	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// Entry describes one file or directory.
type Entry struct {
	Name    string
	Size    int64
	IsDir   bool
	Locked  bool // read-only on the backend
	ModTime time.Time
}

// Credentials are the channel login handed to Mount.
type Credentials struct {
	Login    string
	Password string
}

// File is an open backend file. Backends return errors from Write on files
// opened for reading and vice versa; the protocol checks the mode first.
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

// Sizer is implemented by files whose readable size is only known after
// opening (for example HTTP responses). It takes precedence over Stat.
type Sizer interface {
	Size() (int64, error)
}

// DirIterator walks a directory. Next returns io.EOF after the last entry.
// Any other error concerns one entry only; iteration may continue.
type DirIterator interface {
	Next(ctx context.Context) (Entry, error)
	Close() error
}

// Backend is the set of primitives a file-backed scheme provides. Paths are
// absolute, '/'-separated and relative to the URL's authority.
//
// A Backend instance belongs to one protocol instance. Mount is called at
// the start of every Open and every idempotent command, Unmount at the end.
type Backend interface {
	// Name identifies the backend in logs ("tnfs", "smb", ...).
	Name() string

	// Mount connects to the server named by url.
	Mount(ctx context.Context, url *devicespec.ParsedURL, creds Credentials) error

	// Unmount releases the connection. It must be safe when Mount failed.
	Unmount(ctx context.Context) error

	Stat(ctx context.Context, path string) (Entry, error)
	OpenDir(ctx context.Context, path string) (DirIterator, error)
	OpenFile(ctx context.Context, path string, mode protocol.OpenMode) (File, error)
}

// Optional backend capabilities. A missing capability is reported as
// NotImplemented.
type (
	Renamer interface {
		Rename(ctx context.Context, from, to string) error
	}
	Remover interface {
		Remove(ctx context.Context, path string) error
	}
	DirMaker interface {
		Mkdir(ctx context.Context, path string) error
	}
	DirRemover interface {
		Rmdir(ctx context.Context, path string) error
	}
	Locker interface {
		SetLocked(ctx context.Context, path string, locked bool) error
	}
	// SpecialCommander lets a backend add vendor commands (such as the HTTP
	// channel-mode command) on top of the filesystem protocol.
	SpecialCommander interface {
		SpecialInquiry(cmd byte) protocol.Direction
		SpecialExecute(ctx context.Context, dir protocol.Direction, frame protocol.CommandFrame, payload []byte) ([]byte, error)
	}
)

// SliceIterator serves a pre-fetched listing. Backends whose client libraries
// return whole directories use it.
type SliceIterator struct {
	Entries []Entry
	pos     int
}

// Next implements DirIterator.
func (s *SliceIterator) Next(context.Context) (Entry, error) {
	if s.pos >= len(s.Entries) {
		return Entry{}, io.EOF
	}
	e := s.Entries[s.pos]
	s.pos++
	return e, nil
}

// Close implements DirIterator.
func (s *SliceIterator) Close() error { return nil }
