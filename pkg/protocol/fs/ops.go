package fs

import (
	"context"
	"strings"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

var (
	_ protocol.NetworkProtocol = (*Protocol)(nil)
	_ protocol.FilesystemOps   = (*Protocol)(nil)
)

// withMount runs fn between a Mount and an Unmount of u.
func (p *Protocol) withMount(ctx context.Context, u *devicespec.ParsedURL, fn func() error) error {
	if err := p.mount(ctx, u); err != nil {
		return err
	}
	err := fn()
	if uerr := p.unmount(ctx); err == nil {
		err = uerr
	}
	return err
}

// Rename renames the file named by "old,new" in the URL path. The new name
// is relative to the old name's directory unless it starts with '/'.
//
// A path without a comma names nothing to rename and succeeds without
// touching the backend.
func (p *Protocol) Rename(ctx context.Context, u *devicespec.ParsedURL) error {
	from, to, ok := strings.Cut(u.Path, ",")
	if !ok {
		logger.DebugCtx(ctx, "Rename without a target name, nothing to do", logger.Path(u.Path))
		return nil
	}
	r, ok := p.backend.(Renamer)
	if !ok {
		return netstatus.ErrNotImplemented("rename")
	}
	if !strings.HasPrefix(to, "/") {
		dir, _ := splitPath(from)
		to = dir + to
	}
	return p.withMount(ctx, u, func() error {
		return netstatus.FromFSError("rename", r.Rename(ctx, from, to))
	})
}

// Delete removes the file named by the URL path.
func (p *Protocol) Delete(ctx context.Context, u *devicespec.ParsedURL) error {
	r, ok := p.backend.(Remover)
	if !ok {
		return netstatus.ErrNotImplemented("delete")
	}
	return p.withMount(ctx, u, func() error {
		return netstatus.FromFSError("delete", r.Remove(ctx, u.Path))
	})
}

// Mkdir creates the directory named by the URL path.
func (p *Protocol) Mkdir(ctx context.Context, u *devicespec.ParsedURL) error {
	m, ok := p.backend.(DirMaker)
	if !ok {
		return netstatus.ErrNotImplemented("mkdir")
	}
	return p.withMount(ctx, u, func() error {
		return netstatus.FromFSError("mkdir", m.Mkdir(ctx, dirPath(u.Path)))
	})
}

// Rmdir removes the directory named by the URL path.
func (p *Protocol) Rmdir(ctx context.Context, u *devicespec.ParsedURL) error {
	r, ok := p.backend.(DirRemover)
	if !ok {
		return netstatus.ErrNotImplemented("rmdir")
	}
	return p.withMount(ctx, u, func() error {
		return netstatus.FromFSError("rmdir", r.Rmdir(ctx, dirPath(u.Path)))
	})
}

// Lock marks the file read-only.
func (p *Protocol) Lock(ctx context.Context, u *devicespec.ParsedURL) error {
	return p.setLocked(ctx, u, true)
}

// Unlock clears the read-only mark.
func (p *Protocol) Unlock(ctx context.Context, u *devicespec.ParsedURL) error {
	return p.setLocked(ctx, u, false)
}

func (p *Protocol) setLocked(ctx context.Context, u *devicespec.ParsedURL, locked bool) error {
	l, ok := p.backend.(Locker)
	if !ok {
		if locked {
			return netstatus.ErrNotImplemented("lock")
		}
		return netstatus.ErrNotImplemented("unlock")
	}
	return p.withMount(ctx, u, func() error {
		return netstatus.FromFSError("lock", l.SetLocked(ctx, u.Path, locked))
	})
}

func dirPath(p string) string {
	if len(p) > 1 {
		return strings.TrimSuffix(p, "/")
	}
	return p
}
