// Package smb is the SMB2/3 backend of the filesystem protocol. The first
// path segment of the URL names the share: SMB://host/share/dir/file.
package smb

import (
	"context"
	"errors"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
	"github.com/marmos91/netbridge/pkg/protocol/fs"
)

// DefaultPort is the SMB direct-hosted TCP port.
const DefaultPort = 445

// Config holds SMB backend settings.
type Config struct {
	Domain  string
	Timeout time.Duration
}

// Backend implements fs.Backend over one SMB session and share per mount.
type Backend struct {
	cfg Config

	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
	name    string // mounted share name
}

// New creates an SMB backend.
func New(cfg Config) *Backend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Backend{cfg: cfg}
}

// Name implements fs.Backend.
func (b *Backend) Name() string { return "smb" }

// SplitShare splits an URL path into share name and share-relative path.
func SplitShare(p string) (share, rest string) {
	p = strings.TrimPrefix(p, "/")
	share, rest, _ = strings.Cut(p, "/")
	return share, "/" + rest
}

// sharePath converts a URL path to the backslash-separated form go-smb2
// expects, relative to the share root.
func (b *Backend) sharePath(p string) string {
	_, rest := SplitShare(p)
	rest = strings.Trim(rest, "/")
	return strings.ReplaceAll(rest, "/", `\`)
}

// Mount implements fs.Backend.
func (b *Backend) Mount(ctx context.Context, u *devicespec.ParsedURL, creds fs.Credentials) error {
	share, _ := SplitShare(u.Path)
	if share == "" {
		return netstatus.Errorf(netstatus.InvalidDeviceSpec, "mount", "no share in %q", u.Path)
	}

	user, pass := creds.Login, creds.Password
	if u.User != "" {
		user, pass = u.User, u.Password
	}
	if user == "" {
		user = "guest"
	}

	dialer := net.Dialer{Timeout: b.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", u.HostPort(DefaultPort))
	if err != nil {
		return netstatus.FromNetError("connect", err)
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     user,
			Password: pass,
			Domain:   b.cfg.Domain,
		},
	}
	session, err := d.DialContext(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return translate("session", err)
	}

	mounted, err := session.WithContext(ctx).Mount(share)
	if err != nil {
		_ = session.Logoff()
		_ = conn.Close()
		return translate("mount", err)
	}

	b.conn, b.session, b.share, b.name = conn, session, mounted, share
	logger.DebugCtx(ctx, "SMB share mounted", logger.Host(u.Host), logger.KeyShare, share, logger.KeyUser, user)
	return nil
}

// Unmount implements fs.Backend.
func (b *Backend) Unmount(context.Context) error {
	var err error
	if b.share != nil {
		err = b.share.Umount()
	}
	if b.session != nil {
		_ = b.session.Logoff()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.conn, b.session, b.share, b.name = nil, nil, nil, ""
	return translate("umount", err)
}

func (b *Backend) mounted(ctx context.Context, op string) (*smb2.Share, error) {
	if b.share == nil {
		return nil, netstatus.ErrNotConnected(op)
	}
	return b.share.WithContext(ctx), nil
}

func entryOf(fi os.FileInfo) fs.Entry {
	return fs.Entry{
		Name:    fi.Name(),
		Size:    fi.Size(),
		IsDir:   fi.IsDir(),
		Locked:  fi.Mode().Perm()&0o200 == 0,
		ModTime: fi.ModTime(),
	}
}

// Stat implements fs.Backend.
func (b *Backend) Stat(ctx context.Context, p string) (fs.Entry, error) {
	s, err := b.mounted(ctx, "stat")
	if err != nil {
		return fs.Entry{}, err
	}
	fi, err := s.Stat(b.sharePath(p))
	if err != nil {
		return fs.Entry{}, translate("stat", err)
	}
	return entryOf(fi), nil
}

// OpenDir implements fs.Backend.
func (b *Backend) OpenDir(ctx context.Context, p string) (fs.DirIterator, error) {
	s, err := b.mounted(ctx, "opendir")
	if err != nil {
		return nil, err
	}
	infos, err := s.ReadDir(b.sharePath(p))
	if err != nil {
		return nil, translate("opendir", err)
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
func (b *Backend) OpenFile(ctx context.Context, p string, mode protocol.OpenMode) (fs.File, error) {
	s, err := b.mounted(ctx, "open")
	if err != nil {
		return nil, err
	}
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
		return nil, netstatus.Errorf(netstatus.InvalidCommand, "open", "mode %s not supported by SMB", mode)
	}
	f, err := s.OpenFile(b.sharePath(p), flag, 0o644)
	if err != nil {
		return nil, translate("open", err)
	}
	return f, nil
}

// Rename implements fs.Renamer. Both names are in the mounted share.
func (b *Backend) Rename(ctx context.Context, from, to string) error {
	s, err := b.mounted(ctx, "rename")
	if err != nil {
		return err
	}
	if share, _ := SplitShare(to); !strings.EqualFold(share, b.name) {
		to = "/" + b.name + to
	}
	return translate("rename", s.Rename(b.sharePath(from), b.sharePath(to)))
}

// Remove implements fs.Remover.
func (b *Backend) Remove(ctx context.Context, p string) error {
	s, err := b.mounted(ctx, "delete")
	if err != nil {
		return err
	}
	return translate("delete", s.Remove(b.sharePath(p)))
}

// Mkdir implements fs.DirMaker.
func (b *Backend) Mkdir(ctx context.Context, p string) error {
	s, err := b.mounted(ctx, "mkdir")
	if err != nil {
		return err
	}
	return translate("mkdir", s.Mkdir(b.sharePath(p), 0o755))
}

// Rmdir implements fs.DirRemover.
func (b *Backend) Rmdir(ctx context.Context, p string) error {
	s, err := b.mounted(ctx, "rmdir")
	if err != nil {
		return err
	}
	return translate("rmdir", s.Remove(b.sharePath(p)))
}

// SetLocked implements fs.Locker via the read-only attribute.
func (b *Backend) SetLocked(ctx context.Context, p string, locked bool) error {
	s, err := b.mounted(ctx, "lock")
	if err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if locked {
		mode = 0o444
	}
	return translate("lock", s.Chmod(b.sharePath(p), mode))
}

// ============================================================================
// NTSTATUS translation
// ============================================================================

var ntStatusCodes = map[uint32]netstatus.ErrorCode{
	0xC000000F: netstatus.FileNotFound,              // STATUS_NO_SUCH_FILE
	0xC0000022: netstatus.AccessDenied,              // STATUS_ACCESS_DENIED
	0xC0000034: netstatus.FileNotFound,              // STATUS_OBJECT_NAME_NOT_FOUND
	0xC0000035: netstatus.FileExists,                // STATUS_OBJECT_NAME_COLLISION
	0xC000003A: netstatus.FileNotFound,              // STATUS_OBJECT_PATH_NOT_FOUND
	0xC0000043: netstatus.AccessDenied,              // STATUS_SHARING_VIOLATION
	0xC000006D: netstatus.InvalidUsernameOrPassword, // STATUS_LOGON_FAILURE
	0xC000007F: netstatus.NoSpaceOnDevice,           // STATUS_DISK_FULL
	0xC00000BA: netstatus.AccessDenied,              // STATUS_FILE_IS_A_DIRECTORY
	0xC00000BB: netstatus.NotImplemented,            // STATUS_NOT_SUPPORTED
	0xC00000CC: netstatus.InvalidDeviceSpec,         // STATUS_BAD_NETWORK_NAME
	0xC0000101: netstatus.AccessDenied,              // STATUS_DIRECTORY_NOT_EMPTY
	0xC0000103: netstatus.NotADirectory,             // STATUS_NOT_A_DIRECTORY
	0xC0000225: netstatus.FileNotFound,              // STATUS_NOT_FOUND
}

// CodeForStatus translates an NTSTATUS value.
func CodeForStatus(status uint32) netstatus.ErrorCode {
	if c, ok := ntStatusCodes[status]; ok {
		return c
	}
	return netstatus.GeneralFailure
}

func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *smb2.ResponseError
	if errors.As(err, &re) {
		return netstatus.Wrap(CodeForStatus(re.Code), op, err)
	}
	return netstatus.FromFSError(op, err)
}
