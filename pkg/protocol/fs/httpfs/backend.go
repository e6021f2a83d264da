// Package httpfs is the HTTP/HTTPS backend of the filesystem protocol.
// Files are fetched and sent with plain HTTP verbs chosen by the open mode;
// directory listings and namespace operations use WebDAV.
//
// Open modes:
//
//	4  GET              read the response body
//	5  DELETE           read the response body
//	6  PROPFIND         WebDAV directory listing
//	8  PUT              body written by the host, sent on close
//	12 GET              with request/response header access
//	13 POST             post data written by the host, sent on first read/status
//	14 PUT              same as 8
package httpfs

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
	"github.com/marmos91/netbridge/pkg/protocol/fs"
)

// Config holds HTTP backend settings.
type Config struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	UserAgent          string
	// EOL separates header values served in get-headers mode.
	EOL byte
}

// Backend implements fs.Backend for HTTP and HTTPS.
type Backend struct {
	cfg    Config
	client *http.Client

	base  *url.URL // scheme and authority of the mounted URL
	query string
	user  string
	pass  string
	cur   *request
}

// New creates an HTTP backend.
func New(cfg Config) *Backend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "netbridge"
	}
	if cfg.EOL == 0 {
		cfg.EOL = '\r'
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
}

// Name implements fs.Backend.
func (b *Backend) Name() string { return "http" }

// Mount implements fs.Backend. No request is made.
func (b *Backend) Mount(_ context.Context, u *devicespec.ParsedURL, creds fs.Credentials) error {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return netstatus.Errorf(netstatus.InvalidDeviceSpec, "mount", "scheme %q is not http", u.Scheme)
	}
	host := u.Host
	switch {
	case u.Port != "":
		host = u.HostPort(0)
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}
	b.base = &url.URL{Scheme: scheme, Host: host}
	b.query = u.Query

	b.user, b.pass = creds.Login, creds.Password
	if u.User != "" {
		b.user, b.pass = u.User, u.Password
	}
	return nil
}

// Unmount implements fs.Backend.
func (b *Backend) Unmount(context.Context) error {
	b.base = nil
	b.cur = nil
	return nil
}

func (b *Backend) target(p string) string {
	u := *b.base
	u.Path = p
	u.RawQuery = b.query
	return u.String()
}

func (b *Backend) newRequest(ctx context.Context, method, p string) (*http.Request, error) {
	if b.base == nil {
		return nil, netstatus.ErrNotConnected(strings.ToLower(method))
	}
	req, err := http.NewRequestWithContext(ctx, method, b.target(p), nil)
	if err != nil {
		return nil, netstatus.Wrap(netstatus.InvalidDeviceSpec, strings.ToLower(method), err)
	}
	req.Header.Set("User-Agent", b.cfg.UserAgent)
	if b.user != "" {
		req.SetBasicAuth(b.user, b.pass)
	}
	return req, nil
}

// Stat implements fs.Backend with HEAD. Servers that refuse HEAD are
// assumed to serve the file; its size is learned from the GET.
func (b *Backend) Stat(ctx context.Context, p string) (fs.Entry, error) {
	req, err := b.newRequest(ctx, http.MethodHead, p)
	if err != nil {
		return fs.Entry{}, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fs.Entry{}, netstatus.FromNetError("stat", err)
	}
	_ = resp.Body.Close()

	entry := fs.Entry{Name: path.Base(p), Size: resp.ContentLength, IsDir: strings.HasSuffix(p, "/")}
	if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		entry.ModTime = t
	}

	switch resp.StatusCode {
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		entry.Size = -1
		return entry, nil
	}
	if code := netstatus.FromHTTPStatus(resp.StatusCode); code != netstatus.Success {
		return fs.Entry{}, netstatus.Errorf(code, "stat", "HEAD %s: %s", p, resp.Status)
	}
	return entry, nil
}

// OpenFile implements fs.Backend. The request is prepared but not sent.
func (b *Backend) OpenFile(ctx context.Context, p string, mode protocol.OpenMode) (fs.File, error) {
	var method string
	switch mode {
	case protocol.ModeRead, protocol.ModeReadWrite:
		method = http.MethodGet
	case protocol.ModeDelete:
		method = http.MethodDelete
	case protocol.ModeWrite, protocol.ModePut:
		method = http.MethodPut
	case protocol.ModePost:
		method = http.MethodPost
	default:
		return nil, netstatus.Errorf(netstatus.InvalidCommand, "open", "mode %s not supported by HTTP", mode)
	}

	req, err := b.newRequest(context.WithoutCancel(ctx), method, p)
	if err != nil {
		return nil, err
	}
	r := newRequest(b.client, req, mode, b.cfg.EOL)
	b.cur = r
	logger.DebugCtx(ctx, "HTTP request prepared", logger.KeyMode, method, logger.URL(redact(req.URL)))
	return r, nil
}

// redact drops userinfo before a URL is logged.
func redact(u *url.URL) string {
	c := *u
	c.User = nil
	return c.String()
}

// SpecialInquiry implements fs.SpecialCommander.
func (b *Backend) SpecialInquiry(cmd byte) protocol.Direction {
	if cmd == 'M' {
		return protocol.DirNone
	}
	return protocol.DirUnsupported
}

// SpecialExecute implements fs.SpecialCommander. 'M' switches the channel
// mode of the open request to aux2.
func (b *Backend) SpecialExecute(ctx context.Context, _ protocol.Direction, frame protocol.CommandFrame, _ []byte) ([]byte, error) {
	if frame.Command != 'M' {
		return nil, netstatus.New(netstatus.InvalidCommand, "special")
	}
	if b.cur == nil {
		return nil, netstatus.ErrNotConnected("set-channel-mode")
	}
	if err := b.cur.setMode(channelMode(frame.Aux2)); err != nil {
		return nil, err
	}
	logger.DebugCtx(ctx, "HTTP channel mode set", logger.KeyChannelMode, channelMode(frame.Aux2).String())
	return nil, nil
}

// ============================================================================
// WebDAV
// ============================================================================

func (b *Backend) dav() (*gowebdav.Client, error) {
	if b.base == nil {
		return nil, netstatus.ErrNotConnected("webdav")
	}
	root := *b.base
	root.Path = "/"
	c := gowebdav.NewClient(root.String(), b.user, b.pass)
	c.SetTimeout(b.cfg.Timeout)
	c.SetTransport(b.client.Transport)
	c.SetHeader("User-Agent", b.cfg.UserAgent)
	return c, nil
}

// OpenDir implements fs.Backend with PROPFIND.
func (b *Backend) OpenDir(_ context.Context, p string) (fs.DirIterator, error) {
	c, err := b.dav()
	if err != nil {
		return nil, err
	}
	infos, err := c.ReadDir(p)
	if err != nil {
		return nil, translateDAV("propfind", err)
	}
	it := &fs.SliceIterator{Entries: make([]fs.Entry, 0, len(infos))}
	for _, fi := range infos {
		it.Entries = append(it.Entries, fs.Entry{
			Name:    fi.Name(),
			Size:    fi.Size(),
			IsDir:   fi.IsDir(),
			ModTime: fi.ModTime(),
		})
	}
	return it, nil
}

// Rename implements fs.Renamer with MOVE.
func (b *Backend) Rename(_ context.Context, from, to string) error {
	c, err := b.dav()
	if err != nil {
		return err
	}
	return translateDAV("rename", c.Rename(from, to, false))
}

// Remove implements fs.Remover with DELETE.
func (b *Backend) Remove(_ context.Context, p string) error {
	c, err := b.dav()
	if err != nil {
		return err
	}
	return translateDAV("delete", c.Remove(p))
}

// Mkdir implements fs.DirMaker with MKCOL.
func (b *Backend) Mkdir(_ context.Context, p string) error {
	c, err := b.dav()
	if err != nil {
		return err
	}
	return translateDAV("mkdir", c.Mkdir(p, 0o755))
}

// Rmdir implements fs.DirRemover with DELETE.
func (b *Backend) Rmdir(_ context.Context, p string) error {
	c, err := b.dav()
	if err != nil {
		return err
	}
	return translateDAV("rmdir", c.Remove(strings.TrimSuffix(p, "/")+"/"))
}

var davStatuses = []int{
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusMethodNotAllowed,
	http.StatusConflict,
	http.StatusPreconditionFailed,
	http.StatusInsufficientStorage,
	http.StatusNotImplemented,
	http.StatusServiceUnavailable,
}

func translateDAV(op string, err error) error {
	if err == nil {
		return nil
	}
	if gowebdav.IsErrNotFound(err) || errors.Is(err, os.ErrNotExist) {
		return netstatus.Wrap(netstatus.FileNotFound, op, err)
	}
	for _, status := range davStatuses {
		if gowebdav.IsErrCode(err, status) {
			return netstatus.Wrap(netstatus.FromHTTPStatus(status), op, err)
		}
	}
	return netstatus.FromNetError(op, err)
}
