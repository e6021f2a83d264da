package tnfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/marmos91/netbridge/internal/logger"
)

// Config controls the client's retransmission behavior.
type Config struct {
	// Timeout is how long one attempt waits for its reply.
	Timeout time.Duration
	// Retries is the number of retransmissions after the first attempt.
	Retries int
	// RetryDelay is the back-off after an EAGAIN reply when the server
	// did not announce its own minimum retry time.
	RetryDelay time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Timeout:    2 * time.Second,
		Retries:    3,
		RetryDelay: 100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Retries < 0 {
		c.Retries = def.Retries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	return c
}

// Client is a TNFS session over a connected UDP socket. Calls are
// serialized; TNFS allows one outstanding request per session.
type Client struct {
	mu       sync.Mutex
	conn     net.Conn
	cfg      Config
	connID   uint16
	seq      uint8
	minRetry time.Duration
	version  uint16
	buf      [maxDatagram]byte
}

// Dial connects a UDP socket to addr. No datagram is sent until Mount.
func Dial(ctx context.Context, addr string, cfg Config) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tnfs server %s: %w", addr, err)
	}
	return NewClient(conn, cfg), nil
}

// NewClient wraps an existing connection.
func NewClient(conn net.Conn, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{conn: conn, cfg: cfg, minRetry: cfg.RetryDelay}
}

// ConnID returns the session id assigned by the server at mount.
func (c *Client) ConnID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// ServerVersion returns the protocol version the server announced, as
// major<<8 | minor.
func (c *Client) ServerVersion() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Close closes the socket without unmounting.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends one request and waits for its reply, retransmitting the
// same datagram on timeout. Replies with a stale sequence number are
// discarded. An EAGAIN reply backs off for the server's minimum retry time
// before the next attempt.
func (c *Client) call(ctx context.Context, cmd Command, payload []byte) (header, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	h := header{ConnID: c.connID, Seq: c.seq, Command: cmd}
	req := encodeRequest(h, payload)

	for attempt := 0; attempt <= c.cfg.Retries; {
		if err := ctx.Err(); err != nil {
			return header{}, nil, err
		}
		if attempt > 0 {
			logger.DebugCtx(ctx, "TNFS retransmit",
				logger.Operation(cmd.String()), logger.RequestID(uint32(h.Seq)), logger.Attempt(attempt))
		}
		if _, err := c.conn.Write(req); err != nil {
			return header{}, nil, fmt.Errorf("tnfs %s: send: %w", cmd, err)
		}

		rh, st, body, err := c.await(ctx, h)
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			attempt++
			continue
		case err != nil:
			return header{}, nil, err
		case st == StatusAgain:
			if err := sleep(ctx, c.minRetry); err != nil {
				return header{}, nil, err
			}
			attempt++
			continue
		case st != StatusOK:
			return rh, nil, &StatusError{Command: cmd, Status: st}
		}
		return rh, append([]byte(nil), body...), nil
	}
	return header{}, nil, fmt.Errorf("tnfs %s: no reply after %d attempts: %w",
		cmd, c.cfg.Retries+1, os.ErrDeadlineExceeded)
}

// await reads datagrams until one answers h or the attempt times out.
func (c *Client) await(ctx context.Context, h header) (header, Status, []byte, error) {
	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return header{}, 0, nil, err
	}

	for {
		n, err := c.conn.Read(c.buf[:])
		if err != nil {
			return header{}, 0, nil, err
		}
		rh, st, body, err := decodeReply(c.buf[:n])
		if err != nil {
			logger.Debug("TNFS malformed reply dropped", logger.Err(err))
			continue
		}
		if rh.Seq != h.Seq || rh.Command != h.Command {
			continue
		}
		return rh, st, body, nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ============================================================================
// Session
// ============================================================================

// Mount starts a session on the server's mount point.
func (c *Client) Mount(ctx context.Context, mountPoint, user, password string) error {
	w := &payloadWriter{}
	w.u8(versionMinor).u8(versionMajor).str(mountPoint).str(user).str(password)

	h, body, err := c.call(ctx, CmdMount, w.Bytes())
	if err != nil {
		return err
	}
	r := &payloadReader{b: body}
	minor, major := r.u8(), r.u8()
	retryMs := r.u16()

	c.mu.Lock()
	c.connID = h.ConnID
	c.version = uint16(major)<<8 | uint16(minor)
	if r.err == nil && retryMs > 0 {
		c.minRetry = time.Duration(retryMs) * time.Millisecond
	}
	c.mu.Unlock()

	logger.DebugCtx(ctx, "TNFS mounted", "conn_id", h.ConnID, "server_version", fmt.Sprintf("%d.%d", major, minor))
	return nil
}

// Umount ends the session.
func (c *Client) Umount(ctx context.Context) error {
	_, _, err := c.call(ctx, CmdUmount, nil)
	return err
}

// ============================================================================
// Files
// ============================================================================

// Open opens path and returns the server file descriptor.
func (c *Client) Open(ctx context.Context, path string, flags, mode uint16) (byte, error) {
	w := &payloadWriter{}
	w.u16(flags).u16(mode).str(path)
	_, body, err := c.call(ctx, CmdOpen, w.Bytes())
	if err != nil {
		return 0, err
	}
	r := &payloadReader{b: body}
	fd := r.u8()
	return fd, r.err
}

// Read reads up to n (at most MaxIO) bytes. It returns io.EOF at the end
// of the file.
func (c *Client) Read(ctx context.Context, fd byte, n int) ([]byte, error) {
	if n > MaxIO {
		n = MaxIO
	}
	w := &payloadWriter{}
	w.u8(fd).u16(uint16(n))
	_, body, err := c.call(ctx, CmdRead, w.Bytes())
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == StatusEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	r := &payloadReader{b: body}
	count := int(r.u16())
	data := r.bytes(count)
	return data, r.err
}

// Write writes up to MaxIO bytes of p and returns the count accepted.
func (c *Client) Write(ctx context.Context, fd byte, p []byte) (int, error) {
	if len(p) > MaxIO {
		p = p[:MaxIO]
	}
	w := &payloadWriter{}
	w.u8(fd).u16(uint16(len(p)))
	w.Write(p)
	_, body, err := c.call(ctx, CmdWrite, w.Bytes())
	if err != nil {
		return 0, err
	}
	r := &payloadReader{b: body}
	n := int(r.u16())
	return n, r.err
}

// CloseFile releases a file descriptor.
func (c *Client) CloseFile(ctx context.Context, fd byte) error {
	_, _, err := c.call(ctx, CmdClose, []byte{fd})
	return err
}

// Stat returns the attributes of path.
func (c *Client) Stat(ctx context.Context, path string) (FileInfo, error) {
	w := &payloadWriter{}
	w.str(path)
	_, body, err := c.call(ctx, CmdStat, w.Bytes())
	if err != nil {
		return FileInfo{}, err
	}
	return decodeStat(body)
}

// ============================================================================
// Directories
// ============================================================================

// OpenDir opens a directory and returns its handle.
func (c *Client) OpenDir(ctx context.Context, path string) (byte, error) {
	w := &payloadWriter{}
	w.str(path)
	_, body, err := c.call(ctx, CmdOpenDir, w.Bytes())
	if err != nil {
		return 0, err
	}
	r := &payloadReader{b: body}
	handle := r.u8()
	return handle, r.err
}

// ReadDir returns the next entry name, or io.EOF after the last one.
func (c *Client) ReadDir(ctx context.Context, handle byte) (string, error) {
	_, body, err := c.call(ctx, CmdReadDir, []byte{handle})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == StatusEOF {
			return "", io.EOF
		}
		return "", err
	}
	r := &payloadReader{b: body}
	return r.str(), nil
}

// CloseDir releases a directory handle.
func (c *Client) CloseDir(ctx context.Context, handle byte) error {
	_, _, err := c.call(ctx, CmdCloseDir, []byte{handle})
	return err
}

// ============================================================================
// Namespace operations
// ============================================================================

func (c *Client) pathCall(ctx context.Context, cmd Command, path string) error {
	w := &payloadWriter{}
	w.str(path)
	_, _, err := c.call(ctx, cmd, w.Bytes())
	return err
}

// Unlink removes a file.
func (c *Client) Unlink(ctx context.Context, path string) error {
	return c.pathCall(ctx, CmdUnlink, path)
}

// Mkdir creates a directory.
func (c *Client) Mkdir(ctx context.Context, path string) error {
	return c.pathCall(ctx, CmdMkdir, path)
}

// Rmdir removes an empty directory.
func (c *Client) Rmdir(ctx context.Context, path string) error {
	return c.pathCall(ctx, CmdRmdir, path)
}

// Rename renames from to to.
func (c *Client) Rename(ctx context.Context, from, to string) error {
	w := &payloadWriter{}
	w.str(from).str(to)
	_, _, err := c.call(ctx, CmdRename, w.Bytes())
	return err
}

// Chmod sets the permission bits of path.
func (c *Client) Chmod(ctx context.Context, path string, mode uint16) error {
	w := &payloadWriter{}
	w.u16(mode).str(path)
	_, _, err := c.call(ctx, CmdChmod, w.Bytes())
	return err
}
