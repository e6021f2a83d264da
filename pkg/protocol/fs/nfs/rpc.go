package nfs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/marmos91/netbridge/internal/logger"
)

// ONC RPC constants (RFC 5531).
const (
	rpcVersion = 2

	msgCall  = 0
	msgReply = 1

	replyAccepted = 0
	replyDenied   = 1

	authNone = 0
	authUnix = 1
)

// accept_stat values.
const (
	acceptSuccess      = 0
	acceptProgUnavail  = 1
	acceptProgMismatch = 2
	acceptProcUnavail  = 3
	acceptGarbageArgs  = 4
	acceptSystemErr    = 5
)

// RPCError is a call the server refused before running the procedure.
type RPCError struct {
	Program   uint32
	Procedure uint32
	// Denied is set for MSG_DENIED replies; Stat is then the reject_stat.
	Denied bool
	Stat   uint32
}

func (e *RPCError) Error() string {
	if e.Denied {
		return fmt.Sprintf("rpc: program %d proc %d denied (reject_stat %d)", e.Program, e.Procedure, e.Stat)
	}
	switch e.Stat {
	case acceptProgUnavail:
		return fmt.Sprintf("rpc: program %d unavailable", e.Program)
	case acceptProgMismatch:
		return fmt.Sprintf("rpc: program %d version mismatch", e.Program)
	case acceptProcUnavail:
		return fmt.Sprintf("rpc: program %d proc %d unavailable", e.Program, e.Procedure)
	case acceptGarbageArgs:
		return fmt.Sprintf("rpc: program %d proc %d garbage args", e.Program, e.Procedure)
	}
	return fmt.Sprintf("rpc: program %d proc %d system error (accept_stat %d)", e.Program, e.Procedure, e.Stat)
}

// callHeader is the fixed part of an RPC call message.
type callHeader struct {
	XID        uint32
	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	CredFlavor uint32
	CredBody   []byte
	VerfFlavor uint32
	VerfBody   []byte
}

// unixCred is an AUTH_UNIX credential body (RFC 5531 appendix A).
type unixCred struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// rpcClient issues calls over one TCP stream. Calls are serialised.
type rpcClient struct {
	mu      sync.Mutex
	conn    net.Conn
	xid     uint32
	cred    []byte
	timeout time.Duration
}

func dialRPC(ctx context.Context, addr string, cred unixCred, timeout time.Duration) (*rpcClient, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newRPCClient(conn, cred, timeout)
}

func newRPCClient(conn net.Conn, cred unixCred, timeout time.Duration) (*rpcClient, error) {
	body, err := (&encoder{}).put(&cred).Bytes()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("encode auth_unix: %w", err)
	}
	return &rpcClient{
		conn:    conn,
		xid:     uint32(time.Now().UnixNano()),
		cred:    body,
		timeout: timeout,
	}, nil
}

func (c *rpcClient) Close() error {
	return c.conn.Close()
}

// call runs prog.vers.proc with the pre-encoded args and returns a decoder
// positioned at the procedure results.
func (c *rpcClient) call(ctx context.Context, prog, vers, proc uint32, args []byte) (*decoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.xid++
	xid := c.xid

	hdr := callHeader{
		XID:        xid,
		MsgType:    msgCall,
		RPCVersion: rpcVersion,
		Program:    prog,
		Version:    vers,
		Procedure:  proc,
		CredFlavor: authUnix,
		CredBody:   c.cred,
		VerfFlavor: authNone,
	}
	enc := (&encoder{}).put(&hdr)
	enc.buf.Write(args)
	msg, err := enc.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := writeRecord(c.conn, msg); err != nil {
		return nil, c.ctxErr(ctx, err)
	}

	for {
		record, err := readRecord(c.conn)
		if err != nil {
			return nil, c.ctxErr(ctx, err)
		}
		d := newDecoder(record)
		gotXID := d.u32()
		if d.u32() != msgReply || d.err != nil {
			return nil, errors.New("rpc: malformed reply")
		}
		if gotXID != xid {
			logger.Debug("Dropping RPC reply for another call", logger.RequestID(gotXID))
			continue
		}
		if err := acceptReply(d, prog, proc); err != nil {
			return nil, err
		}
		return d, nil
	}
}

// acceptReply consumes the reply_body up to the results.
func acceptReply(d *decoder, prog, proc uint32) error {
	if d.u32() == replyDenied {
		return &RPCError{Program: prog, Procedure: proc, Denied: true, Stat: d.u32()}
	}
	d.u32()    // verifier flavor
	d.opaque() // verifier body
	stat := d.u32()
	if d.err != nil {
		return fmt.Errorf("rpc: decode reply: %w", d.err)
	}
	if stat != acceptSuccess {
		return &RPCError{Program: prog, Procedure: proc, Stat: stat}
	}
	return nil
}

func (c *rpcClient) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("rpc: no reply within %s: %w", c.timeout, err)
	}
	return err
}
