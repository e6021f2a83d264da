package dispatcher

import (
	"bytes"
	"context"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/internal/telemetry"
	"github.com/marmos91/netbridge/pkg/channel"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/metrics"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// Open binds channel n to the protocol named by the devicespec in payload.
//
//  1. aux1/aux2 are stored on the channel
//  2. a bound protocol is closed (its result ignored) and unbound
//  3. the devicespec is resolved against the channel prefix: InvalidDeviceSpec
//  4. the factory creates the protocol for the scheme: GeneralFailure
//  5. the protocol opens the URL: its error, after a best-effort Close
//
// Only when every step succeeds is the protocol bound.
func (d *Dispatcher) Open(ctx context.Context, n uint8, frame protocol.CommandFrame, payload []byte) error {
	s, err := d.lock(n, "open")
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	st := s.state

	spec := devicespec.FromPayload(payload)
	c := d.begin(ctx, n, "OPEN", telemetry.SpanOpen, telemetry.Aux(frame.Aux1, frame.Aux2)...)

	st.Aux1, st.Aux2 = frame.Aux1, frame.Aux2
	d.release(c.ctx, st)
	st.Reset()
	st.DeviceSpec = spec

	scheme, err := d.open(c.ctx, st, frame, spec)
	st.LastError = netstatus.CodeOf(err)
	if err == nil {
		c.scoped(st)
		logger.InfoCtx(c.ctx, "Channel opened", logger.KeyMode, protocol.OpenMode(frame.Aux1).String())
	}
	d.finish(c, scheme, err)
	return err
}

func (d *Dispatcher) open(ctx context.Context, st *channel.State, frame protocol.CommandFrame, spec string) (string, error) {
	res, err := devicespec.Resolve(st.Prefix, spec, frame.Aux1)
	if err != nil {
		return "", netstatus.ErrInvalidDeviceSpec("open", err)
	}
	u := res.URL
	scheme := u.UpperScheme()
	telemetry.SetAttributes(ctx, telemetry.Scheme(scheme), telemetry.DeviceSpec(u.Redacted()))

	p, ok := d.factory.Create(scheme, st)
	if !ok {
		return scheme, netstatus.Errorf(netstatus.GeneralFailure, "open", "no protocol for scheme %q", scheme)
	}

	args := protocol.ArgsFromFrame(frame)
	st.Translation = args.Translation
	if err := p.Open(ctx, u, args); err != nil {
		if cerr := p.Close(ctx); cerr != nil {
			logger.DebugCtx(ctx, "Close after failed open", logger.Err(cerr))
		}
		return scheme, netstatus.FromError("open", err, netstatus.GeneralFailure)
	}

	st.Bind(p, scheme)
	d.bound(1)
	logger.DebugCtx(ctx, "Protocol bound", logger.URL(u.Redacted()), logger.Scheme(scheme))
	return scheme, nil
}

// release closes and unbinds the channel's protocol, if any. A close error
// is logged and otherwise ignored.
func (d *Dispatcher) release(ctx context.Context, st *channel.State) {
	if !st.Bound() {
		return
	}
	scheme := st.Scheme
	p := st.Unbind()
	d.bound(-1)
	if err := p.Close(ctx); err != nil {
		logger.WarnCtx(ctx, "Protocol close reported an error", logger.Scheme(scheme), logger.Err(err))
	}
}

// Close releases channel n. It always succeeds: an unbound channel is left
// as is, and a protocol close error is only logged.
func (d *Dispatcher) Close(ctx context.Context, n uint8) error {
	s, err := d.lock(n, "close")
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	st := s.state

	c := d.begin(ctx, n, "CLOSE", telemetry.SpanClose)
	c.scoped(st)
	scheme := st.Scheme
	if st.Bound() {
		d.release(c.ctx, st)
		st.Reset()
		logger.InfoCtx(c.ctx, "Channel closed")
	}
	st.LastError = netstatus.Success
	d.finish(c, scheme, nil)
	return nil
}

// Read returns up to count bytes from channel n. On a timeout or end of
// stream the bytes that did arrive are returned with the error; padding
// to count is the caller's job.
//
// In JSON mode bytes are served from the last query result without network
// I/O.
func (d *Dispatcher) Read(ctx context.Context, n uint8, count int) ([]byte, error) {
	s, err := d.lock(n, "read")
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	st := s.state

	c := d.begin(ctx, n, "READ", telemetry.SpanRead, telemetry.Count(count))
	c.scoped(st)

	data, err := d.read(c.ctx, st, count)
	st.LastError = netstatus.CodeOf(err)
	st.BytesRead += uint64(len(data))
	metrics.RecordBytes(d.metrics, st.Scheme, "read", len(data))
	c.span.SetAttributes(telemetry.BytesRead(len(data)))
	d.finish(c, st.Scheme, err)
	return data, err
}

func (d *Dispatcher) read(ctx context.Context, st *channel.State, count int) ([]byte, error) {
	p := st.Protocol()
	if p == nil {
		return nil, netstatus.ErrNotConnected("read")
	}
	if count <= 0 {
		return nil, nil
	}

	if st.Mode == channel.ModeJSON {
		data := take(&st.JSONResult, count)
		if len(data) < count {
			return data, netstatus.ErrEOF("read")
		}
		return data, nil
	}

	err := p.Read(ctx, count)
	return take(st.Bufs.Receive, count), err
}

// Write sends data on channel n.
func (d *Dispatcher) Write(ctx context.Context, n uint8, data []byte) error {
	s, err := d.lock(n, "write")
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	st := s.state

	c := d.begin(ctx, n, "WRITE", telemetry.SpanWrite, telemetry.Count(len(data)))
	c.scoped(st)

	err = d.write(c.ctx, st, data)
	st.LastError = netstatus.CodeOf(err)
	if err == nil {
		st.BytesWritten += uint64(len(data))
		metrics.RecordBytes(d.metrics, st.Scheme, "write", len(data))
		c.span.SetAttributes(telemetry.BytesWritten(len(data)))
	}
	d.finish(c, st.Scheme, err)
	return err
}

func (d *Dispatcher) write(ctx context.Context, st *channel.State, data []byte) error {
	p := st.Protocol()
	if p == nil {
		return netstatus.ErrNotConnected("write")
	}
	if len(data) == 0 {
		return nil
	}
	st.Bufs.Transmit.Write(data)
	if err := p.Write(ctx, len(data)); err != nil {
		st.Bufs.Transmit.Reset()
		return err
	}
	return nil
}

// Status reports channel n. An unbound channel reports nothing waiting,
// not connected and the result of the last local operation.
func (d *Dispatcher) Status(ctx context.Context, n uint8) (netstatus.NetworkStatus, error) {
	s, err := d.lock(n, "status")
	if err != nil {
		return netstatus.NetworkStatus{}, err
	}
	defer s.mu.Unlock()
	st := s.state

	c := d.begin(ctx, n, "STATUS", telemetry.SpanStatus)
	c.scoped(st)

	var ns netstatus.NetworkStatus
	ns.Reset()
	p := st.Protocol()
	switch {
	case p == nil:
		ns.Error = st.LastError
	case st.Mode == channel.ModeJSON:
		ns.SetWaiting(int64(st.JSONResult.Len()), netstatus.MaxBytesWaiting)
		ns.Connected = true
		if st.JSONResult.Len() == 0 {
			ns.Error = netstatus.EndOfFile
		}
	default:
		if err := p.Status(c.ctx, &ns); err != nil {
			ns.Error = netstatus.CodeOf(err)
		}
	}

	c.span.SetAttributes(telemetry.BytesWaiting(ns.BytesWaiting))
	logger.DebugCtx(c.ctx, "Status", logger.KeyBytesWaiting, ns.BytesWaiting, logger.KeyConnected, ns.Connected)
	d.finish(c, st.Scheme, nil)
	return ns, nil
}

// take removes up to n bytes from buf and returns a copy of them.
func take(buf *bytes.Buffer, n int) []byte {
	return bytes.Clone(buf.Next(min(n, buf.Len())))
}
