package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/internal/telemetry"
	"github.com/marmos91/netbridge/pkg/channel"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/jsonmode"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// Commands handled on the channel state, before any protocol sees them.
const (
	CmdSetPrefix      byte = ','
	CmdGetPrefix      byte = '0'
	CmdSetLogin       byte = 0xFD
	CmdSetPassword    byte = 0xFE
	CmdSetChannelMode byte = 0xFC
	CmdSetTranslation byte = 'T'
	CmdParseJSON      byte = 'P'
	CmdQueryJSON      byte = 'Q'
)

// Idempotent filesystem commands. The payload is a devicespec; each runs
// on a temporary protocol and never touches the channel binding.
const (
	CmdRename byte = 0x20
	CmdDelete byte = 0x21
	CmdLock   byte = 0x23
	CmdUnlock byte = 0x24
	CmdMkdir  byte = 0x2A
	CmdRmdir  byte = 0x2B
)

var intercepted = map[byte]protocol.Direction{
	CmdSetPrefix:      protocol.DirFromHost,
	CmdGetPrefix:      protocol.DirToHost,
	CmdSetLogin:       protocol.DirFromHost,
	CmdSetPassword:    protocol.DirFromHost,
	CmdSetChannelMode: protocol.DirNone,
	CmdSetTranslation: protocol.DirNone,
	CmdParseJSON:      protocol.DirNone,
	CmdQueryJSON:      protocol.DirFromHost,
	CmdRename:         protocol.DirFromHost,
	CmdDelete:         protocol.DirFromHost,
	CmdLock:           protocol.DirFromHost,
	CmdUnlock:         protocol.DirFromHost,
	CmdMkdir:          protocol.DirFromHost,
	CmdRmdir:          protocol.DirFromHost,
}

type fsOp func(protocol.FilesystemOps, context.Context, *devicespec.ParsedURL) error

var fsOps = map[byte]fsOp{
	CmdRename: protocol.FilesystemOps.Rename,
	CmdDelete: protocol.FilesystemOps.Delete,
	CmdLock:   protocol.FilesystemOps.Lock,
	CmdUnlock: protocol.FilesystemOps.Unlock,
	CmdMkdir:  protocol.FilesystemOps.Mkdir,
	CmdRmdir:  protocol.FilesystemOps.Rmdir,
}

// SpecialInquiry reports the payload direction of cmd on channel n.
// Channel commands answer for themselves; anything else is asked of the
// bound protocol, and is unsupported on an unbound channel.
func (d *Dispatcher) SpecialInquiry(ctx context.Context, n uint8, cmd byte) protocol.Direction {
	s, err := d.lock(n, "inquiry")
	if err != nil {
		return protocol.DirUnsupported
	}
	defer s.mu.Unlock()

	c := d.begin(ctx, n, "INQUIRY", telemetry.SpanSpecialInquiry, telemetry.Command(cmd))
	c.scoped(s.state)
	dir := d.inquire(s.state, cmd)
	c.span.SetAttributes(telemetry.Direction(dir.String()))
	logger.DebugCtx(c.ctx, "Special inquiry", logger.Opcode(cmd), logger.KeyDirection, dir.String())
	d.finish(c, s.state.Scheme, nil)
	return dir
}

func (d *Dispatcher) inquire(st *channel.State, cmd byte) protocol.Direction {
	if dir, ok := intercepted[cmd]; ok {
		return dir
	}
	if p := st.Protocol(); p != nil {
		return p.SpecialInquiry(cmd)
	}
	return protocol.DirUnsupported
}

// SpecialExecute runs frame.Command on channel n. For DirFromHost commands
// payload is the bus data; for DirToHost commands the returned bytes go to
// the bus.
func (d *Dispatcher) SpecialExecute(ctx context.Context, n uint8, frame protocol.CommandFrame, payload []byte) ([]byte, error) {
	s, err := d.lock(n, "special")
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	st := s.state

	c := d.begin(ctx, n, "SPECIAL", telemetry.SpanSpecialExecute,
		append(telemetry.Aux(frame.Aux1, frame.Aux2), telemetry.Command(frame.Command))...)
	c.scoped(st)

	out, err := d.execute(c.ctx, st, frame, payload)
	st.LastError = netstatus.CodeOf(err)
	d.finish(c, st.Scheme, err)
	return out, err
}

func (d *Dispatcher) execute(ctx context.Context, st *channel.State, frame protocol.CommandFrame, payload []byte) ([]byte, error) {
	switch frame.Command {
	case CmdSetPrefix:
		return nil, d.setPrefix(ctx, st, payload)

	case CmdGetPrefix:
		out := make([]byte, devicespec.MaxLength)
		copy(out, st.Prefix)
		return out, nil

	case CmdSetLogin:
		st.SetCredentials(devicespec.FromPayload(payload), st.Password)
		return nil, nil

	case CmdSetPassword:
		st.Password = devicespec.FromPayload(payload)
		return nil, nil

	case CmdSetChannelMode:
		return nil, d.setChannelMode(ctx, st, frame.Aux2)

	case CmdSetTranslation:
		st.Translation = protocol.TranslationFromAux2(frame.Aux2)
		if ts, ok := st.Protocol().(protocol.TranslationSetter); ok {
			ts.SetTranslation(st.Translation)
		}
		return nil, nil

	case CmdParseJSON:
		return nil, d.parseJSON(ctx, st)

	case CmdQueryJSON:
		return nil, d.queryJSON(ctx, st, payload)
	}

	if op, ok := fsOps[frame.Command]; ok {
		return nil, d.filesystem(ctx, st, frame, payload, op)
	}

	p := st.Protocol()
	if p == nil {
		return nil, netstatus.ErrNotConnected("special")
	}
	dir := p.SpecialInquiry(frame.Command)
	if dir == protocol.DirUnsupported {
		return nil, netstatus.Errorf(netstatus.InvalidCommand, "special", "command 0x%02X not supported", frame.Command)
	}
	if dir != protocol.DirFromHost {
		payload = nil
	}
	out, err := p.SpecialExecute(ctx, dir, frame, payload)
	if err != nil {
		return out, netstatus.FromError("special", err, netstatus.GeneralFailure)
	}
	return out, nil
}

// ============================================================================
// Channel state commands
// ============================================================================

func (d *Dispatcher) setPrefix(ctx context.Context, st *channel.State, payload []byte) error {
	next, err := devicespec.ApplyPrefix(st.Prefix, devicespec.FromPayload(payload))
	if err != nil {
		return netstatus.ErrInvalidDeviceSpec("set prefix", err)
	}
	st.Prefix = next
	logger.DebugCtx(ctx, "Prefix set", logger.Prefix(next))

	if d.prefixes != nil {
		if err := d.prefixes.Save(ctx, st.Number, next); err != nil {
			logger.WarnCtx(ctx, "Failed to persist prefix", logger.Err(err))
		}
	}
	return nil
}

func (d *Dispatcher) setChannelMode(ctx context.Context, st *channel.State, aux2 byte) error {
	switch channel.Mode(aux2) {
	case channel.ModeProtocol, channel.ModeJSON:
		st.Mode = channel.Mode(aux2)
		logger.DebugCtx(ctx, "Channel mode set", logger.KeyChannelMode, st.Mode.String())
		return nil
	default:
		return netstatus.Errorf(netstatus.InvalidCommand, "channel mode", "unknown channel mode %d", aux2)
	}
}

// parseJSON drains the bound protocol and parses what it returned.
func (d *Dispatcher) parseJSON(ctx context.Context, st *channel.State) error {
	p := st.Protocol()
	if p == nil {
		return netstatus.ErrNotConnected("json parse")
	}

	var doc bytes.Buffer
	for {
		doc.Write(st.Bufs.Receive.Bytes())
		st.Bufs.Receive.Reset()
		if doc.Len() > d.maxJSON {
			return netstatus.Errorf(netstatus.CouldNotAllocateBuffers, "json parse", "document exceeds %d bytes", d.maxJSON)
		}

		var ns netstatus.NetworkStatus
		ns.Reset()
		if err := p.Status(ctx, &ns); err != nil || ns.BytesWaiting == 0 {
			break
		}
		if err := p.Read(ctx, int(ns.BytesWaiting)); err != nil {
			if netstatus.Is(err, netstatus.EndOfFile) {
				doc.Write(st.Bufs.Receive.Bytes())
				st.Bufs.Receive.Reset()
				break
			}
			return err
		}
	}

	parsed, err := jsonmode.Parse(doc.Bytes())
	if err != nil {
		return err
	}
	st.JSON = parsed
	st.JSONResult.Reset()
	logger.DebugCtx(ctx, "JSON parsed", logger.Size(uint64(parsed.Len())))
	return nil
}

func (d *Dispatcher) queryJSON(ctx context.Context, st *channel.State, payload []byte) error {
	if st.JSON == nil {
		return netstatus.Errorf(netstatus.CouldNotParseJSON, "json query", "no document parsed")
	}
	query := devicespec.FromPayload(payload)
	value, err := st.JSON.Query(query)
	if err != nil {
		st.JSONResult.Reset()
		return err
	}
	st.JSONResult.Reset()
	st.JSONResult.Write(value)
	st.JSONResult.WriteByte(d.eol)
	logger.DebugCtx(ctx, "JSON query", logger.Path(query), logger.Size(uint64(len(value))))
	return nil
}

// ============================================================================
// Filesystem commands
// ============================================================================

// filesystem runs op on a temporary protocol for the devicespec in payload.
// The temporary protocol gets the channel credentials but its own buffers,
// and is discarded afterwards.
func (d *Dispatcher) filesystem(ctx context.Context, st *channel.State, frame protocol.CommandFrame, payload []byte, op fsOp) error {
	res, err := devicespec.Resolve(st.Prefix, devicespec.FromPayload(payload), frame.Aux1)
	if err != nil {
		return netstatus.ErrInvalidDeviceSpec("special", err)
	}
	scheme := res.URL.UpperScheme()

	scratch := channel.New(st.Number)
	scratch.SetCredentials(st.Login, st.Password)
	p, ok := d.factory.Create(scheme, scratch)
	if !ok {
		return netstatus.Errorf(netstatus.GeneralFailure, "special", "no protocol for scheme %q", scheme)
	}
	defer func() {
		if err := p.Close(ctx); err != nil {
			logger.DebugCtx(ctx, "Close of temporary protocol", logger.Err(err))
		}
	}()

	fsp, ok := p.(protocol.FilesystemOps)
	if !ok {
		return netstatus.ErrNotImplemented("special")
	}

	logger.DebugCtx(ctx, "Filesystem command", logger.Opcode(frame.Command), logger.URL(res.URL.Redacted()))
	if err := op(fsp, ctx, res.URL); err != nil {
		var ne *netstatus.Error
		if !errors.As(err, &ne) {
			return netstatus.Wrap(netstatus.GeneralFailure, "special", fmt.Errorf("command 0x%02X: %w", frame.Command, err))
		}
		return err
	}
	return nil
}
