// Package dispatcher is the canonical channel state machine a bus front-end
// drives. Every bus variant reduces its frames to the calls on Dispatcher:
// Open, Close, Read, Write, Status, SpecialInquiry and SpecialExecute.
//
// Channel states:
//
//	Closed --Open--> Open --Close--> Closed
//
// Open always releases the previous binding first, so a channel never has
// more than one protocol bound. Every failure leaves the channel Closed with
// no protocol bound.
//
// Thread safety: each channel has its own mutex; commands on one channel are
// strictly serial while different channels proceed independently.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/internal/telemetry"
	"github.com/marmos91/netbridge/pkg/channel"
	"github.com/marmos91/netbridge/pkg/metrics"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/prefixstore"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// DefaultChannels is the number of channels when none is configured.
const DefaultChannels = 16

// ErrNoChannel is returned for a channel number outside the configured range.
var ErrNoChannel = errors.New("dispatcher: no such channel")

// ProtocolFactory creates the protocol for a scheme. *factory.Factory
// implements it.
type ProtocolFactory interface {
	Create(scheme string, ch *channel.State) (protocol.NetworkProtocol, bool)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithChannels sets the number of channels (1-256).
func WithChannels(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 && n <= 256 {
			d.numChannels = n
		}
	}
}

// WithMetrics enables command metrics. nil disables them.
func WithMetrics(m metrics.BridgeMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithPrefixStore persists prefixes in s.
func WithPrefixStore(s prefixstore.Store) Option {
	return func(d *Dispatcher) { d.prefixes = s }
}

// WithEOL sets the host end-of-line byte appended to JSON query results.
func WithEOL(eol byte) Option {
	return func(d *Dispatcher) { d.eol = eol }
}

// WithMaxJSONSize caps the document size accepted by the JSON parse command.
func WithMaxJSONSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxJSON = n
		}
	}
}

type slot struct {
	mu    sync.Mutex
	state *channel.State
}

// Dispatcher routes bus commands to channel state and bound protocols.
type Dispatcher struct {
	factory     ProtocolFactory
	numChannels int
	slots       []*slot
	metrics     metrics.BridgeMetrics
	prefixes    prefixstore.Store
	eol         byte
	maxJSON     int

	openCount atomic.Int32
}

// New creates a dispatcher with all channels Closed.
func New(f ProtocolFactory, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		factory:     f,
		numChannels: DefaultChannels,
		eol:         protocol.DefaultOptions().EOL,
		maxJSON:     1 << 20,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.slots = make([]*slot, d.numChannels)
	for i := range d.slots {
		d.slots[i] = &slot{state: channel.New(uint8(i))}
	}
	return d
}

// Channels returns the number of channels.
func (d *Dispatcher) Channels() int {
	return d.numChannels
}

// Restore loads persisted prefixes into the channels. Entries for channels
// outside the configured range are ignored.
func (d *Dispatcher) Restore(ctx context.Context) error {
	if d.prefixes == nil {
		return nil
	}
	saved, err := d.prefixes.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore prefixes: %w", err)
	}
	for n, prefix := range saved {
		if int(n) >= len(d.slots) {
			continue
		}
		s := d.slots[n]
		s.mu.Lock()
		s.state.Prefix = prefix
		s.mu.Unlock()
		logger.Debug("Prefix restored", logger.Channel(n), logger.Prefix(prefix))
	}
	return nil
}

// lock returns the locked slot for channel n. The caller unlocks it.
func (d *Dispatcher) lock(n uint8, op string) (*slot, error) {
	if int(n) >= len(d.slots) {
		return nil, netstatus.Wrap(netstatus.InvalidCommand, op, fmt.Errorf("%w: %d", ErrNoChannel, n))
	}
	s := d.slots[n]
	s.mu.Lock()
	return s, nil
}

// Snapshot returns a read-only view of channel n.
func (d *Dispatcher) Snapshot(n uint8) (channel.Snapshot, error) {
	s, err := d.lock(n, "snapshot")
	if err != nil {
		return channel.Snapshot{}, err
	}
	defer s.mu.Unlock()
	return s.state.Snapshot(), nil
}

// Snapshots returns a view of every channel in channel order.
func (d *Dispatcher) Snapshots() []channel.Snapshot {
	out := make([]channel.Snapshot, 0, len(d.slots))
	for _, s := range d.slots {
		s.mu.Lock()
		out = append(out, s.state.Snapshot())
		s.mu.Unlock()
	}
	return out
}

// OpenChannels returns the number of channels with a bound protocol.
func (d *Dispatcher) OpenChannels() int {
	return int(d.openCount.Load())
}

// Shutdown closes every open channel.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	for i := range d.slots {
		_ = d.Close(ctx, uint8(i))
	}
}

// ============================================================================
// Command instrumentation
// ============================================================================

// command carries the per-command logging, tracing and metrics state.
type command struct {
	ctx   context.Context
	span  trace.Span
	name  string
	start time.Time
}

func (d *Dispatcher) begin(ctx context.Context, n uint8, name, spanName string, attrs ...attribute.KeyValue) *command {
	lc := logger.FromContext(ctx).WithCommand(n, name)
	ctx, span := telemetry.StartCommandSpan(ctx, spanName, n, attrs...)
	if telemetry.IsEnabled() {
		lc = lc.WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	}
	return &command{
		ctx:   logger.WithContext(ctx, lc),
		span:  span,
		name:  name,
		start: time.Now(),
	}
}

// scoped attaches the channel's binding to the command's log context.
func (c *command) scoped(st *channel.State) {
	if st.Scheme == "" {
		return
	}
	lc := logger.FromContext(c.ctx).WithScheme(st.Scheme, st.SessionID)
	c.ctx = logger.WithContext(c.ctx, lc)
	c.span.SetAttributes(telemetry.Scheme(st.Scheme), telemetry.SessionID(st.SessionID))
}

func (d *Dispatcher) finish(c *command, scheme string, err error) {
	code := netstatus.CodeOf(err)
	c.span.SetAttributes(telemetry.ErrorCode(uint8(code), code.String())...)
	if err != nil && code != netstatus.EndOfFile {
		telemetry.RecordError(c.ctx, err)
	}
	c.span.End()

	elapsed := time.Since(c.start)
	metrics.RecordCommand(d.metrics, c.name, scheme, code.String(), elapsed)

	switch {
	case err == nil, code == netstatus.EndOfFile:
		logger.DebugCtx(c.ctx, "Command completed",
			logger.KeyErrorName, code.String(), logger.DurationMs(float64(elapsed.Microseconds())/1000))
	default:
		logger.InfoCtx(c.ctx, "Command failed",
			logger.ErrorCode(int(code)), logger.KeyErrorName, code.String(), logger.Err(err))
	}
}

func (d *Dispatcher) bound(delta int32) {
	metrics.SetOpenChannels(d.metrics, int(d.openCount.Add(delta)))
}
