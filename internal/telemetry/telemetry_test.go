package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "netbridge", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	setTracer(nil, false)

	require.NotNil(t, Tracer())
	assert.False(t, IsEnabled())
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1.5).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

// ============================================================================
// No-op safety
// ============================================================================

func TestSpanHelpersWithoutProvider(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	require.NotPanics(t, func() {
		RecordError(ctx, nil)
		RecordError(ctx, errors.New("test error"))
		SetAttributes(ctx, Scheme("TNFS"))
	})
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))
}

// ============================================================================
// Recorded spans
// ============================================================================

func TestCommandSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	UseProvider(tp, "test")
	t.Cleanup(func() { setTracer(nil, false) })

	ctx, span := StartCommandSpan(context.Background(), SpanOpen, 3, Scheme("TNFS"), DeviceSpec("N:TNFS://host/"))
	assert.NotEmpty(t, TraceID(ctx))
	assert.NotEmpty(t, SpanID(ctx))
	RecordError(ctx, errors.New("refused"))
	span.End()

	_, busSpan := StartBusSpan(context.Background(), "127.0.0.1:9000", 'O', 3)
	busSpan.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)

	open := spans[0]
	assert.Equal(t, SpanOpen, open.Name())
	assert.Equal(t, codes.Error, open.Status().Code)
	assert.Contains(t, open.Attributes(), attribute.Int(AttrChannel, 3))
	assert.Contains(t, open.Attributes(), attribute.String(AttrScheme, "TNFS"))

	bus := spans[1]
	assert.Equal(t, SpanBusRequest, bus.Name())
	assert.Contains(t, bus.Attributes(), attribute.String(AttrCommand, "0x4F"))
}

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		name string
		kv   attribute.KeyValue
		key  string
		want any
	}{
		{"Channel", Channel(7), AttrChannel, int64(7)},
		{"Command", Command(0x2A), AttrCommand, "0x2A"},
		{"Scheme", Scheme("SD"), AttrScheme, "SD"},
		{"Host", Host("h"), AttrHost, "h"},
		{"Path", Path("/a"), AttrPath, "/a"},
		{"OpenMode", OpenMode("read"), AttrOpenMode, "read"},
		{"Direction", Direction("to-host"), AttrDirection, "to-host"},
		{"SessionID", SessionID("s"), AttrSessionID, "s"},
		{"Count", Count(5), AttrCount, int64(5)},
		{"BytesRead", BytesRead(6), AttrBytesRead, int64(6)},
		{"BytesWritten", BytesWritten(7), AttrBytesWrite, int64(7)},
		{"BytesWaiting", BytesWaiting(8), AttrWaiting, int64(8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, string(tt.kv.Key))
			assert.Equal(t, tt.want, tt.kv.Value.AsInterface())
		})
	}

	aux := Aux(4, 128)
	require.Len(t, aux, 2)
	assert.Equal(t, int64(128), aux[1].Value.AsInt64())

	code := ErrorCode(170, "FileNotFound")
	assert.Equal(t, "FileNotFound", code[1].Value.AsString())
}

func TestDefaultProfilingConfig(t *testing.T) {
	cfg := DefaultProfilingConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "netbridge", cfg.ServiceName)

	shutdown, err := InitProfiling(cfg)
	require.NoError(t, err)
	assert.NoError(t, shutdown())
	assert.False(t, IsProfilingEnabled())

	for _, pt := range cfg.ProfileTypes {
		_, err := parseProfileType(pt)
		assert.NoError(t, err, pt)
	}
	_, err = parseProfileType("bogus")
	assert.Error(t, err)
}
