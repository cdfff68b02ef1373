package foreign

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestLogger() (*Logger, *observer.ObservedLogs) {
	core, observed := observer.New(zapcore.DebugLevel)
	return NewLogger(zap.New(core)), observed
}

func TestNewLogger(t *testing.T) {
	assert.NotNil(t, NewLogger(nil))
	assert.NotNil(t, NewLogger(zap.NewNop()))
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	ctx := context.Background()
	l.ExportCreated(ctx, "x", "a", "w", 1)
	l.ImportCreated(ctx, "x", "b", true)
	l.RequestRejected(ctx, "export", "a", errors.New("boom"))
	l.ServiceDestroyed(ctx, 0, 0)
	l.Error(ctx, "msg", errors.New("boom"))
	l.Debug(ctx, "msg")
}

func TestLogger_ExportCreated(t *testing.T) {
	l, logs := newTestLogger()

	l.ExportCreated(context.Background(), "exp_1", "client_a", "win_1", 2)

	entries := logs.All()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "window exported", entry.Message)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	assert.Equal(t, "foreign", entry.LoggerName)

	fields := entry.ContextMap()
	assert.Equal(t, "exp_1", fields["export_id"])
	assert.Equal(t, "client_a", fields["client_id"])
	assert.Equal(t, "win_1", fields["window_id"])
	assert.Equal(t, int64(2), fields["handle_attempts"])
}

func TestLogger_ExportDestroyed(t *testing.T) {
	l, logs := newTestLogger()

	l.ExportDestroyed(context.Background(), "exp_1", "client_a", ReasonUnmap, 3)

	entries := logs.FilterMessage("export destroyed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "unmap", fields["reason"])
	assert.Equal(t, int64(3), fields["imports_disconnected"])
}

func TestLogger_Levels(t *testing.T) {
	l, logs := newTestLogger()
	ctx := context.Background()

	l.HandleCollision(ctx, "a", 1)
	l.RequestRejected(ctx, "set_parent_of", "b", ErrRoleMismatch)
	l.ChildDestroyed(ctx, "b", "c", ReasonReparent)
	l.Error(ctx, "bind failed", errors.New("boom"))

	assert.Equal(t, 2, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.DebugLevel).Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())

	rejected := logs.FilterMessage("request rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "set_parent_of", rejected[0].ContextMap()["request"])
	assert.Contains(t, rejected[0].ContextMap()["error"], "different window models")
}

func TestLogger_TraceFields(t *testing.T) {
	l, logs := newTestLogger()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(tracetest.NewSpanRecorder()))
	ctx, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	l.ImportCreated(ctx, "exp_1", "client_b", true)

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
	assert.Equal(t, true, fields["trace_sampled"])
	assert.Equal(t, true, fields["linked"])
}
