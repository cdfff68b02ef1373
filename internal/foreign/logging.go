package foreign

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Logger wraps zap.Logger with registry-specific structured logging.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("foreign")}
}

// EndpointBound logs a client binding the exporter or importer global.
func (l *Logger) EndpointBound(ctx context.Context, iface, clientID string, version uint32) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("interface", iface),
		zap.String("client_id", clientID),
		zap.Uint32("version", version),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Debug("endpoint bound", fields...)
}

// EndpointReleased logs an exporter or importer being torn down.
func (l *Logger) EndpointReleased(ctx context.Context, iface, clientID string, objects int, reason Reason) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("interface", iface),
		zap.String("client_id", clientID),
		zap.Int("objects", objects),
		zap.String("reason", string(reason)),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Debug("endpoint released", fields...)
}

// ExportCreated logs a window being exported.
func (l *Logger) ExportCreated(ctx context.Context, exportID, clientID, windowID string, attempts int) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.exportFields(ctx, exportID, clientID)
	fields = append(fields,
		zap.String("window_id", windowID),
		zap.Int("handle_attempts", attempts),
	)
	l.logger.Info("window exported", fields...)
}

// ExportDestroyed logs an export being torn down.
func (l *Logger) ExportDestroyed(ctx context.Context, exportID, clientID string, reason Reason, disconnected int) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.exportFields(ctx, exportID, clientID)
	fields = append(fields,
		zap.String("reason", string(reason)),
		zap.Int("imports_disconnected", disconnected),
	)
	l.logger.Info("export destroyed", fields...)
}

// HandleCollision logs a generated handle that was already in use.
func (l *Logger) HandleCollision(ctx context.Context, clientID string, attempt int) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("client_id", clientID),
		zap.Int("attempt", attempt),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Warn("handle collision, regenerating", fields...)
}

// ImportCreated logs an import request. Unresolved handles are not
// logged; they are client-supplied.
func (l *Logger) ImportCreated(ctx context.Context, exportID, clientID string, linked bool) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.exportFields(ctx, exportID, clientID)
	fields = append(fields, zap.Bool("linked", linked))
	l.logger.Info("window imported", fields...)
}

// ImportDisconnected logs an import losing its export.
func (l *Logger) ImportDisconnected(ctx context.Context, exportID, clientID string) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Debug("import disconnected", l.exportFields(ctx, exportID, clientID)...)
}

// ImportDestroyed logs an import being destroyed.
func (l *Logger) ImportDestroyed(ctx context.Context, clientID string, children int, reason Reason) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("client_id", clientID),
		zap.Int("children", children),
		zap.String("reason", string(reason)),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Debug("import destroyed", fields...)
}

// ChildCreated logs a parent relationship being forwarded.
func (l *Logger) ChildCreated(ctx context.Context, exportID, clientID, childID string) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.exportFields(ctx, exportID, clientID)
	fields = append(fields, zap.String("child_window_id", childID))
	l.logger.Info("child parented", fields...)
}

// ChildDestroyed logs a forwarded relationship being dropped.
func (l *Logger) ChildDestroyed(ctx context.Context, clientID, childID string, reason Reason) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("client_id", clientID),
		zap.String("child_window_id", childID),
		zap.String("reason", string(reason)),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Debug("child released", fields...)
}

// RequestRejected logs a request that failed with a protocol error.
func (l *Logger) RequestRejected(ctx context.Context, request, clientID string, err error) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("request", request),
		zap.String("client_id", clientID),
		zap.Error(err),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Warn("request rejected", fields...)
}

// ServiceDestroyed logs service shutdown.
func (l *Logger) ServiceDestroyed(ctx context.Context, exporters, importers int) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.Int("exporters", exporters),
		zap.Int("importers", importers),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Info("service destroyed", fields...)
}

// Error logs an error with context.
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if l == nil || l.logger == nil {
		return
	}
	allFields := l.traceFields(ctx)
	allFields = append(allFields, zap.Error(err))
	allFields = append(allFields, fields...)
	l.logger.Error(msg, allFields...)
}

// Debug logs a debug message with context.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	if l == nil || l.logger == nil {
		return
	}
	allFields := l.traceFields(ctx)
	allFields = append(allFields, fields...)
	l.logger.Debug(msg, allFields...)
}

func (l *Logger) exportFields(ctx context.Context, exportID, clientID string) []zap.Field {
	fields := []zap.Field{
		zap.String("export_id", exportID),
		zap.String("client_id", clientID),
	}
	return append(fields, l.traceFields(ctx)...)
}

// traceFields extracts trace context from the context.
func (l *Logger) traceFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	sc := span.SpanContext()
	fields := []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
	if sc.IsSampled() {
		fields = append(fields, zap.Bool("trace_sampled", true))
	}
	return fields
}
