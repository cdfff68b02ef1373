package foreign

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InstrumentationName is the name used for OTEL instrumentation.
	InstrumentationName = "github.com/fyrsmithlabs/foreignd/internal/foreign"
)

// Metrics provides OpenTelemetry metrics for the registry.
type Metrics struct {
	// Counters
	exportedCreatedTotal   metric.Int64Counter
	exportedDestroyedTotal metric.Int64Counter
	importedCreatedTotal   metric.Int64Counter
	importedUnresolved     metric.Int64Counter
	disconnectTotal        metric.Int64Counter
	rejectedTotal          metric.Int64Counter

	// Gauges (using UpDownCounter for gauge semantics)
	exportedActive metric.Int64UpDownCounter
	importedActive metric.Int64UpDownCounter
	childActive    metric.Int64UpDownCounter

	// Histograms
	handleAttempts metric.Int64Histogram

	initialized bool
}

// NewMetrics creates a new Metrics instance with the provided meter.
// If meter is nil, uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.exportedCreatedTotal, err = meter.Int64Counter(
		"foreign.exported.created.total",
		metric.WithDescription("Total number of windows exported"),
		metric.WithUnit("{export}"),
	)
	if err != nil {
		return nil, err
	}

	m.exportedDestroyedTotal, err = meter.Int64Counter(
		"foreign.exported.destroyed.total",
		metric.WithDescription("Total number of exports torn down, by reason"),
		metric.WithUnit("{export}"),
	)
	if err != nil {
		return nil, err
	}

	m.importedCreatedTotal, err = meter.Int64Counter(
		"foreign.imported.created.total",
		metric.WithDescription("Total number of import requests"),
		metric.WithUnit("{import}"),
	)
	if err != nil {
		return nil, err
	}

	m.importedUnresolved, err = meter.Int64Counter(
		"foreign.imported.unresolved.total",
		metric.WithDescription("Import requests whose handle matched no export"),
		metric.WithUnit("{import}"),
	)
	if err != nil {
		return nil, err
	}

	m.disconnectTotal, err = meter.Int64Counter(
		"foreign.disconnect.total",
		metric.WithDescription("Imports severed from their export"),
		metric.WithUnit("{import}"),
	)
	if err != nil {
		return nil, err
	}

	m.rejectedTotal, err = meter.Int64Counter(
		"foreign.request.rejected.total",
		metric.WithDescription("Requests rejected with a protocol error, by request and error"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.exportedActive, err = meter.Int64UpDownCounter(
		"foreign.exported.active.count",
		metric.WithDescription("Number of live exports"),
		metric.WithUnit("{export}"),
	)
	if err != nil {
		return nil, err
	}

	m.importedActive, err = meter.Int64UpDownCounter(
		"foreign.imported.active.count",
		metric.WithDescription("Number of live imports"),
		metric.WithUnit("{import}"),
	)
	if err != nil {
		return nil, err
	}

	m.childActive, err = meter.Int64UpDownCounter(
		"foreign.child.active.count",
		metric.WithDescription("Number of forwarded parent relationships"),
		metric.WithUnit("{child}"),
	)
	if err != nil {
		return nil, err
	}

	m.handleAttempts, err = meter.Int64Histogram(
		"foreign.handle.attempts",
		metric.WithDescription("Handle generations needed to find an unused handle"),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 8, 16, 32, 64),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordExportCreated records a successful export.
func (m *Metrics) RecordExportCreated(ctx context.Context, attempts int) {
	if m == nil || !m.initialized {
		return
	}
	m.exportedCreatedTotal.Add(ctx, 1)
	m.exportedActive.Add(ctx, 1)
	m.handleAttempts.Record(ctx, int64(attempts))
}

// RecordExportDestroyed records an export teardown.
func (m *Metrics) RecordExportDestroyed(ctx context.Context, reason Reason) {
	if m == nil || !m.initialized {
		return
	}
	m.exportedDestroyedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
	m.exportedActive.Add(ctx, -1)
}

// RecordImportCreated records an import request.
// Note: the handle is intentionally omitted; it is a capability.
func (m *Metrics) RecordImportCreated(ctx context.Context, linked bool) {
	if m == nil || !m.initialized {
		return
	}
	m.importedCreatedTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("linked", linked)))
	m.importedActive.Add(ctx, 1)
	if !linked {
		m.importedUnresolved.Add(ctx, 1)
	}
}

// RecordImportReleased records an import leaving its registry.
func (m *Metrics) RecordImportReleased(ctx context.Context) {
	if m == nil || !m.initialized {
		return
	}
	m.importedActive.Add(ctx, -1)
}

// RecordDisconnect records an import severed from its export.
func (m *Metrics) RecordDisconnect(ctx context.Context) {
	if m == nil || !m.initialized {
		return
	}
	m.disconnectTotal.Add(ctx, 1)
}

// RecordChild records a forwarded relationship being created (+1) or
// dropped (-1).
func (m *Metrics) RecordChild(ctx context.Context, delta int64) {
	if m == nil || !m.initialized {
		return
	}
	m.childActive.Add(ctx, delta)
}

// RecordRejected records a request rejected with a protocol error.
func (m *Metrics) RecordRejected(ctx context.Context, request string, err error) {
	if m == nil || !m.initialized {
		return
	}
	m.rejectedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("request", request),
		attribute.String("error", errorKind(err)),
	))
}

// errorKind maps an error to a low-cardinality label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRole):
		return "invalid_role"
	case errors.Is(err, ErrRoleMismatch):
		return "role_mismatch"
	case errors.Is(err, ErrResourceExhausted):
		return "resource_exhausted"
	default:
		return "other"
	}
}

// Tracer returns a tracer for the registry.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartSpan starts a new span on tracer tagged with the requesting client.
// A nil tracer uses the global provider.
func StartSpan(ctx context.Context, tracer trace.Tracer, name, clientID string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = Tracer()
	}
	attrs := []attribute.KeyValue{attribute.String("foreign.client_id", clientID)}
	allOpts := append([]trace.SpanStartOption{trace.WithAttributes(attrs...)}, opts...)
	return tracer.Start(ctx, name, allOpts...)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err, trace.WithAttributes(attrs...))
	}
}

// SetSpanStatus sets the status on the current span.
func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetStatus(code, description)
	}
}
