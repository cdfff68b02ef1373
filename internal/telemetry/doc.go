// Package telemetry provides OpenTelemetry tracing and metrics for foreignd.
//
// # Overview
//
// Spans and metrics emitted by the foreign registry are exported over OTLP
// (gRPC or HTTP/protobuf) to a collector. Export is off by default.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	metrics, err := foreign.NewMetrics(tel.Meter(foreign.InstrumentationName))
//	...
//	svc, err := foreign.New(display, fcfg,
//	    foreign.WithTracer(tel.Tracer(foreign.InstrumentationName)),
//	    foreign.WithMetrics(metrics),
//	)
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sampling:
//	    rate: 0.25
//	    always_on_errors: true
//	  metrics:
//	    enabled: true
//	    export_interval: "15s"
//
// With always_on_errors, spans dropped by the ratio sampler are still
// recorded and exported if they end with an error status.
//
// # Error Handling
//
// Exporter construction failures do not fail New. The instance degrades to
// the global providers and Health lists the reasons.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry(t)
//	_, span := tt.Tracer("test").Start(ctx, "op")
//	span.End()
//	tt.AssertSpanExists(t, "op")
package telemetry
