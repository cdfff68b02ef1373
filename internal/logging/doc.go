// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Runtime level changes through an atomic level
//   - Output to a console stream and/or OpenTelemetry
//   - Automatic context field injection (trace_id, client.id, request.id)
//   - Redaction of capability fields such as export handles
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithClientID(ctx, "client-1")
//	logger.Info(ctx, "window exported", zap.String("export_id", id))
//
// Output includes automatic correlation:
//
//	{"level":"info","ts":"2026-01-02T03:04:05.000Z","msg":"window exported",
//	 "service":"foreignd","trace_id":"abc...","client.id":"client-1","export_id":"..."}
//
// # Redaction
//
// Handles are bearer capabilities: anyone holding one can parent windows to
// the exported window. Any field whose key is listed in Redaction.Fields is
// replaced before it reaches an encoder, and Handle builds a field that only
// records the token length.
//
// # Testing
//
//	logger := logging.NewTestLogger()
//	svc.DoSomething(logger)
//	logger.AssertLogged(t, zapcore.InfoLevel, "window exported")
//	logger.AssertNoHandles(t, handle)
package logging
