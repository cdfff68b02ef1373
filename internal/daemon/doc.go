// Package daemon assembles foreignd from its parts.
//
// A Session is one display, window tree and foreign registry, owned by a
// single loop goroutine. The Daemon builds telemetry and logging from
// Config, starts the session, serves the admin HTTP API over it and,
// when enabled, forwards registry events to NATS.
//
// Shutdown runs in reverse: the HTTP server stops accepting requests, the
// display is destroyed (which tears down every export and import), the
// NATS bridge drains and telemetry is flushed last so the teardown is
// still traced.
package daemon
