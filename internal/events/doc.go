// Package events publishes foreign registry lifecycle events on NATS.
//
// Each event is JSON-encoded and published on <subject_prefix>.<type>,
// for example foreign.exported.created. Events never carry handles.
// With a stream configured, events go through JetStream and the stream
// is created on connect when it does not exist.
//
// Watch is the consuming side, used by the events command to tail a
// running daemon.
package events
