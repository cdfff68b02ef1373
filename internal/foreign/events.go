package foreign

import (
	"time"

	"github.com/fyrsmithlabs/foreignd/internal/signal"
)

// EventType names a registry lifecycle event.
type EventType string

const (
	EventExporterBound        EventType = "exporter.bound"
	EventExporterReleased     EventType = "exporter.released"
	EventImporterBound        EventType = "importer.bound"
	EventImporterReleased     EventType = "importer.released"
	EventExportedCreated      EventType = "exported.created"
	EventExportedDestroyed    EventType = "exported.destroyed"
	EventImportedCreated      EventType = "imported.created"
	EventImportedDisconnected EventType = "imported.disconnected"
	EventImportedDestroyed    EventType = "imported.destroyed"
	EventChildCreated         EventType = "child.created"
	EventChildDestroyed       EventType = "child.destroyed"
	EventServiceDestroyed     EventType = "service.destroyed"
)

// Event is a registry lifecycle notification. ExportID is a stable,
// non-secret identifier of an export; the handle itself is never carried.
type Event struct {
	Type      EventType `json:"type"`
	Client    string    `json:"client,omitempty"`
	ExportID  string    `json:"export_id,omitempty"`
	Window    string    `json:"window,omitempty"`
	Reason    Reason    `json:"reason,omitempty"`
	Linked    bool      `json:"linked,omitempty"`
	Count     int       `json:"count,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// emitter fans events out to subscribers on the loop goroutine.
type emitter struct {
	sig signal.Signal[Event]
	now func() time.Time
}

func (e *emitter) emit(ev Event) {
	if e.sig.Len() == 0 {
		return
	}
	ev.Timestamp = e.now()
	e.sig.Emit(ev)
}
