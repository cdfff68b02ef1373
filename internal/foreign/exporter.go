package foreign

import (
	"context"

	"github.com/fyrsmithlabs/foreignd/internal/protocol"
	"github.com/fyrsmithlabs/foreignd/internal/shell"
	"github.com/fyrsmithlabs/foreignd/internal/signal"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Exporter is one client's binding of the exporter global. It owns the
// windows that client exported.
type Exporter struct {
	service  *Service
	resource protocol.Resource
	exports  []*Exported
	released bool
	reason   Reason
}

// ClientID returns the owning client.
func (e *Exporter) ClientID() string { return e.resource.Client().ID() }

// Resource returns the exporter protocol object.
func (e *Exporter) Resource() protocol.Resource { return e.resource }

// Exports returns the live exports in creation order.
func (e *Exporter) Exports() []*Exported {
	out := make([]*Exported, len(e.exports))
	copy(out, e.exports)
	return out
}

// Destroy handles the destroy request.
func (e *Exporter) Destroy() {
	e.reason = ReasonRequest
	e.resource.Destroy()
}

// Export handles the export request: it publishes window under a fresh
// handle on a new exported object with the given id.
//
// A window without a toplevel role is rejected with ErrInvalidRole. Handle
// or object allocation failure is reported as ErrResourceExhausted and
// leaves no state behind. Both are posted to the client before returning.
func (e *Exporter) Export(ctx context.Context, id protocol.ObjectID, window shell.Window) (*Exported, error) {
	s := e.service
	if e.released || s.state != StateActive {
		return nil, ErrServiceDestroyed
	}
	client := e.resource.Client()

	ctx, span := StartSpan(ctx, s.tracer, "foreign.export", client.ID())
	defer span.End()

	if perr := checkToplevel(window); perr != nil {
		e.resource.PostError(perr.Code, perr.Message)
		e.reject(ctx, protocol.RequestExport, perr)
		return nil, perr
	}

	tok, attempts, err := s.generateHandle(ctx, client.ID())
	if err != nil {
		client.PostNoMemory()
		perr := exhaustedError(err)
		e.reject(ctx, protocol.RequestExport, perr)
		return nil, perr
	}

	res, err := client.NewResource(protocol.ExportedInterface, e.resource.Version(), id)
	if err != nil {
		client.PostNoMemory()
		perr := exhaustedError(err)
		e.reject(ctx, protocol.RequestExport, perr)
		return nil, perr
	}

	x := &Exported{
		id:       uuid.NewString(),
		handle:   tok,
		window:   window,
		exporter: e,
		resource: res,
		reason:   ReasonClient,
	}
	res.SetImplementation(x, x.teardown)
	e.exports = append(e.exports, x)
	s.index[tok] = x

	res.Send(protocol.EventHandle, tok)

	if model := window.Model(); model != nil {
		x.unmapSub = model.OnUnmap(window, x.handleUnmap)
	}

	span.SetAttributes(
		attribute.String("foreign.export_id", x.id),
		attribute.Int("foreign.handle_attempts", attempts),
	)
	s.metrics.RecordExportCreated(ctx, attempts)
	s.logger.ExportCreated(ctx, x.id, client.ID(), window.ID(), attempts)
	s.events.emit(Event{Type: EventExportedCreated, Client: client.ID(), ExportID: x.id, Window: window.ID()})
	return x, nil
}

func (e *Exporter) reject(ctx context.Context, request string, err error) {
	RecordError(ctx, err)
	SetSpanStatus(ctx, codes.Error, request+" rejected")
	e.service.metrics.RecordRejected(ctx, request, err)
	e.service.logger.RequestRejected(ctx, request, e.ClientID(), err)
}

// teardown runs when the exporter object is destroyed. Every export it
// owns is destroyed with it.
func (e *Exporter) teardown() {
	if e.released {
		return
	}
	e.released = true
	count := len(e.exports)
	for _, x := range e.Exports() {
		x.reason = ReasonRegistry
		if e.reason == ReasonService {
			x.reason = ReasonService
		}
		x.resource.Destroy()
	}
	e.service.removeExporter(e)

	ctx := context.Background()
	e.service.logger.EndpointReleased(ctx, protocol.ExporterInterface, e.ClientID(), count, e.reason)
	e.service.events.emit(Event{Type: EventExporterReleased, Client: e.ClientID(), Reason: e.reason, Count: count})
}

func (e *Exporter) removeExport(x *Exported) {
	for i, other := range e.exports {
		if other == x {
			e.exports = append(e.exports[:i:i], e.exports[i+1:]...)
			return
		}
	}
}

// Exported is one exported window.
type Exported struct {
	id       string
	handle   string
	window   shell.Window
	exporter *Exporter
	resource protocol.Resource
	imports  []*Imported
	unmapSub signal.Canceler
	released bool
	reason   Reason
}

// ID returns the non-secret identifier used in logs and events.
func (x *Exported) ID() string { return x.id }

// Handle returns the token published to the exporting client.
func (x *Exported) Handle() string { return x.handle }

// Window returns the exported window.
func (x *Exported) Window() shell.Window { return x.window }

// Resource returns the exported protocol object.
func (x *Exported) Resource() protocol.Resource { return x.resource }

// Imports returns the imports linked to this export.
func (x *Exported) Imports() []*Imported {
	out := make([]*Imported, len(x.imports))
	copy(out, x.imports)
	return out
}

// Released reports whether the export has been torn down.
func (x *Exported) Released() bool { return x.released }

// Destroy handles the destroy request.
func (x *Exported) Destroy() {
	x.reason = ReasonRequest
	x.resource.Destroy()
}

func (x *Exported) handleUnmap() {
	x.reason = ReasonUnmap
	x.resource.Destroy()
}

// teardown severs every linked import, then removes the export from its
// exporter and from the handle index.
func (x *Exported) teardown() {
	if x.released {
		return
	}
	x.released = true
	s := x.exporter.service
	ctx := context.Background()

	imports := x.Imports()
	for _, im := range imports {
		im.disconnect(ctx)
	}

	signal.CancelAll(x.unmapSub)
	x.unmapSub = nil
	x.exporter.removeExport(x)
	if s.index[x.handle] == x {
		delete(s.index, x.handle)
	}

	client := x.exporter.ClientID()
	s.metrics.RecordExportDestroyed(ctx, x.reason)
	s.logger.ExportDestroyed(ctx, x.id, client, x.reason, len(imports))
	s.events.emit(Event{
		Type:     EventExportedDestroyed,
		Client:   client,
		ExportID: x.id,
		Window:   x.window.ID(),
		Reason:   x.reason,
		Count:    len(imports),
	})
}

func (x *Exported) removeImport(im *Imported) {
	for i, other := range x.imports {
		if other == im {
			x.imports = append(x.imports[:i:i], x.imports[i+1:]...)
			return
		}
	}
}

// checkToplevel returns the protocol error for a window that cannot be
// exported or parented.
func checkToplevel(w shell.Window) *ProtocolError {
	switch {
	case w == nil || w.Role() == shell.RoleNone:
		return roleError(msgNoRole)
	case w.Role() != shell.RoleToplevel:
		return roleError(msgNotToplevel)
	default:
		return nil
	}
}
