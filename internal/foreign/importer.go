package foreign

import (
	"context"

	"github.com/fyrsmithlabs/foreignd/internal/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Importer is one client's binding of the importer global. It owns the
// imported objects that client created.
type Importer struct {
	service  *Service
	resource protocol.Resource
	imports  []*Imported
	released bool
	reason   Reason
}

// ClientID returns the owning client.
func (i *Importer) ClientID() string { return i.resource.Client().ID() }

// Resource returns the importer protocol object.
func (i *Importer) Resource() protocol.Resource { return i.resource }

// Imports returns the owned imports in creation order.
func (i *Importer) Imports() []*Imported {
	out := make([]*Imported, len(i.imports))
	copy(out, i.imports)
	return out
}

// Destroy handles the destroy request.
func (i *Importer) Destroy() {
	i.reason = ReasonRequest
	i.resource.Destroy()
}

// Import handles the import request. It always creates an imported object
// with the given id. When h names no live export the object is created
// unlinked and is sent destroyed immediately.
func (i *Importer) Import(ctx context.Context, id protocol.ObjectID, h string) (*Imported, error) {
	s := i.service
	if i.released || s.state != StateActive {
		return nil, ErrServiceDestroyed
	}
	client := i.resource.Client()

	ctx, span := StartSpan(ctx, s.tracer, "foreign.import", client.ID())
	defer span.End()

	res, err := client.NewResource(protocol.ImportedInterface, i.resource.Version(), id)
	if err != nil {
		client.PostNoMemory()
		perr := exhaustedError(err)
		RecordError(ctx, perr)
		SetSpanStatus(ctx, codes.Error, protocol.RequestImport+" rejected")
		s.metrics.RecordRejected(ctx, protocol.RequestImport, perr)
		s.logger.RequestRejected(ctx, protocol.RequestImport, client.ID(), perr)
		return nil, perr
	}

	im := &Imported{importer: i, resource: res, reason: ReasonClient}
	res.SetImplementation(im, im.handleResourceDestroy)
	i.imports = append(i.imports, im)

	x, found := s.Lookup(h)
	if found && !x.released {
		im.exported = x
		x.imports = append(x.imports, im)
	} else {
		res.Send(protocol.EventDestroyed)
	}

	linked := im.exported != nil
	exportID := ""
	if linked {
		exportID = x.id
	}
	span.SetAttributes(attribute.Bool("foreign.linked", linked))
	s.metrics.RecordImportCreated(ctx, linked)
	s.logger.ImportCreated(ctx, exportID, client.ID(), linked)
	s.events.emit(Event{Type: EventImportedCreated, Client: client.ID(), ExportID: exportID, Linked: linked})
	return im, nil
}

// teardown runs when the importer object is destroyed. Each owned import is
// severed from its export, loses its children and leaves the registry. Its
// protocol object, if still alive, stays behind inert.
func (i *Importer) teardown() {
	if i.released {
		return
	}
	i.released = true
	ctx := context.Background()
	count := len(i.imports)
	for _, im := range i.Imports() {
		children := len(im.children)
		im.disconnect(ctx)
		im.destroyChildren(ctx, ReasonRegistry)
		im.release(ctx, i.reason, children)
	}
	i.service.removeImporter(i)

	i.service.logger.EndpointReleased(ctx, protocol.ImporterInterface, i.ClientID(), count, i.reason)
	i.service.events.emit(Event{Type: EventImporterReleased, Client: i.ClientID(), Reason: i.reason, Count: count})
}

func (i *Importer) removeImport(im *Imported) {
	for n, other := range i.imports {
		if other == im {
			i.imports = append(i.imports[:n:n], i.imports[n+1:]...)
			return
		}
	}
}
