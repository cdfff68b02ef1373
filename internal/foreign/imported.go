package foreign

import (
	"context"

	"github.com/fyrsmithlabs/foreignd/internal/protocol"
	"github.com/fyrsmithlabs/foreignd/internal/shell"
	"github.com/fyrsmithlabs/foreignd/internal/signal"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Imported is one client's reference to an export. The reference is weak:
// exported is cleared when the export goes away.
type Imported struct {
	importer *Importer
	resource protocol.Resource
	exported *Exported
	children []*importedChild
	released bool
	reason   Reason
}

// Resource returns the imported protocol object.
func (im *Imported) Resource() protocol.Resource { return im.resource }

// Exported returns the linked export, or nil.
func (im *Imported) Exported() *Exported { return im.exported }

// Linked reports whether the import still refers to a live export.
func (im *Imported) Linked() bool { return im.exported != nil }

// Released reports whether the import has left its importer.
func (im *Imported) Released() bool { return im.released }

// Children returns the child windows currently parented through this import.
func (im *Imported) Children() []shell.Window {
	out := make([]shell.Window, 0, len(im.children))
	for _, c := range im.children {
		out = append(out, c.window)
	}
	return out
}

// Destroy handles the destroy request.
func (im *Imported) Destroy() {
	im.reason = ReasonRequest
	im.resource.Destroy()
}

// SetParentOf handles the set_parent_of request: child becomes a logical
// child of the exported window.
//
// The request does nothing when the import is unlinked, when the exported
// window belongs to no window model, when child is already parented
// through this import, or when the model refuses the assignment (a child
// that is the exported window or one of its ancestors). A child without a toplevel role fails with
// ErrInvalidRole and a child from another window model fails with
// ErrRoleMismatch; both are posted to the client.
func (im *Imported) SetParentOf(ctx context.Context, child shell.Window) error {
	if im.released || im.exported == nil {
		return nil
	}
	s := im.importer.service
	clientID := im.importer.ClientID()

	ctx, span := StartSpan(ctx, s.tracer, "foreign.set_parent_of", clientID)
	defer span.End()

	if perr := checkToplevel(child); perr != nil {
		im.reject(ctx, perr)
		return perr
	}
	parent := im.exported.window
	model := parent.Model()
	if model != nil && child.Model() != model {
		perr := mismatchError()
		im.reject(ctx, perr)
		return perr
	}
	if model == nil {
		s.logger.Debug(ctx, "set_parent_of skipped: exported window has no model",
			zap.String("export_id", im.exported.id))
		return nil
	}
	for _, c := range im.children {
		if c.window == child {
			return nil
		}
	}

	if !model.SetParent(child, parent) {
		s.logger.Debug(ctx, "set_parent_of skipped: window model refused the parent",
			zap.String("export_id", im.exported.id), zap.String("window", child.ID()))
		return nil
	}
	c := &importedChild{imported: im, window: child}
	c.unmapSub = model.OnUnmap(child, func() { c.destroy(context.Background(), ReasonUnmap) })
	c.parentSub = model.OnParentChanged(child, func() { c.destroy(context.Background(), ReasonReparent) })
	im.children = append(im.children, c)

	s.metrics.RecordChild(ctx, 1)
	s.logger.ChildCreated(ctx, im.exported.id, clientID, child.ID())
	s.events.emit(Event{Type: EventChildCreated, Client: clientID, ExportID: im.exported.id, Window: child.ID()})
	return nil
}

func (im *Imported) reject(ctx context.Context, perr *ProtocolError) {
	s := im.importer.service
	im.resource.PostError(perr.Code, perr.Message)
	RecordError(ctx, perr)
	SetSpanStatus(ctx, codes.Error, protocol.RequestSetParentOf+" rejected")
	s.metrics.RecordRejected(ctx, protocol.RequestSetParentOf, perr)
	s.logger.RequestRejected(ctx, protocol.RequestSetParentOf, im.importer.ClientID(), perr)
}

// disconnect severs the link to the export and tells the client. The
// imported object itself survives.
func (im *Imported) disconnect(ctx context.Context) {
	x := im.exported
	if x == nil {
		return
	}
	im.exported = nil
	im.resource.Send(protocol.EventDestroyed)
	x.removeImport(im)

	s := im.importer.service
	s.metrics.RecordDisconnect(ctx)
	s.logger.ImportDisconnected(ctx, x.id, im.importer.ClientID())
	s.events.emit(Event{Type: EventImportedDisconnected, Client: im.importer.ClientID(), ExportID: x.id})
}

// handleResourceDestroy runs when the imported object is destroyed by
// request or with its client. Each forwarded relationship is dropped and
// then unset through the window model, then the import unlinks without
// notifying the client and leaves its importer.
func (im *Imported) handleResourceDestroy() {
	if im.released {
		return
	}
	ctx := context.Background()
	children := im.snapshotChildren()
	im.destroyChildren(ctx, ReasonImported)
	for _, c := range children {
		if model := c.window.Model(); model != nil {
			model.SetParent(c.window, nil)
		}
	}
	if x := im.exported; x != nil {
		im.exported = nil
		x.removeImport(im)
	}
	im.release(ctx, im.reason, len(children))
}

func (im *Imported) destroyChildren(ctx context.Context, reason Reason) {
	for _, c := range im.snapshotChildren() {
		c.destroy(ctx, reason)
	}
}

func (im *Imported) release(ctx context.Context, reason Reason, children int) {
	if im.released {
		return
	}
	im.released = true
	im.importer.removeImport(im)

	s := im.importer.service
	s.metrics.RecordImportReleased(ctx)
	s.logger.ImportDestroyed(ctx, im.importer.ClientID(), children, reason)
	s.events.emit(Event{Type: EventImportedDestroyed, Client: im.importer.ClientID(), Reason: reason, Count: children})
}

func (im *Imported) snapshotChildren() []*importedChild {
	out := make([]*importedChild, len(im.children))
	copy(out, im.children)
	return out
}

func (im *Imported) removeChild(c *importedChild) {
	for i, other := range im.children {
		if other == c {
			im.children = append(im.children[:i:i], im.children[i+1:]...)
			return
		}
	}
}

// importedChild is one forwarded parent relationship.
type importedChild struct {
	imported  *Imported
	window    shell.Window
	unmapSub  signal.Canceler
	parentSub signal.Canceler
	gone      bool
}

// destroy drops the relationship and both of its watches. Neither the
// import nor the export is affected.
func (c *importedChild) destroy(ctx context.Context, reason Reason) {
	if c.gone {
		return
	}
	c.gone = true
	signal.CancelAll(c.unmapSub, c.parentSub)
	c.imported.removeChild(c)

	s := c.imported.importer.service
	clientID := c.imported.importer.ClientID()
	s.metrics.RecordChild(ctx, -1)
	s.logger.ChildDestroyed(ctx, clientID, c.window.ID(), reason)
	s.events.emit(Event{Type: EventChildDestroyed, Client: clientID, Window: c.window.ID(), Reason: reason})
}
