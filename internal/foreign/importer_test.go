package foreign

import (
	"testing"

	"github.com/fyrsmithlabs/foreignd/internal/display"
	"github.com/fyrsmithlabs/foreignd/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImporter_Import(t *testing.T) {
	t.Run("links a live export", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		a, b := h.connect("a"), h.connect("b")
		x := h.export(a, h.exporter(a), h.window("w"))
		i := h.importer(b)

		im := h.importHandle(b, i, x.Handle())

		assert.True(t, im.Linked())
		assert.Same(t, x, im.Exported())
		assert.Equal(t, []*Imported{im}, x.Imports())
		assert.Equal(t, []*Imported{im}, i.Imports())
		assert.Empty(t, b.EventsNamed(protocol.EventDestroyed))

		created := h.eventsOf(EventImportedCreated)
		require.Len(t, created, 1)
		assert.True(t, created[0].Linked)
		assert.Equal(t, x.ID(), created[0].ExportID)
	})

	t.Run("unresolved handles create an unlinked object", func(t *testing.T) {
		for _, tok := range []string{"no-such-handle", ""} {
			h := newHarness(t, nil, nil)
			b := h.connect("b")
			i := h.importer(b)
			id := b.NextID()

			im, err := i.Import(h.ctx, id, tok)
			require.NoError(t, err)

			assert.False(t, im.Linked())
			assert.False(t, im.Released())
			res, ok := b.Resource(id)
			require.True(t, ok, "the imported object exists")
			assert.Same(t, im, res.Implementation())

			destroyed := b.EventsNamed(protocol.EventDestroyed)
			require.Len(t, destroyed, 1)
			assert.Equal(t, id, destroyed[0].Object)
			assert.Nil(t, b.Error())
		}
	})

	t.Run("a destroyed export's handle no longer resolves", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		a, b := h.connect("a"), h.connect("b")
		x := h.export(a, h.exporter(a), h.window("w"))
		tok := x.Handle()
		x.Destroy()

		im := h.importHandle(b, h.importer(b), tok)
		assert.False(t, im.Linked())
	})

	t.Run("object allocation failure", func(t *testing.T) {
		h := newHarness(t, nil, []display.Option{
			display.WithAllocationFailure(func(_, iface string) bool { return iface == protocol.ImportedInterface }),
		})
		b := h.connect("b")
		i := h.importer(b)

		_, err := i.Import(h.ctx, b.NextID(), "x")
		assert.ErrorIs(t, err, ErrResourceExhausted)
		require.NotNil(t, b.Error())
		assert.Equal(t, protocol.ErrorNoMemory, b.Error().Code)
		assert.Empty(t, i.Imports())
	})
}

func TestImporter_TwoClientsImportOneHandle(t *testing.T) {
	h := newHarness(t, nil, nil)
	a := h.connect("a")
	e := h.exporter(a)
	x := h.export(a, e, h.window("w"))

	b, c := h.connect("b"), h.connect("c")
	imB := h.importHandle(b, h.importer(b), x.Handle())
	imC := h.importHandle(c, h.importer(c), x.Handle())
	require.Len(t, x.Imports(), 2)

	e.Destroy()

	for _, tc := range []struct {
		client *display.Client
		im     *Imported
	}{{b, imB}, {c, imC}} {
		destroyed := tc.client.EventsNamed(protocol.EventDestroyed)
		require.Len(t, destroyed, 1)
		assert.Equal(t, tc.im.Resource().ID(), destroyed[0].Object)
		assert.False(t, tc.im.Linked())
		assert.False(t, tc.im.Resource().(*display.Resource).Destroyed())
	}
}

func TestImporter_Teardown(t *testing.T) {
	t.Run("disconnects, drops children and releases", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		a, b := h.connect("a"), h.connect("b")
		w := h.window("w")
		x := h.export(a, h.exporter(a), w)
		i := h.importer(b)
		im := h.importHandle(b, i, x.Handle())
		child := h.window("c")
		require.NoError(t, im.SetParentOf(h.ctx, child))

		i.Destroy()

		assert.Empty(t, h.svc.Importers())
		assert.Empty(t, x.Imports())
		assert.False(t, im.Linked())
		assert.True(t, im.Released())
		assert.Empty(t, im.Children())
		assert.Len(t, b.EventsNamed(protocol.EventDestroyed), 1)
		assert.False(t, im.Resource().(*display.Resource).Destroyed(), "imported object is left inert")
		assert.Same(t, w, child.Parent(), "forwarded parent is superseded, not unset")

		unmap, parentChanged := child.Observers()
		assert.Zero(t, unmap)
		assert.Zero(t, parentChanged)

		childDestroyed := h.eventsOf(EventChildDestroyed)
		require.Len(t, childDestroyed, 1)
		assert.Equal(t, ReasonRegistry, childDestroyed[0].Reason)

		importDestroyed := h.eventsOf(EventImportedDestroyed)
		require.Len(t, importDestroyed, 1)
		assert.Equal(t, ReasonRequest, importDestroyed[0].Reason)
		assert.Equal(t, 1, importDestroyed[0].Count)

		released := h.eventsOf(EventImporterReleased)
		require.Len(t, released, 1)
		assert.Equal(t, 1, released[0].Count)

		// The inert object accepts further requests without effect.
		require.NoError(t, im.SetParentOf(h.ctx, h.window("d")))
		im.Destroy()
		assert.Len(t, h.eventsOf(EventImportedDestroyed), 1)
	})

	t.Run("client disconnect", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		a, b := h.connect("a"), h.connect("b")
		x := h.export(a, h.exporter(a), h.window("w"))
		i := h.importer(b)
		h.importHandle(b, i, x.Handle())
		h.importHandle(b, i, x.Handle())

		b.Disconnect()

		assert.Empty(t, x.Imports())
		assert.Empty(t, h.svc.Importers())
		assert.Zero(t, h.svc.Snapshot().Imported)
		for _, ev := range h.eventsOf(EventImportedDestroyed) {
			assert.Equal(t, ReasonClient, ev.Reason)
		}
		assert.Empty(t, h.eventsOf(EventImportedDisconnected), "imported objects go first and unlink silently")
	})
}
