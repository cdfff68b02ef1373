package foreign

import (
	"testing"

	"github.com/fyrsmithlabs/foreignd/internal/display"
	"github.com/fyrsmithlabs/foreignd/internal/protocol"
	"github.com/fyrsmithlabs/foreignd/internal/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linked returns an import of a fresh export of window w.
func (h *harness) linked(w shell.Window) (*Exported, *Imported, *display.Client) {
	h.t.Helper()
	a, b := h.connect("exporter"), h.connect("importer")
	x := h.export(a, h.exporter(a), w)
	im := h.importHandle(b, h.importer(b), x.Handle())
	return x, im, b
}

func TestImported_SetParentOf(t *testing.T) {
	t.Run("forwards the parent and arms watches", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		w := h.window("w")
		x, im, _ := h.linked(w)
		child := h.window("c")

		require.NoError(t, im.SetParentOf(h.ctx, child))

		assert.Same(t, w, child.Parent())
		assert.Equal(t, []shell.Window{child}, im.Children())
		unmap, parentChanged := child.Observers()
		assert.Equal(t, 1, unmap)
		assert.Equal(t, 1, parentChanged)

		created := h.eventsOf(EventChildCreated)
		require.Len(t, created, 1)
		assert.Equal(t, x.ID(), created[0].ExportID)
		assert.Equal(t, "c", created[0].Window)
	})

	t.Run("duplicate requests are idempotent", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		_, im, _ := h.linked(h.window("w"))
		child := h.window("c")

		require.NoError(t, im.SetParentOf(h.ctx, child))
		require.NoError(t, im.SetParentOf(h.ctx, child))

		assert.Len(t, im.Children(), 1)
		assert.Len(t, h.eventsOf(EventChildCreated), 1)
		assert.Empty(t, h.eventsOf(EventChildDestroyed))
	})

	t.Run("unlinked import is a no-op", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		b := h.connect("b")
		im := h.importHandle(b, h.importer(b), "unknown")
		child := h.window("c")

		require.NoError(t, im.SetParentOf(h.ctx, child))

		assert.Nil(t, child.Parent())
		assert.Empty(t, im.Children())
		assert.Nil(t, b.Error())
	})

	t.Run("rejects non-toplevel children", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		_, im, b := h.linked(h.window("w"))
		popup, err := h.tree.NewWindow("p", shell.RolePopup)
		require.NoError(t, err)

		h.display.Dispatch(func() {
			err := im.SetParentOf(h.ctx, popup)
			assert.ErrorIs(t, err, ErrInvalidRole)
		})

		require.NotNil(t, b.Error())
		assert.Equal(t, protocol.ErrorRole, b.Error().Code)
		assert.Equal(t, "surface must be an xdg_toplevel", b.Error().Message)
		assert.Equal(t, im.Resource().ID(), b.Error().Object)
		assert.False(t, b.Connected())
		assert.Nil(t, popup.Parent())
	})

	t.Run("rejects children from another window model", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		_, im, b := h.linked(h.window("w"))
		other := shell.NewTree("other")
		foreignChild, err := other.NewWindow("c", shell.RoleToplevel)
		require.NoError(t, err)

		err = im.SetParentOf(h.ctx, foreignChild)

		assert.ErrorIs(t, err, ErrRoleMismatch)
		require.NotNil(t, b.Error())
		assert.Equal(t, "surfaces must have the same role", b.Error().Message)
		assert.Empty(t, im.Children())
	})

	t.Run("opaque exported window ignores the request", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		_, im, b := h.linked(shell.NewDetached("opaque", shell.RoleToplevel))
		child := h.window("c")

		require.NoError(t, im.SetParentOf(h.ctx, child))

		assert.Nil(t, child.Parent())
		assert.Empty(t, im.Children())
		assert.Nil(t, b.Error())
		assert.Empty(t, h.eventsOf(EventChildCreated))
	})

	t.Run("refused parent is not recorded", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		root := h.window("root")
		w := h.window("w")
		h.tree.SetParent(w, root)
		_, im, b := h.linked(w)

		for _, child := range []*shell.Surface{root, w} {
			unmapBefore, parentBefore := child.Observers()
			require.NoError(t, im.SetParentOf(h.ctx, child))

			assert.Empty(t, im.Children())
			unmap, parentChanged := child.Observers()
			assert.Equal(t, unmapBefore, unmap, "no watch is armed on %s", child.ID())
			assert.Equal(t, parentBefore, parentChanged)
		}
		assert.Nil(t, root.Parent())
		assert.Same(t, root, w.Parent())
		assert.Nil(t, b.Error())
		assert.Empty(t, h.eventsOf(EventChildCreated))
		assert.Zero(t, h.svc.Snapshot().Children)
	})

	t.Run("destroying an import keeps parents it never set", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		root := h.window("root")
		w := h.window("w")
		h.tree.SetParent(w, root)
		x, _, _ := h.linked(w)
		c := h.connect("other")
		im := h.importHandle(c, h.importer(c), x.Handle())

		require.NoError(t, im.SetParentOf(h.ctx, w))
		im.Destroy()

		assert.Same(t, root, w.Parent())
		assert.Empty(t, h.eventsOf(EventChildDestroyed))
	})
}

func TestImportedChild_Watches(t *testing.T) {
	t.Run("child unmap drops only the relationship", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		x, im, _ := h.linked(h.window("w"))
		child := h.window("c")
		require.NoError(t, im.SetParentOf(h.ctx, child))

		h.tree.Unmap(child)

		assert.Empty(t, im.Children())
		assert.True(t, im.Linked())
		assert.False(t, x.Released())
		destroyed := h.eventsOf(EventChildDestroyed)
		require.Len(t, destroyed, 1)
		assert.Equal(t, ReasonUnmap, destroyed[0].Reason)

		h.tree.Map(child)
		require.NoError(t, im.SetParentOf(h.ctx, child))
		assert.Len(t, im.Children(), 1, "relationship can be recreated")
	})

	t.Run("reparenting elsewhere supersedes the relationship", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		_, im, _ := h.linked(h.window("w"))
		child := h.window("c")
		elsewhere := h.window("e")
		require.NoError(t, im.SetParentOf(h.ctx, child))

		h.tree.SetParent(child, elsewhere)

		assert.Empty(t, im.Children())
		assert.Same(t, elsewhere, child.Parent())
		destroyed := h.eventsOf(EventChildDestroyed)
		require.Len(t, destroyed, 1)
		assert.Equal(t, ReasonReparent, destroyed[0].Reason)
	})

	t.Run("a second import takes over the child", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		a, b := h.connect("a"), h.connect("b")
		e := h.exporter(a)
		w1, w2 := h.window("w1"), h.window("w2")
		x1 := h.export(a, e, w1)
		x2 := h.export(a, e, w2)
		i := h.importer(b)
		im1 := h.importHandle(b, i, x1.Handle())
		im2 := h.importHandle(b, i, x2.Handle())
		child := h.window("c")

		require.NoError(t, im1.SetParentOf(h.ctx, child))
		require.NoError(t, im2.SetParentOf(h.ctx, child))

		assert.Empty(t, im1.Children())
		assert.Equal(t, []shell.Window{child}, im2.Children())
		assert.Same(t, w2, child.Parent())
	})

	t.Run("exported window unmap reparents the child", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		w := h.window("w")
		x, im, b := h.linked(w)
		child := h.window("c")
		require.NoError(t, im.SetParentOf(h.ctx, child))

		h.tree.Unmap(w)

		assert.True(t, x.Released())
		assert.False(t, im.Linked())
		assert.Len(t, b.EventsNamed(protocol.EventDestroyed), 1)
		assert.Nil(t, child.Parent())
		assert.Empty(t, im.Children())
	})
}

func TestImported_Destroy(t *testing.T) {
	h := newHarness(t, nil, nil)
	w := h.window("w")
	x, im, b := h.linked(w)
	c1, c2 := h.window("c1"), h.window("c2")
	require.NoError(t, im.SetParentOf(h.ctx, c1))
	require.NoError(t, im.SetParentOf(h.ctx, c2))

	im.Destroy()

	assert.True(t, im.Released())
	assert.False(t, im.Linked())
	assert.Empty(t, x.Imports())
	assert.Empty(t, im.Children())
	assert.Nil(t, c1.Parent(), "forwarded parents are unset")
	assert.Nil(t, c2.Parent())
	assert.Empty(t, b.EventsNamed(protocol.EventDestroyed), "no destroyed event for a client-initiated destroy")

	destroyed := h.eventsOf(EventChildDestroyed)
	require.Len(t, destroyed, 2)
	for _, ev := range destroyed {
		assert.Equal(t, ReasonImported, ev.Reason)
	}
	released := h.eventsOf(EventImportedDestroyed)
	require.Len(t, released, 1)
	assert.Equal(t, ReasonRequest, released[0].Reason)
	assert.Equal(t, 2, released[0].Count)
	assert.Zero(t, h.svc.Snapshot().Children)
}
