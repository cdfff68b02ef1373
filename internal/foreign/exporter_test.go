package foreign

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fyrsmithlabs/foreignd/internal/display"
	"github.com/fyrsmithlabs/foreignd/internal/handle"
	"github.com/fyrsmithlabs/foreignd/internal/protocol"
	"github.com/fyrsmithlabs/foreignd/internal/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporter_Export(t *testing.T) {
	t.Run("publishes the handle", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		a := h.connect("a")
		x := h.export(a, h.exporter(a), h.window("w"))

		assert.Len(t, x.Handle(), 36, "default handles are canonical UUIDs")
		assert.NotEqual(t, x.Handle(), x.ID())

		events := a.EventsNamed(protocol.EventHandle)
		require.Len(t, events, 1)
		assert.Equal(t, x.Resource().ID(), events[0].Object)
		assert.Equal(t, protocol.ExportedInterface, events[0].Interface)
		assert.Equal(t, []any{x.Handle()}, events[0].Args)
	})

	t.Run("handles are unique across clients", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		seen := make(map[string]bool)
		for _, id := range []string{"a", "b", "c"} {
			c := h.connect(id)
			e := h.exporter(c)
			for range 5 {
				x := h.export(c, e, h.window(fmt.Sprintf("%s-%d", id, len(seen))))
				assert.False(t, seen[x.Handle()], "duplicate handle")
				seen[x.Handle()] = true
			}
		}
		assert.Len(t, seen, 15)
	})

	t.Run("regenerates on collision", func(t *testing.T) {
		h := newHarness(t, nil, nil, WithAllocator(handle.Sequence("h1", "h1", "h1", "h2")))
		a, b := h.connect("a"), h.connect("b")
		x1 := h.export(a, h.exporter(a), h.window("w1"))
		x2 := h.export(b, h.exporter(b), h.window("w2"))

		assert.Equal(t, "h1", x1.Handle())
		assert.Equal(t, "h2", x2.Handle())
		assert.Equal(t, 2, h.logs.FilterMessage("handle collision, regenerating").Len())
	})

	t.Run("a released handle can be reused", func(t *testing.T) {
		h := newHarness(t, nil, nil, WithAllocator(handle.Sequence("h1", "h1")))
		a := h.connect("a")
		e := h.exporter(a)
		x1 := h.export(a, e, h.window("w1"))
		x1.Destroy()
		x2 := h.export(a, e, h.window("w2"))

		assert.Equal(t, "h1", x2.Handle())
		got, ok := h.svc.Lookup("h1")
		require.True(t, ok)
		assert.Same(t, x2, got)
	})

	t.Run("bounded regeneration", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.MaxHandleAttempts = 3
		calls := 0
		same := handle.Func(func() (string, error) {
			calls++
			return "same", nil
		})
		h := newHarness(t, cfg, nil, WithAllocator(same))
		a := h.connect("a")
		e := h.exporter(a)
		h.export(a, e, h.window("w1"))
		calls = 0

		_, err := e.Export(h.ctx, a.NextID(), h.window("w2"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrResourceExhausted)
		assert.Equal(t, 3, calls)
		require.NotNil(t, a.Error())
		assert.Equal(t, protocol.ErrorNoMemory, a.Error().Code)
		assert.Len(t, e.Exports(), 1)
	})

	t.Run("allocator failure", func(t *testing.T) {
		h := newHarness(t, nil, nil, WithAllocator(handle.Sequence()))
		a := h.connect("a")
		e := h.exporter(a)
		id := a.NextID()

		_, err := e.Export(h.ctx, id, h.window("w"))
		assert.ErrorIs(t, err, ErrResourceExhausted)
		assert.ErrorIs(t, err, handle.ErrExhausted)
		_, ok := a.Resource(id)
		assert.False(t, ok, "no exported object is created")
		assert.Empty(t, h.eventsOf(EventExportedCreated))
	})

	t.Run("object allocation failure leaves no state", func(t *testing.T) {
		h := newHarness(t, nil, []display.Option{
			display.WithAllocationFailure(func(_, iface string) bool { return iface == protocol.ExportedInterface }),
		}, WithAllocator(handle.Sequence("h1")))
		a := h.connect("a")
		e := h.exporter(a)

		_, err := e.Export(h.ctx, a.NextID(), h.window("w"))
		var perr *ProtocolError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, protocol.ErrorNoMemory, perr.Code)
		assert.ErrorIs(t, err, display.ErrNoMemory)
		_, ok := h.svc.Lookup("h1")
		assert.False(t, ok)
		assert.Zero(t, h.svc.Snapshot().Exported)
	})
}

func TestExporter_ExportRejectsRoles(t *testing.T) {
	popupTree := shell.NewTree("xdg")
	popup, err := popupTree.NewWindow("p", shell.RolePopup)
	require.NoError(t, err)

	tests := []struct {
		name    string
		window  shell.Window
		message string
	}{
		{"popup", popup, "surface must be an xdg_toplevel"},
		{"no role", shell.NewDetached("bare", shell.RoleNone), "surface must be an xdg_surface"},
		{"nil window", nil, "surface must be an xdg_surface"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, nil)
			a := h.connect("a")
			e := h.exporter(a)

			h.display.Dispatch(func() {
				_, err := e.Export(h.ctx, a.NextID(), tt.window)
				assert.ErrorIs(t, err, ErrInvalidRole)
			})

			assert.False(t, a.Connected(), "protocol errors are client-fatal")
			require.NotNil(t, a.Error())
			assert.Equal(t, protocol.ErrorRole, a.Error().Code)
			assert.Equal(t, e.Resource().ID(), a.Error().Object)
			assert.Equal(t, tt.message, a.Error().Message)
			assert.Empty(t, h.svc.Exporters())
		})
	}
}

func TestExported_Teardown(t *testing.T) {
	t.Run("window unmap destroys the export", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		a, b := h.connect("a"), h.connect("b")
		w := h.window("w")
		e := h.exporter(a)
		x := h.export(a, e, w)
		im := h.importHandle(b, h.importer(b), x.Handle())

		h.tree.Unmap(w)

		assert.True(t, x.Released())
		assert.True(t, x.Resource().(*display.Resource).Destroyed())
		assert.Empty(t, e.Exports())
		_, ok := h.svc.Lookup(x.Handle())
		assert.False(t, ok)
		assert.False(t, im.Linked())
		assert.Len(t, b.EventsNamed(protocol.EventDestroyed), 1)

		destroyed := h.eventsOf(EventExportedDestroyed)
		require.Len(t, destroyed, 1)
		assert.Equal(t, ReasonUnmap, destroyed[0].Reason)
		assert.Equal(t, 1, destroyed[0].Count)

		unmap, _ := w.Observers()
		assert.Zero(t, unmap, "unmap watch is released")
	})

	t.Run("destroy request", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		a := h.connect("a")
		w := h.window("w")
		x := h.export(a, h.exporter(a), w)

		x.Destroy()

		assert.True(t, x.Released())
		destroyed := h.eventsOf(EventExportedDestroyed)
		require.Len(t, destroyed, 1)
		assert.Equal(t, ReasonRequest, destroyed[0].Reason)

		h.tree.Unmap(w)
		assert.Len(t, h.eventsOf(EventExportedDestroyed), 1, "unmap after destroy is ignored")
	})

	t.Run("client disconnect", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		a := h.connect("a")
		e := h.exporter(a)
		h.export(a, e, h.window("w1"))
		h.export(a, e, h.window("w2"))

		a.Disconnect()

		assert.Empty(t, h.svc.Exporters())
		destroyed := h.eventsOf(EventExportedDestroyed)
		require.Len(t, destroyed, 2)
		for _, ev := range destroyed {
			assert.Equal(t, ReasonClient, ev.Reason)
		}
		released := h.eventsOf(EventExporterReleased)
		require.Len(t, released, 1)
		assert.Equal(t, ReasonClient, released[0].Reason)
		assert.Zero(t, released[0].Count, "exports were destroyed before their exporter")
	})

	t.Run("opaque windows are exported without an unmap watch", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		a := h.connect("a")
		x := h.export(a, h.exporter(a), shell.NewDetached("opaque", shell.RoleToplevel))

		assert.Nil(t, x.unmapSub)
		x.Destroy()
		assert.True(t, x.Released())
	})
}

func TestExporter_DestroyCascade(t *testing.T) {
	const exports, importers = 3, 2

	h := newHarness(t, nil, nil)
	a := h.connect("exp")
	e := h.exporter(a)
	var xs []*Exported
	for n := range exports {
		xs = append(xs, h.export(a, e, h.window(fmt.Sprintf("w%d", n))))
	}

	var clients []*display.Client
	var imports []*Imported
	for n := range importers {
		c := h.connect(fmt.Sprintf("imp%d", n))
		clients = append(clients, c)
		i := h.importer(c)
		for _, x := range xs {
			imports = append(imports, h.importHandle(c, i, x.Handle()))
		}
	}

	e.Destroy()

	total := 0
	for _, c := range clients {
		n := len(c.EventsNamed(protocol.EventDestroyed))
		assert.Equal(t, exports, n)
		total += n
	}
	assert.Equal(t, exports*importers, total)
	assert.Len(t, h.eventsOf(EventImportedDisconnected), exports*importers)

	for _, im := range imports {
		assert.False(t, im.Linked())
		assert.False(t, im.Released())
		assert.False(t, im.Resource().(*display.Resource).Destroyed(), "imported objects survive")
	}
	for _, x := range xs {
		assert.Empty(t, x.Imports())
		assert.Equal(t, ReasonRegistry, x.reason)
	}
	destroyed := h.eventsOf(EventExportedDestroyed)
	require.Len(t, destroyed, exports)
	for _, ev := range destroyed {
		assert.Equal(t, Reason("registry"), ev.Reason)
	}

	snap := h.svc.Snapshot()
	assert.Zero(t, snap.Exporters)
	assert.Zero(t, snap.Exported)
	assert.Zero(t, snap.Linked)
	assert.Equal(t, exports*importers, snap.Imported)

	released := h.eventsOf(EventExporterReleased)
	require.Len(t, released, 1)
	assert.Equal(t, ReasonRequest, released[0].Reason)
	assert.Equal(t, exports, released[0].Count)
}
