package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"", RoleToplevel, false},
		{"toplevel", RoleToplevel, false},
		{"popup", RolePopup, false},
		{"none", RoleNone, false},
		{"cursor", RoleNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}
}

func TestTree_NewWindow(t *testing.T) {
	tree := NewTree("xdg")

	w, err := tree.NewWindow("main", RoleToplevel)
	require.NoError(t, err)
	assert.Equal(t, "main", w.ID())
	assert.Equal(t, RoleToplevel, w.Role())
	assert.Same(t, tree, w.Model())
	assert.True(t, w.Mapped())

	_, err = tree.NewWindow("main", RoleToplevel)
	assert.ErrorIs(t, err, ErrWindowExists)

	_, err = tree.NewWindow("", RoleToplevel)
	assert.ErrorIs(t, err, ErrEmptyWindowID)

	got, err := tree.Window("main")
	require.NoError(t, err)
	assert.Same(t, w, got)

	_, err = tree.Window("missing")
	assert.ErrorIs(t, err, ErrWindowNotFound)
}

func TestTree_SetParent(t *testing.T) {
	tree := NewTree("xdg")
	parent, _ := tree.NewWindow("parent", RoleToplevel)
	child, _ := tree.NewWindow("child", RoleToplevel)

	var seen []*Surface
	sub := tree.OnParentChanged(child, func() { seen = append(seen, child.Parent()) })
	require.NotNil(t, sub)

	assert.True(t, tree.SetParent(child, parent))
	assert.True(t, tree.SetParent(child, nil))

	require.Len(t, seen, 2)
	assert.Same(t, parent, seen[0], "observer sees the new parent")
	assert.Nil(t, seen[1])

	sub.Cancel()
	tree.SetParent(child, parent)
	assert.Len(t, seen, 2)
}

func TestTree_SetParentRejects(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		tree := NewTree("xdg")
		a, _ := tree.NewWindow("a", RoleToplevel)
		b, _ := tree.NewWindow("b", RoleToplevel)
		tree.SetParent(b, a)

		fired := false
		tree.OnParentChanged(a, func() { fired = true })
		assert.False(t, tree.SetParent(a, b))

		assert.Nil(t, a.Parent())
		assert.False(t, fired)
	})

	t.Run("self", func(t *testing.T) {
		tree := NewTree("xdg")
		a, _ := tree.NewWindow("a", RoleToplevel)

		assert.False(t, tree.SetParent(a, a))
		assert.Nil(t, a.Parent())
	})

	t.Run("window from another model", func(t *testing.T) {
		tree := NewTree("xdg")
		other := NewTree("legacy")
		child, _ := tree.NewWindow("child", RoleToplevel)
		foreign, _ := other.NewWindow("foreign", RoleToplevel)

		assert.False(t, tree.SetParent(child, foreign))
		assert.Nil(t, child.Parent())
		assert.Nil(t, tree.OnUnmap(foreign, func() {}))
	})
}

func TestTree_Unmap(t *testing.T) {
	tree := NewTree("xdg")
	root, _ := tree.NewWindow("root", RoleToplevel)
	mid, _ := tree.NewWindow("mid", RoleToplevel)
	leaf, _ := tree.NewWindow("leaf", RoleToplevel)
	tree.SetParent(mid, root)
	tree.SetParent(leaf, mid)

	unmaps := 0
	tree.OnUnmap(mid, func() { unmaps++ })
	reparented := 0
	tree.OnParentChanged(leaf, func() { reparented++ })

	tree.Unmap(mid)
	tree.Unmap(mid)

	assert.Equal(t, 1, unmaps)
	assert.Equal(t, 1, reparented)
	assert.Same(t, root, leaf.Parent())
	assert.False(t, mid.Mapped())

	tree.Map(mid)
	assert.True(t, mid.Mapped())
}

func TestDetached(t *testing.T) {
	w := NewDetached("x11", RoleToplevel)
	assert.Equal(t, "x11", w.ID())
	assert.Equal(t, RoleToplevel, w.Role())
	assert.Nil(t, w.Model())
}
