package shell

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/foreignd/internal/signal"
	"go.uber.org/zap"
)

var (
	ErrWindowExists   = errors.New("window already exists")
	ErrWindowNotFound = errors.New("window not found")
	ErrEmptyWindowID  = errors.New("window id is required")
)

// Tree is an in-memory toplevel hierarchy. It is not safe for concurrent
// use.
type Tree struct {
	name    string
	windows map[string]*Surface
	logger  *zap.Logger
}

// TreeOption configures a Tree.
type TreeOption func(*Tree)

// WithLogger sets the logger used for hierarchy changes.
func WithLogger(l *zap.Logger) TreeOption {
	return func(t *Tree) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTree creates an empty hierarchy identified by name.
func NewTree(name string, opts ...TreeOption) *Tree {
	t := &Tree{
		name:    name,
		windows: make(map[string]*Surface),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("shell").With(zap.String("model", name))
	return t
}

// Name returns the model name.
func (t *Tree) Name() string { return t.name }

// NewWindow adds a mapped window with the given role.
func (t *Tree) NewWindow(id string, role Role) (*Surface, error) {
	if id == "" {
		return nil, ErrEmptyWindowID
	}
	if _, ok := t.windows[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrWindowExists, id)
	}
	s := &Surface{id: id, role: role, tree: t, mapped: true}
	t.windows[id] = s
	t.logger.Debug("window created", zap.String("window", id), zap.Stringer("role", role))
	return s, nil
}

// Window looks up a window by id.
func (t *Tree) Window(id string) (*Surface, error) {
	s, ok := t.windows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWindowNotFound, id)
	}
	return s, nil
}

// Windows returns all windows sorted by id.
func (t *Tree) Windows() []*Surface {
	out := make([]*Surface, 0, len(t.windows))
	for _, s := range t.windows {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// SetParent implements Model. Windows from other models are refused, as
// are assignments that would create a cycle.
func (t *Tree) SetParent(child, parent Window) bool {
	c := t.own(child)
	if c == nil {
		return false
	}
	var p *Surface
	if parent != nil {
		if p = t.own(parent); p == nil {
			return false
		}
		for a := p; a != nil; a = a.parent {
			if a == c {
				t.logger.Debug("parent rejected: cycle",
					zap.String("window", c.id), zap.String("parent", p.id))
				return false
			}
		}
	}
	c.parent = p
	t.logger.Debug("parent set", zap.String("window", c.id), zap.String("parent", p.ID()))
	c.parentChanged.Emit(c)
	return true
}

// Unmap unmaps w. Its observers run first, then its children are moved to
// w's own parent.
func (t *Tree) Unmap(w Window) {
	s := t.own(w)
	if s == nil || !s.mapped {
		return
	}
	s.mapped = false
	t.logger.Debug("window unmapped", zap.String("window", s.id))
	s.unmap.Emit(s)

	for _, other := range t.Windows() {
		if other.parent == s {
			t.SetParent(other, s.parentWindow())
		}
	}
}

// Map maps a previously unmapped window.
func (t *Tree) Map(w Window) {
	if s := t.own(w); s != nil {
		s.mapped = true
	}
}

// OnUnmap implements Model.
func (t *Tree) OnUnmap(w Window, fn func()) signal.Canceler {
	s := t.own(w)
	if s == nil {
		return nil
	}
	return s.unmap.Subscribe(func(*Surface) { fn() })
}

// OnParentChanged implements Model.
func (t *Tree) OnParentChanged(w Window, fn func()) signal.Canceler {
	s := t.own(w)
	if s == nil {
		return nil
	}
	return s.parentChanged.Subscribe(func(*Surface) { fn() })
}

func (t *Tree) own(w Window) *Surface {
	s, ok := w.(*Surface)
	if !ok || s == nil || s.tree != t {
		return nil
	}
	return s
}

// Surface is a window in a Tree.
type Surface struct {
	id     string
	role   Role
	tree   *Tree
	parent *Surface
	mapped bool

	unmap         signal.Signal[*Surface]
	parentChanged signal.Signal[*Surface]
}

func (s *Surface) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

func (s *Surface) Role() Role   { return s.role }
func (s *Surface) Model() Model { return s.tree }
func (s *Surface) Mapped() bool { return s.mapped }

// Parent returns the current parent, or nil.
func (s *Surface) Parent() *Surface { return s.parent }

// Observers returns the number of registered unmap and parent-changed
// observers.
func (s *Surface) Observers() (unmap, parentChanged int) {
	return s.unmap.Len(), s.parentChanged.Len()
}

func (s *Surface) parentWindow() Window {
	if s.parent == nil {
		return nil
	}
	return s.parent
}
