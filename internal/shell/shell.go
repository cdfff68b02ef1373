// Package shell defines the window model consumed by the foreign registry
// and provides an in-memory toplevel hierarchy implementing it.
package shell

import (
	"fmt"

	"github.com/fyrsmithlabs/foreignd/internal/signal"
)

// Role is the role a window was given by its client.
type Role int

const (
	RoleNone Role = iota
	RoleToplevel
	RolePopup
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleToplevel:
		return "toplevel"
	case RolePopup:
		return "popup"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole parses a role name.
func ParseRole(s string) (Role, error) {
	switch s {
	case "", "toplevel":
		return RoleToplevel, nil
	case "none":
		return RoleNone, nil
	case "popup":
		return RolePopup, nil
	default:
		return RoleNone, fmt.Errorf("unknown role %q", s)
	}
}

// Window is a client surface as seen by the registry.
type Window interface {
	ID() string
	Role() Role
	// Model returns the window model that owns the window's hierarchy, or
	// nil when the window is not managed by any model.
	Model() Model
}

// Model is a window hierarchy implementation.
type Model interface {
	Name() string
	// SetParent makes parent the logical parent of child. A nil parent
	// clears the relationship. An applied assignment notifies the child's
	// parent-changed observers once the new parent is in place. It reports
	// false when the model refused the assignment and nothing changed.
	SetParent(child, parent Window) bool
	// OnUnmap registers fn to run when w unmaps.
	OnUnmap(w Window, fn func()) signal.Canceler
	// OnParentChanged registers fn to run whenever w's parent is assigned.
	OnParentChanged(w Window, fn func()) signal.Canceler
}

// detached is a window with a role but no hierarchy.
type detached struct {
	id   string
	role Role
}

// NewDetached returns a window that belongs to no model.
func NewDetached(id string, role Role) Window {
	return &detached{id: id, role: role}
}

func (d *detached) ID() string   { return d.id }
func (d *detached) Role() Role   { return d.role }
func (d *detached) Model() Model { return nil }
