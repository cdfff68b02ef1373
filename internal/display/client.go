package display

import (
	"fmt"

	"github.com/fyrsmithlabs/foreignd/internal/protocol"
	"go.uber.org/zap"
)

// PostedError is the first fatal protocol error sent to a client.
type PostedError struct {
	Object  protocol.ObjectID  `json:"object"`
	Code    protocol.ErrorCode `json:"code"`
	Message string             `json:"message"`
}

// Client is a connected client and the resources it owns.
type Client struct {
	id        string
	display   *Display
	resources map[protocol.ObjectID]*Resource
	order     []*Resource
	events    []Event
	posted    *PostedError
	nextID    protocol.ObjectID
	gone      bool
}

// ID implements protocol.Client.
func (c *Client) ID() string { return c.id }

// NextID reserves a fresh object id.
func (c *Client) NextID() protocol.ObjectID {
	id := c.nextID
	c.nextID++
	return id
}

// Bind binds the global advertising iface at version and returns the id of
// the new object. The id is returned even when the global's handler could
// not allocate the object.
func (c *Client) Bind(iface string, version uint32) (protocol.ObjectID, error) {
	if c.gone {
		return 0, ErrClientDisconnected
	}
	g, err := c.display.Global(iface)
	if err != nil {
		return 0, err
	}
	if version == 0 || version > g.version {
		return 0, fmt.Errorf("%w: %s v%d (max %d)", ErrVersionUnsupported, iface, version, g.version)
	}
	id := c.NextID()
	g.bind(c, version, id)
	return id, nil
}

// NewResource implements protocol.Client.
func (c *Client) NewResource(iface string, version uint32, id protocol.ObjectID) (protocol.Resource, error) {
	if c.gone {
		return nil, ErrClientDisconnected
	}
	if _, ok := c.resources[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrObjectExists, id)
	}
	if c.display.allocFails != nil && c.display.allocFails(c.id, iface) {
		return nil, fmt.Errorf("%w: %s@%d", ErrNoMemory, iface, id)
	}
	r := &Resource{id: id, iface: iface, version: version, client: c}
	c.resources[id] = r
	c.order = append(c.order, r)
	if id >= c.nextID {
		c.nextID = id + 1
	}
	return r, nil
}

// PostNoMemory implements protocol.Client.
func (c *Client) PostNoMemory() {
	c.post(1, protocol.ErrorNoMemory, "no memory")
}

// Resource looks up a live resource by id.
func (c *Client) Resource(id protocol.ObjectID) (*Resource, bool) {
	r, ok := c.resources[id]
	return r, ok
}

// Resources returns live resources in creation order.
func (c *Client) Resources() []*Resource {
	out := make([]*Resource, len(c.order))
	copy(out, c.order)
	return out
}

// Events returns every event delivered to the client so far.
func (c *Client) Events() []Event {
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// EventsNamed returns delivered events with the given name.
func (c *Client) EventsNamed(name string) []Event {
	var out []Event
	for _, e := range c.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Error returns the fatal error posted to the client, if any.
func (c *Client) Error() *PostedError { return c.posted }

// Connected reports whether the client is still connected.
func (c *Client) Connected() bool { return !c.gone }

// Disconnect destroys the client's resources, newest first, and removes
// the client from the display.
func (c *Client) Disconnect() {
	if c.gone {
		return
	}
	for len(c.order) > 0 {
		c.order[len(c.order)-1].Destroy()
	}
	c.gone = true
	c.display.removeClient(c)
	c.display.logger.Debug("client disconnected", zap.String("client", c.id))
}

func (c *Client) deliver(e Event) {
	c.events = append(c.events, e)
	c.display.onEvent.Emit(e)
}

func (c *Client) post(object protocol.ObjectID, code protocol.ErrorCode, msg string) {
	if c.gone || c.posted != nil {
		return
	}
	c.posted = &PostedError{Object: object, Code: code, Message: msg}
	c.deliver(Event{
		Client:    c.id,
		Object:    1,
		Interface: "wl_display",
		Name:      protocol.EventError,
		Args:      []any{object, uint32(code), msg},
	})
}

func (c *Client) forget(r *Resource) {
	delete(c.resources, r.id)
	for i, other := range c.order {
		if other == r {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
}

// Resource is a client-owned object.
type Resource struct {
	id        protocol.ObjectID
	iface     string
	version   uint32
	client    *Client
	impl      any
	onDestroy func()
	destroyed bool
}

func (r *Resource) ID() protocol.ObjectID   { return r.id }
func (r *Resource) Interface() string       { return r.iface }
func (r *Resource) Version() uint32         { return r.version }
func (r *Resource) Client() protocol.Client { return r.client }
func (r *Resource) Implementation() any     { return r.impl }

// Destroyed reports whether the resource was destroyed.
func (r *Resource) Destroyed() bool { return r.destroyed }

// SetImplementation implements protocol.Resource.
func (r *Resource) SetImplementation(impl any, onDestroy func()) {
	r.impl = impl
	r.onDestroy = onDestroy
}

// Send implements protocol.Resource. Events on destroyed resources are
// dropped.
func (r *Resource) Send(event string, args ...any) {
	if r.destroyed || r.client.gone {
		return
	}
	r.client.deliver(Event{
		Client:    r.client.id,
		Object:    r.id,
		Interface: r.iface,
		Name:      event,
		Args:      args,
	})
}

// PostError implements protocol.Resource.
func (r *Resource) PostError(code protocol.ErrorCode, msg string) {
	r.client.post(r.id, code, msg)
}

// Destroy implements protocol.Resource.
func (r *Resource) Destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.client.forget(r)
	if r.onDestroy != nil {
		r.onDestroy()
	}
}
