// Package display is an in-memory host runtime: globals, connected clients
// and the resources they own. It implements the protocol interfaces so the
// foreign registry can run without a real display server, and it records
// every event sent to a client so behaviour can be observed.
package display

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/foreignd/internal/protocol"
	"github.com/fyrsmithlabs/foreignd/internal/signal"
	"go.uber.org/zap"
)

// Display errors.
var (
	ErrDisplayDestroyed   = errors.New("display destroyed")
	ErrGlobalLimit        = errors.New("global limit reached")
	ErrGlobalNotFound     = errors.New("global not found")
	ErrVersionUnsupported = errors.New("version not supported by global")
)

// Client errors.
var (
	ErrClientExists       = errors.New("client already connected")
	ErrClientNotFound     = errors.New("client not found")
	ErrClientDisconnected = errors.New("client disconnected")
	ErrObjectExists       = errors.New("object id already in use")
	ErrNoMemory           = errors.New("no memory")
)

// Event is one event delivered to a client.
type Event struct {
	Client    string            `json:"client"`
	Object    protocol.ObjectID `json:"object"`
	Interface string            `json:"interface"`
	Name      string            `json:"event"`
	Args      []any             `json:"args,omitempty"`
}

// Display is the in-memory host. It is not safe for concurrent use; run
// it on a Loop.
type Display struct {
	globals   []*Global
	clients   map[string]*Client
	order     []*Client
	destroyed bool

	onDestroy signal.Signal[struct{}]
	onEvent   signal.Signal[Event]

	globalLimit int
	allocFails  func(client, iface string) bool
	logger      *zap.Logger
}

// Option configures a Display.
type Option func(*Display)

// WithLogger sets the display logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Display) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithGlobalLimit caps the number of live globals. Zero or less means no cap.
func WithGlobalLimit(n int) Option {
	return func(d *Display) {
		d.globalLimit = n
	}
}

// WithAllocationFailure makes NewResource fail whenever fn returns true.
func WithAllocationFailure(fn func(client, iface string) bool) Option {
	return func(d *Display) {
		d.allocFails = fn
	}
}

// New creates an empty display.
func New(opts ...Option) *Display {
	d := &Display{
		clients: make(map[string]*Client),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("display")
	return d
}

// CreateGlobal implements protocol.Host.
func (d *Display) CreateGlobal(iface string, version uint32, bind protocol.BindFunc) (protocol.Global, error) {
	if d.destroyed {
		return nil, ErrDisplayDestroyed
	}
	if d.globalLimit > 0 && len(d.globals) >= d.globalLimit {
		return nil, fmt.Errorf("%w: %s", ErrGlobalLimit, iface)
	}
	g := &Global{display: d, iface: iface, version: version, bind: bind}
	d.globals = append(d.globals, g)
	d.logger.Debug("global created", zap.String("interface", iface), zap.Uint32("version", version))
	return g, nil
}

// OnDestroy implements protocol.Host.
func (d *Display) OnDestroy(fn func()) signal.Canceler {
	return d.onDestroy.Subscribe(func(struct{}) { fn() })
}

// OnEvent registers fn to observe every event sent to any client.
func (d *Display) OnEvent(fn func(Event)) signal.Canceler {
	return d.onEvent.Subscribe(fn)
}

// Globals returns the live globals in creation order.
func (d *Display) Globals() []*Global {
	out := make([]*Global, len(d.globals))
	copy(out, d.globals)
	return out
}

// Global returns the live global advertising iface.
func (d *Display) Global(iface string) (*Global, error) {
	for _, g := range d.globals {
		if g.iface == iface {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrGlobalNotFound, iface)
}

// Connect adds a client.
func (d *Display) Connect(id string) (*Client, error) {
	if d.destroyed {
		return nil, ErrDisplayDestroyed
	}
	if _, ok := d.clients[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrClientExists, id)
	}
	c := &Client{
		id:        id,
		display:   d,
		resources: make(map[protocol.ObjectID]*Resource),
		nextID:    2, // 1 is the display object
	}
	d.clients[id] = c
	d.order = append(d.order, c)
	d.logger.Debug("client connected", zap.String("client", id))
	return c, nil
}

// Client looks up a connected client.
func (d *Display) Client(id string) (*Client, error) {
	c, ok := d.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, id)
	}
	return c, nil
}

// Clients returns connected clients in connection order.
func (d *Display) Clients() []*Client {
	out := make([]*Client, len(d.order))
	copy(out, d.order)
	return out
}

// Dispatch runs fn as one request and then disconnects every client that
// was sent a protocol error while it ran.
func (d *Display) Dispatch(fn func()) {
	fn()
	for _, c := range d.Clients() {
		if c.posted != nil {
			d.logger.Debug("disconnecting client after protocol error",
				zap.String("client", c.id),
				zap.Uint32("code", uint32(c.posted.Code)),
				zap.String("message", c.posted.Message),
			)
			c.Disconnect()
		}
	}
}

// Destroy notifies shutdown observers, disconnects every client and drops
// the remaining globals. It is idempotent.
func (d *Display) Destroy() {
	if d.destroyed {
		return
	}
	d.destroyed = true
	d.onDestroy.Emit(struct{}{})
	for i := len(d.order) - 1; i >= 0; i-- {
		d.order[i].Disconnect()
	}
	for _, g := range d.Globals() {
		g.Destroy()
	}
	d.logger.Debug("display destroyed")
}

// Destroyed reports whether Destroy was called.
func (d *Display) Destroyed() bool { return d.destroyed }

func (d *Display) removeClient(c *Client) {
	delete(d.clients, c.id)
	for i, other := range d.order {
		if other == c {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			break
		}
	}
}

// Global is an advertised global.
type Global struct {
	display   *Display
	iface     string
	version   uint32
	bind      protocol.BindFunc
	destroyed bool
}

func (g *Global) Interface() string { return g.iface }
func (g *Global) Version() uint32   { return g.version }

// Destroy withdraws the global. Existing resources are unaffected.
func (g *Global) Destroy() {
	if g.destroyed {
		return
	}
	g.destroyed = true
	globals := g.display.globals
	for i, other := range globals {
		if other == g {
			g.display.globals = append(globals[:i:i], globals[i+1:]...)
			break
		}
	}
	g.display.logger.Debug("global destroyed", zap.String("interface", g.iface))
}
