package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/fyrsmithlabs/foreignd/internal/display"
	"github.com/fyrsmithlabs/foreignd/internal/foreign"
	"github.com/fyrsmithlabs/foreignd/internal/handle"
	"github.com/fyrsmithlabs/foreignd/internal/logging"
	"github.com/fyrsmithlabs/foreignd/internal/protocol"
	"github.com/fyrsmithlabs/foreignd/internal/shell"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const redactedHandle = "[REDACTED]"

// Line is one protocol event as printed by the runner.
type Line struct {
	Step      int               `json:"step"`
	Client    string            `json:"client"`
	Object    protocol.ObjectID `json:"object"`
	Interface string            `json:"interface"`
	Event     string            `json:"event"`
	Args      []any             `json:"args,omitempty"`
}

// Failure is an expectation that did not hold.
type Failure struct {
	Step    int    `json:"step"`
	Message string `json:"message"`
}

func (f Failure) String() string {
	return fmt.Sprintf("step %d: %s", f.Step, f.Message)
}

// Result summarizes a run.
type Result struct {
	Name     string           `json:"name"`
	Steps    int              `json:"steps"`
	Events   int              `json:"events"`
	Failures []Failure        `json:"failures,omitempty"`
	Final    foreign.Snapshot `json:"final"`
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

// Runner executes scenarios. Each Run gets a fresh display, window tree
// and registry.
type Runner struct {
	out         io.Writer
	logger      *logging.Logger
	tracer      trace.Tracer
	metrics     *foreign.Metrics
	showHandles bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithOutput sets where event lines are written. Nil discards them.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// WithLogger sets the logger shared by the display, tree and registry.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer traces registry requests.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// WithMetrics records registry metrics.
func WithMetrics(m *foreign.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithShowHandles prints handle tokens instead of redacting them.
func WithShowHandles(show bool) Option {
	return func(r *Runner) { r.showHandles = show }
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		out:    io.Discard,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.out == nil {
		r.out = io.Discard
	}
	return r
}

// objectRef names a protocol object by owner and id. The object itself is
// looked up at use, so requests on destroyed objects are caught.
type objectRef struct {
	client *display.Client
	id     protocol.ObjectID
}

type run struct {
	runner  *Runner
	display *display.Display
	tree    *shell.Tree
	svc     *foreign.Service
	enc     *json.Encoder

	clients map[string]*display.Client
	objects map[string]objectRef
	windows map[string]shell.Window

	step     int
	result   *Result
	writeErr error
}

// Env is the host a scenario runs against.
type Env struct {
	Display *display.Display
	Tree    *shell.Tree
	Service *foreign.Service
}

// Run executes sc against a fresh display, window tree and registry, and
// tears them down afterwards. Expectation failures are collected in the
// result; a step that cannot be executed at all stops the run with an
// error.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	zl := r.logger.Named("scenario").Underlying()

	d := display.New(display.WithLogger(zl))
	defer d.Destroy()

	cfg := foreign.NewDefaultConfig()
	if sc.MaxHandleAttempts > 0 {
		cfg.MaxHandleAttempts = sc.MaxHandleAttempts
	}
	opts := []foreign.Option{foreign.WithLogger(foreign.NewLogger(r.logger.Underlying()))}
	if len(sc.Handles) > 0 {
		opts = append(opts, foreign.WithAllocator(handle.Sequence(sc.Handles...)))
	}
	if r.tracer != nil {
		opts = append(opts, foreign.WithTracer(r.tracer))
	}
	if r.metrics != nil {
		opts = append(opts, foreign.WithMetrics(r.metrics))
	}
	svc, err := foreign.New(d, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("starting registry: %w", err)
	}

	return r.Apply(ctx, Env{
		Display: d,
		Tree:    shell.NewTree("scenario", shell.WithLogger(zl)),
		Service: svc,
	}, sc)
}

// Apply executes sc against an existing host and leaves it running. The
// scenario's handles and max_handle_attempts are ignored; the host's
// registry was configured when it was created. Apply must run on the
// goroutine that owns env.
func (r *Runner) Apply(ctx context.Context, env Env, sc *Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	st := &run{
		runner:  r,
		display: env.Display,
		tree:    env.Tree,
		svc:     env.Service,
		enc:     json.NewEncoder(r.out),
		clients: make(map[string]*display.Client),
		objects: make(map[string]objectRef),
		windows: make(map[string]shell.Window),
		result:  &Result{Name: sc.Name},
	}
	sub := env.Display.OnEvent(st.print)
	defer sub.Cancel()

	for i, step := range sc.Steps {
		st.step = i + 1
		if err := st.exec(ctx, step); err != nil {
			return st.result, fmt.Errorf("step %d (%s): %w", st.step, step.Action, err)
		}
		st.result.Steps++
		if st.writeErr != nil {
			return st.result, fmt.Errorf("writing events: %w", st.writeErr)
		}
	}
	st.result.Final = env.Service.Snapshot()

	r.logger.Debug(ctx, "scenario finished",
		zap.String("name", sc.Name),
		zap.Int("steps", st.result.Steps),
		zap.Int("events", st.result.Events),
		zap.Int("failures", len(st.result.Failures)),
	)
	return st.result, nil
}

func (s *run) print(ev display.Event) {
	s.result.Events++
	if s.writeErr != nil {
		return
	}
	args := ev.Args
	if ev.Name == protocol.EventHandle && !s.runner.showHandles {
		args = []any{redactedHandle}
	}
	s.writeErr = s.enc.Encode(Line{
		Step:      s.step,
		Client:    ev.Client,
		Object:    ev.Object,
		Interface: ev.Interface,
		Event:     ev.Name,
		Args:      args,
	})
}

func (s *run) fail(format string, args ...any) {
	s.result.Failures = append(s.result.Failures, Failure{
		Step:    s.step,
		Message: fmt.Sprintf(format, args...),
	})
}

func (s *run) exec(ctx context.Context, st Step) error {
	switch st.Action {
	case ActionConnect:
		c, err := s.display.Connect(st.Client)
		if err != nil {
			return err
		}
		s.clients[st.Client] = c
	case ActionDisconnect:
		c, err := s.client(st.Client)
		if err != nil {
			return err
		}
		c.Disconnect()
	case ActionWindow:
		return s.newWindow(st)
	case ActionMap, ActionUnmap, ActionReparent:
		return s.changeTree(st)
	case ActionBind:
		return s.bind(st)
	case ActionExport:
		return s.export(ctx, st)
	case ActionImport:
		return s.importHandle(ctx, st)
	case ActionSetParentOf:
		return s.setParentOf(ctx, st)
	case ActionDestroy:
		return s.destroy(st)
	case ActionShutdown:
		s.display.Destroy()
	case ActionExpect:
		s.expect(st)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidStep, st.Action)
	}
	return nil
}

func (s *run) client(name string) (*display.Client, error) {
	c, ok := s.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown client %q", ErrInvalidStep, name)
	}
	return c, nil
}

func (s *run) window(name string) (shell.Window, error) {
	w, ok := s.windows[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown window %q", ErrInvalidStep, name)
	}
	return w, nil
}

func (s *run) surface(name string) (*shell.Surface, error) {
	w, err := s.window(name)
	if err != nil {
		return nil, err
	}
	sf, ok := w.(*shell.Surface)
	if !ok {
		return nil, fmt.Errorf("%w: window %q is opaque", ErrInvalidStep, name)
	}
	return sf, nil
}

// register records name for an object created by a request. Names are
// optional; unnamed objects cannot be referenced later.
func (s *run) register(name string, c *display.Client, id protocol.ObjectID) error {
	if name == "" {
		return nil
	}
	if _, dup := s.objects[name]; dup {
		return fmt.Errorf("%w: object name %q reused", ErrInvalidStep, name)
	}
	s.objects[name] = objectRef{client: c, id: id}
	return nil
}

// lookup returns the live implementation of a named object.
func lookup[T any](s *run, name string) (T, objectRef, error) {
	var zero T
	ref, ok := s.objects[name]
	if !ok {
		return zero, ref, fmt.Errorf("%w: unknown object %q", ErrInvalidStep, name)
	}
	res, ok := ref.client.Resource(ref.id)
	if !ok {
		return zero, ref, fmt.Errorf("%w: object %q no longer exists", ErrInvalidStep, name)
	}
	impl, ok := res.Implementation().(T)
	if !ok {
		return zero, ref, fmt.Errorf("%w: object %q is a %s", ErrInvalidStep, name, res.Interface())
	}
	return impl, ref, nil
}

func (s *run) newWindow(st Step) error {
	if _, dup := s.windows[st.Name]; dup {
		return fmt.Errorf("%w: window %q already exists", ErrInvalidStep, st.Name)
	}
	role, err := shell.ParseRole(st.Role)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStep, err)
	}
	if st.Opaque {
		s.windows[st.Name] = shell.NewDetached(st.Name, role)
		return nil
	}
	w, err := s.tree.NewWindow(st.Name, role)
	if err != nil {
		return err
	}
	s.windows[st.Name] = w
	return nil
}

func (s *run) changeTree(st Step) error {
	w, err := s.surface(st.Window)
	if err != nil {
		return err
	}
	switch st.Action {
	case ActionMap:
		s.tree.Map(w)
	case ActionUnmap:
		s.tree.Unmap(w)
	case ActionReparent:
		if st.Parent == nil || *st.Parent == "" {
			s.tree.SetParent(w, nil)
			return nil
		}
		p, err := s.surface(*st.Parent)
		if err != nil {
			return err
		}
		s.tree.SetParent(w, p)
	}
	return nil
}

func interfaceName(name string) string {
	switch name {
	case "exporter":
		return protocol.ExporterInterface
	case "importer":
		return protocol.ImporterInterface
	default:
		return name
	}
}

func (s *run) bind(st Step) error {
	c, err := s.client(st.Client)
	if err != nil {
		return err
	}
	version := st.Version
	if version == 0 {
		version = protocol.ForeignVersion
	}
	var id protocol.ObjectID
	s.display.Dispatch(func() {
		id, err = c.Bind(interfaceName(st.Interface), version)
	})
	if err != nil {
		return err
	}
	return s.register(st.Name, c, id)
}

func (s *run) export(ctx context.Context, st Step) error {
	e, ref, err := lookup[*foreign.Exporter](s, st.On)
	if err != nil {
		return err
	}
	w, err := s.window(st.Window)
	if err != nil {
		return err
	}
	id := ref.client.NextID()
	s.display.Dispatch(func() {
		_, err = e.Export(ctx, id, w)
	})
	s.requestFailed(ctx, st, err)
	return s.register(st.Name, ref.client, id)
}

func (s *run) importHandle(ctx context.Context, st Step) error {
	i, ref, err := lookup[*foreign.Importer](s, st.On)
	if err != nil {
		return err
	}
	tok := st.Handle
	if st.From != "" {
		x, _, err := lookup[*foreign.Exported](s, st.From)
		if err != nil {
			return err
		}
		tok = x.Handle()
	}
	id := ref.client.NextID()
	s.display.Dispatch(func() {
		_, err = i.Import(ctx, id, tok)
	})
	s.requestFailed(ctx, st, err)
	return s.register(st.Name, ref.client, id)
}

func (s *run) setParentOf(ctx context.Context, st Step) error {
	im, _, err := lookup[*foreign.Imported](s, st.On)
	if err != nil {
		return err
	}
	w, err := s.window(st.Window)
	if err != nil {
		return err
	}
	s.display.Dispatch(func() {
		err = im.SetParentOf(ctx, w)
	})
	s.requestFailed(ctx, st, err)
	return nil
}

func (s *run) destroy(st Step) error {
	ref, ok := s.objects[st.On]
	if !ok {
		return fmt.Errorf("%w: unknown object %q", ErrInvalidStep, st.On)
	}
	res, ok := ref.client.Resource(ref.id)
	if !ok {
		return fmt.Errorf("%w: object %q no longer exists", ErrInvalidStep, st.On)
	}
	s.display.Dispatch(func() {
		switch impl := res.Implementation().(type) {
		case *foreign.Exporter:
			impl.Destroy()
		case *foreign.Importer:
			impl.Destroy()
		case *foreign.Exported:
			impl.Destroy()
		case *foreign.Imported:
			impl.Destroy()
		default:
			res.Destroy()
		}
	})
	return nil
}

// requestFailed logs a request the registry refused. Refusals are part of
// what scenarios exercise, so they are checked with expect steps rather
// than stopping the run.
func (s *run) requestFailed(ctx context.Context, st Step, err error) {
	if err == nil {
		return
	}
	s.runner.logger.Debug(ctx, "request refused",
		zap.Int("step", s.step),
		zap.String("action", st.Action),
		zap.Error(err),
	)
}

func (s *run) expect(st Step) {
	if st.Event != "" || st.Connected != nil || st.Error != "" {
		c, err := s.client(st.Client)
		if err != nil {
			s.fail("%v", err)
			return
		}
		s.expectClient(c, st)
	}
	if st.Linked != nil || st.Children != nil {
		im, _, err := lookup[*foreign.Imported](s, st.On)
		if err != nil {
			s.fail("%v", err)
			return
		}
		if st.Linked != nil && im.Linked() != *st.Linked {
			s.fail("%s linked = %t, want %t", st.On, im.Linked(), *st.Linked)
		}
		if st.Children != nil && len(im.Children()) != *st.Children {
			s.fail("%s has %d children, want %d", st.On, len(im.Children()), *st.Children)
		}
	}
	if st.Parent != nil {
		s.expectParent(st.Window, *st.Parent)
	}
	if st.Exported != nil || st.Imported != nil {
		snap := s.svc.Snapshot()
		if st.Exported != nil && snap.Exported != *st.Exported {
			s.fail("%d live exports, want %d", snap.Exported, *st.Exported)
		}
		if st.Imported != nil && snap.Imported != *st.Imported {
			s.fail("%d live imports, want %d", snap.Imported, *st.Imported)
		}
	}
}

func (s *run) expectClient(c *display.Client, st Step) {
	if st.Event != "" {
		var object *protocol.ObjectID
		if st.On != "" {
			ref, ok := s.objects[st.On]
			if !ok || ref.client != c {
				s.fail("client %s owns no object %q", c.ID(), st.On)
				return
			}
			object = &ref.id
		}
		n := 0
		for _, ev := range c.EventsNamed(st.Event) {
			if object == nil || ev.Object == *object {
				n++
			}
		}
		switch {
		case st.Count == nil && n == 0:
			s.fail("client %s received no %s event%s", c.ID(), st.Event, onSuffix(st.On))
		case st.Count != nil && n != *st.Count:
			s.fail("client %s received %d %s events%s, want %d", c.ID(), n, st.Event, onSuffix(st.On), *st.Count)
		}
	}
	if st.Connected != nil && c.Connected() != *st.Connected {
		s.fail("client %s connected = %t, want %t", c.ID(), c.Connected(), *st.Connected)
	}
	if st.Error != "" {
		s.expectError(c, st.Error)
	}
}

func onSuffix(name string) string {
	if name == "" {
		return ""
	}
	return " on " + name
}

// errorCodes maps the names scenarios use to protocol error codes.
var errorCodes = map[string]protocol.ErrorCode{
	"invalid_object": protocol.ErrorInvalidObject,
	"invalid_method": protocol.ErrorInvalidMethod,
	"no_memory":      protocol.ErrorNoMemory,
	"implementation": protocol.ErrorImplementation,
	"role":           protocol.ErrorRole,
}

func (s *run) expectError(c *display.Client, want string) {
	posted := c.Error()
	if want == "none" {
		if posted != nil {
			s.fail("client %s was sent error %q", c.ID(), posted.Message)
		}
		return
	}
	code, ok := errorCodes[want]
	if !ok {
		n, err := strconv.ParseUint(want, 10, 32)
		if err != nil {
			s.fail("unknown error code %q", want)
			return
		}
		code = protocol.ErrorCode(n)
	}
	switch {
	case posted == nil:
		s.fail("client %s was sent no error, want %s", c.ID(), want)
	case posted.Code != code:
		s.fail("client %s was sent error code %d (%s), want %s", c.ID(), posted.Code, posted.Message, want)
	}
}

func (s *run) expectParent(window, want string) {
	w, err := s.surface(window)
	if err != nil {
		s.fail("%v", err)
		return
	}
	got := ""
	if p := w.Parent(); p != nil {
		got = p.ID()
	}
	if got != want {
		s.fail("window %s parent = %q, want %q", window, got, want)
	}
}
