package foreign

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/foreignd/internal/handle"
	"github.com/fyrsmithlabs/foreignd/internal/protocol"
	"github.com/fyrsmithlabs/foreignd/internal/signal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Service owns every exporter and importer bound on one host. Handles are
// unique across the whole service.
//
// A Service is not safe for concurrent use. All requests, window model
// notifications and host callbacks must arrive on the goroutine that owns
// the host's event loop.
type Service struct {
	host      protocol.Host
	allocator handle.Allocator
	config    *Config
	logger    *Logger
	metrics   *Metrics
	tracer    trace.Tracer
	state     State

	exporterGlobal protocol.Global
	importerGlobal protocol.Global
	hostDestroy    signal.Canceler

	exporters []*Exporter
	importers []*Importer
	index     map[string]*Exported

	events    emitter
	destroyed signal.Signal[*Service]
}

// Option configures a Service.
type Option func(*Service)

// WithAllocator sets the handle allocator. Defaults to random UUIDs.
func WithAllocator(a handle.Allocator) Option {
	return func(s *Service) {
		if a != nil {
			s.allocator = a
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithMetrics sets custom metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer sets the tracer used for request spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.events.now = now
		}
	}
}

// New registers the exporter and importer globals on host and returns an
// active Service. If the second global cannot be registered the first is
// withdrawn. The service destroys itself when host shuts down.
func New(host protocol.Host, cfg *Config, opts ...Option) (*Service, error) {
	if host == nil {
		return nil, ErrNilHost
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	metrics, _ := NewMetrics(nil)
	s := &Service{
		host:      host,
		allocator: handle.NewUUID(),
		config:    cfg,
		logger:    NewLogger(nil),
		metrics:   metrics,
		tracer:    Tracer(),
		state:     StateUninitialized,
		index:     make(map[string]*Exported),
		events:    emitter{now: time.Now},
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.exporterGlobal, err = host.CreateGlobal(protocol.ExporterInterface, cfg.ExporterVersion, s.bindExporter)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRegistrationFailed, protocol.ExporterInterface, err)
	}
	s.importerGlobal, err = host.CreateGlobal(protocol.ImporterInterface, cfg.ImporterVersion, s.bindImporter)
	if err != nil {
		s.exporterGlobal.Destroy()
		s.exporterGlobal = nil
		return nil, fmt.Errorf("%w: %s: %w", ErrRegistrationFailed, protocol.ImporterInterface, err)
	}
	s.hostDestroy = host.OnDestroy(s.Destroy)
	s.transition(StateActive)
	return s, nil
}

// State returns the lifecycle state.
func (s *Service) State() State { return s.state }

// Subscribe registers fn for every lifecycle event. Handlers run
// synchronously on the loop and must not call back into the service.
func (s *Service) Subscribe(fn func(Event)) signal.Canceler {
	return s.events.sig.Subscribe(fn)
}

// OnDestroy registers fn to run once the service has torn down its
// objects, before its globals are withdrawn.
func (s *Service) OnDestroy(fn func(*Service)) signal.Canceler {
	return s.destroyed.Subscribe(fn)
}

// Destroy tears the service down: importer endpoints first, then exporter
// endpoints, then the service-wide notification, then the globals. It is
// idempotent.
func (s *Service) Destroy() {
	if s.state != StateActive {
		return
	}
	s.transition(StateDestroyed)
	ctx := context.Background()
	exporters, importers := len(s.exporters), len(s.importers)

	for _, i := range s.Importers() {
		i.reason = ReasonService
		i.resource.Destroy()
	}
	for _, e := range s.Exporters() {
		e.reason = ReasonService
		e.resource.Destroy()
	}

	s.logger.ServiceDestroyed(ctx, exporters, importers)
	s.events.emit(Event{Type: EventServiceDestroyed})
	s.destroyed.Emit(s)
	s.destroyed.Reset()

	signal.CancelAll(s.hostDestroy)
	s.hostDestroy = nil
	if s.exporterGlobal != nil {
		s.exporterGlobal.Destroy()
	}
	if s.importerGlobal != nil {
		s.importerGlobal.Destroy()
	}
}

// Exporters returns the bound exporters in bind order.
func (s *Service) Exporters() []*Exporter {
	out := make([]*Exporter, len(s.exporters))
	copy(out, s.exporters)
	return out
}

// Importers returns the bound importers in bind order.
func (s *Service) Importers() []*Importer {
	out := make([]*Importer, len(s.importers))
	copy(out, s.importers)
	return out
}

// Lookup resolves a handle to a live export.
func (s *Service) Lookup(h string) (*Exported, bool) {
	if h == "" {
		return nil, false
	}
	x, ok := s.index[h]
	return x, ok
}

// Snapshot summarizes the registry.
func (s *Service) Snapshot() Snapshot {
	snap := Snapshot{
		State:     s.state,
		Exporters: len(s.exporters),
		Importers: len(s.importers),
		Exports:   []ExportedInfo{},
	}
	for _, e := range s.exporters {
		for _, x := range e.exports {
			snap.Exported++
			snap.Exports = append(snap.Exports, ExportedInfo{
				ID:      x.id,
				Client:  e.ClientID(),
				Window:  x.window.ID(),
				Imports: len(x.imports),
			})
		}
	}
	for _, i := range s.importers {
		for _, im := range i.imports {
			snap.Imported++
			if im.exported != nil {
				snap.Linked++
			}
			snap.Children += len(im.children)
		}
	}
	return snap
}

func (s *Service) transition(to State) {
	if !s.state.CanTransitionTo(to) {
		s.logger.Error(context.Background(), "invalid state transition", ErrServiceDestroyed,
			zap.String("from", string(s.state)), zap.String("to", string(to)))
		return
	}
	s.state = to
}

func (s *Service) bindExporter(client protocol.Client, version uint32, id protocol.ObjectID) {
	if s.state != StateActive {
		return
	}
	ctx := context.Background()
	res, err := client.NewResource(protocol.ExporterInterface, version, id)
	if err != nil {
		s.logger.Error(ctx, "exporter bind failed", err, zap.String("client_id", client.ID()))
		client.PostNoMemory()
		return
	}
	e := &Exporter{service: s, resource: res, reason: ReasonClient}
	res.SetImplementation(e, e.teardown)
	s.exporters = append(s.exporters, e)

	s.logger.EndpointBound(ctx, protocol.ExporterInterface, client.ID(), version)
	s.events.emit(Event{Type: EventExporterBound, Client: client.ID()})
}

func (s *Service) bindImporter(client protocol.Client, version uint32, id protocol.ObjectID) {
	if s.state != StateActive {
		return
	}
	ctx := context.Background()
	res, err := client.NewResource(protocol.ImporterInterface, version, id)
	if err != nil {
		s.logger.Error(ctx, "importer bind failed", err, zap.String("client_id", client.ID()))
		client.PostNoMemory()
		return
	}
	i := &Importer{service: s, resource: res, reason: ReasonClient}
	res.SetImplementation(i, i.teardown)
	s.importers = append(s.importers, i)

	s.logger.EndpointBound(ctx, protocol.ImporterInterface, client.ID(), version)
	s.events.emit(Event{Type: EventImporterBound, Client: client.ID()})
}

// generateHandle draws tokens until one is unused by any live export.
func (s *Service) generateHandle(ctx context.Context, clientID string) (string, int, error) {
	for attempt := 1; attempt <= s.config.MaxHandleAttempts; attempt++ {
		tok, err := s.allocator.Generate()
		if err != nil {
			return "", attempt, err
		}
		if _, taken := s.Lookup(tok); !taken && tok != "" {
			return tok, attempt, nil
		}
		s.logger.HandleCollision(ctx, clientID, attempt)
	}
	return "", s.config.MaxHandleAttempts, fmt.Errorf("no unused handle after %d attempts", s.config.MaxHandleAttempts)
}

func (s *Service) removeExporter(e *Exporter) {
	for i, other := range s.exporters {
		if other == e {
			s.exporters = append(s.exporters[:i:i], s.exporters[i+1:]...)
			return
		}
	}
}

func (s *Service) removeImporter(imp *Importer) {
	for i, other := range s.importers {
		if other == imp {
			s.importers = append(s.importers[:i:i], s.importers[i+1:]...)
			return
		}
	}
}
