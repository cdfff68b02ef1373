package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/fyrsmithlabs/foreignd/internal/config"
	"github.com/fyrsmithlabs/foreignd/internal/events"
	"github.com/fyrsmithlabs/foreignd/internal/foreign"
	"github.com/fyrsmithlabs/foreignd/internal/http"
	"github.com/fyrsmithlabs/foreignd/internal/logging"
	"github.com/fyrsmithlabs/foreignd/internal/scenario"
	"github.com/fyrsmithlabs/foreignd/internal/telemetry"
	"go.uber.org/zap"
)

// Daemon wires the session to telemetry, logging, the admin HTTP server
// and the NATS bridge.
type Daemon struct {
	config    *Config
	loader    *config.Loader
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	session   *Session
	server    *http.Server
	publisher *events.Publisher

	listener  net.Listener
	scenarios []*scenario.Scenario
	replayOut io.Writer
	telOpts   []telemetry.Option
	logOpts   []logging.Option
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLoader enables hot reload of the log level from the loader's file.
func WithLoader(l *config.Loader) Option {
	return func(d *Daemon) { d.loader = l }
}

// WithListener serves the admin API on ln instead of the configured
// address.
func WithListener(ln net.Listener) Option {
	return func(d *Daemon) { d.listener = ln }
}

// WithScenarios replays scenarios into the session once it is running.
func WithScenarios(scs ...*scenario.Scenario) Option {
	return func(d *Daemon) { d.scenarios = append(d.scenarios, scs...) }
}

// WithReplayOutput sets where replayed scenario events are written.
func WithReplayOutput(w io.Writer) Option {
	return func(d *Daemon) { d.replayOut = w }
}

// WithTelemetryOptions passes options through to telemetry.New.
func WithTelemetryOptions(opts ...telemetry.Option) Option {
	return func(d *Daemon) { d.telOpts = append(d.telOpts, opts...) }
}

// WithLogOptions passes options through to logging.NewLogger.
func WithLogOptions(opts ...logging.Option) Option {
	return func(d *Daemon) { d.logOpts = append(d.logOpts, opts...) }
}

// New builds every component but starts nothing. On error, whatever was
// already created is released.
func New(ctx context.Context, cfg *Config, opts ...Option) (_ *Daemon, err error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	d := &Daemon{config: cfg, replayOut: os.Stdout}
	for _, opt := range opts {
		opt(d)
	}

	d.telemetry, err = telemetry.New(ctx, &cfg.Telemetry, d.telOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err != nil {
			_ = d.telemetry.Shutdown(context.Background())
		}
	}()

	d.logger, err = logging.NewLogger(&cfg.Logging, d.telemetry.LoggerProvider(), d.logOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	metrics, err := foreign.NewMetrics(d.telemetry.Meter(foreign.InstrumentationName))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	d.session, err = NewSession(&cfg.Foreign, cfg.Loop.QueueSize, d.logger,
		foreign.WithMetrics(metrics),
		foreign.WithTracer(d.telemetry.Tracer(foreign.InstrumentationName)),
	)
	if err != nil {
		return nil, err
	}

	if cfg.NATS.Enabled {
		d.publisher, err = events.Connect(&cfg.NATS, d.logger)
		if err != nil {
			return nil, err
		}
		d.publisher.Attach(d.session)
	}

	if cfg.HTTP.Enabled {
		d.server, err = http.NewServer(d.session, d.logger, &cfg.HTTP,
			http.WithTelemetryHealth(d.telemetry.Health),
			http.WithMeter(d.telemetry.Meter("github.com/fyrsmithlabs/foreignd/internal/http")),
		)
		if err != nil {
			if d.publisher != nil {
				d.publisher.Close()
				d.publisher.Conn().Close()
			}
			return nil, fmt.Errorf("failed to create http server: %w", err)
		}
	}
	return d, nil
}

// Logger returns the daemon logger.
func (d *Daemon) Logger() *logging.Logger { return d.logger }

// Session returns the daemon's session.
func (d *Daemon) Session() *Session { return d.session }

// Run starts every component and blocks until ctx is done or a component
// fails, then shuts everything down.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info(ctx, "starting foreignd",
		zap.Bool("http", d.server != nil),
		zap.Bool("nats", d.publisher != nil),
		zap.Bool("telemetry", d.telemetry.IsEnabled()),
	)

	// The loop outlives ctx so shutdown can still run on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	sessionDone := make(chan error, 1)
	go func() { sessionDone <- d.session.Run(loopCtx) }()

	var publisherDone chan error
	if d.publisher != nil {
		publisherDone = make(chan error, 1)
		go func() { publisherDone <- d.publisher.Run(loopCtx) }()
	}

	fatal := make(chan error, 2)
	if d.server != nil {
		go func() {
			var err error
			if d.listener != nil {
				err = d.server.Serve(d.listener)
			} else {
				err = d.server.Start()
			}
			if err != nil {
				fatal <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	d.watchConfig(watchCtx)

	d.replay(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info(context.Background(), "shutdown requested")
	case runErr = <-fatal:
		d.logger.Error(context.Background(), "component failed", zap.Error(runErr))
	case err := <-sessionDone:
		runErr = fmt.Errorf("session stopped: %w", err)
		sessionDone <- nil
	}
	stopWatch()

	return errors.Join(runErr, d.shutdown(sessionDone, publisherDone))
}

func (d *Daemon) replay(ctx context.Context) {
	if len(d.scenarios) == 0 {
		return
	}
	runner := scenario.NewRunner(
		scenario.WithOutput(d.replayOut),
		scenario.WithLogger(d.logger),
	)
	for _, sc := range d.scenarios {
		res, err := d.session.Apply(ctx, runner, sc)
		if err != nil {
			d.logger.Error(ctx, "scenario failed", zap.String("name", sc.Name), zap.Error(err))
			continue
		}
		fields := []zap.Field{
			zap.String("name", sc.Name),
			zap.Int("steps", res.Steps),
			zap.Int("events", res.Events),
		}
		if !res.Passed() {
			d.logger.Warn(ctx, "scenario expectations failed", append(fields, zap.Int("failures", len(res.Failures)))...)
			continue
		}
		d.logger.Info(ctx, "scenario applied", fields...)
	}
}

// shutdown stops the HTTP server, destroys the session, drains the NATS
// bridge and flushes telemetry, in that order.
func (d *Daemon) shutdown(sessionDone, publisherDone chan error) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.Telemetry.Shutdown.Timeout.Duration())
	defer cancel()

	var errs []error
	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := d.session.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := <-sessionDone; err != nil {
		errs = append(errs, err)
	}
	if d.publisher != nil {
		d.publisher.Close()
		if err := <-publisherDone; err != nil {
			errs = append(errs, fmt.Errorf("nats bridge: %w", err))
		}
		if dropped := d.publisher.Dropped(); dropped > 0 {
			d.logger.Warn(ctx, "events dropped", zap.Uint64("count", dropped))
		}
	}

	d.logger.Info(ctx, "foreignd stopped")
	if err := d.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	_ = d.logger.Sync()
	return errors.Join(errs...)
}

// watchConfig reloads the log level whenever the config file changes.
// Other settings need a restart.
func (d *Daemon) watchConfig(ctx context.Context) {
	if d.loader == nil {
		return
	}
	w, err := config.NewWatcher(d.loader.Path(), d.config.Loop.ReloadDebounce.Duration())
	if err != nil {
		d.logger.Debug(ctx, "config watch disabled", zap.Error(err))
		return
	}
	go func() {
		if err := w.Run(ctx, func() { d.reload(ctx) }); err != nil {
			d.logger.Warn(ctx, "config watcher stopped", zap.Error(err))
		}
	}()
}

func (d *Daemon) reload(ctx context.Context) {
	cfg := NewDefaultConfig()
	if err := d.loader.Load(cfg); err != nil {
		d.logger.Warn(ctx, "config reload failed", zap.Error(err))
		return
	}
	if err := cfg.Logging.Validate(); err != nil {
		d.logger.Warn(ctx, "config reload rejected", zap.Error(err))
		return
	}
	old := d.logger.Level()
	d.logger.SetLevel(cfg.Logging.Level.Zap())
	d.logger.Info(ctx, "configuration reloaded",
		zap.Stringer("old_level", old),
		zap.Stringer("level", cfg.Logging.Level.Zap()),
	)
}
