package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fyrsmithlabs/foreignd/internal/foreign"
	"github.com/fyrsmithlabs/foreignd/internal/logging"
	"github.com/fyrsmithlabs/foreignd/internal/signal"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrDisabled is returned by Connect when the bridge is not enabled.
var ErrDisabled = errors.New("nats bridge disabled")

// Source is the subset of *foreign.Service a Publisher attaches to.
type Source interface {
	Subscribe(fn func(foreign.Event)) signal.Canceler
}

// Publisher forwards registry events to NATS subjects of the form
// <prefix>.<event type>.
//
// Events are queued from the registry goroutine without blocking it and
// published from Run. When the queue is full the event is dropped and
// counted.
type Publisher struct {
	config *Config
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logging.Logger

	queue     chan foreign.Event
	done      chan struct{}
	closeOnce sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Connect dials the configured server and returns a Publisher. When a
// stream is configured it is created if missing.
func Connect(cfg *Config, logger *logging.Logger, opts ...nats.Option) (*Publisher, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid nats config: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("events")
	ctx := context.Background()

	nc, err := dial(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		config: cfg,
		conn:   nc,
		logger: logger,
		queue:  make(chan foreign.Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	if cfg.Stream != "" {
		if err := p.ensureStream(); err != nil {
			nc.Close()
			return nil, err
		}
	}

	logger.Info(ctx, "connected to NATS",
		zap.String("url", nc.ConnectedUrlRedacted()),
		zap.String("subject_prefix", cfg.SubjectPrefix),
		zap.String("stream", cfg.Stream),
	)
	return p, nil
}

func (p *Publisher) ensureStream() error {
	js, err := p.conn.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}
	p.js = js

	if _, err := js.StreamInfo(p.config.Stream); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("looking up stream %s: %w", p.config.Stream, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     p.config.Stream,
		Subjects: []string{p.config.SubjectPrefix + ".>"},
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", p.config.Stream, err)
	}
	return nil
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(t foreign.EventType) string {
	return p.config.SubjectPrefix + "." + string(t)
}

// Attach subscribes the publisher to src. Cancel the result to detach.
func (p *Publisher) Attach(src Source) signal.Canceler {
	return src.Subscribe(p.Enqueue)
}

// Enqueue queues ev for publishing without blocking.
func (p *Publisher) Enqueue(ev foreign.Event) {
	select {
	case <-p.done:
		p.dropped.Add(1)
		return
	default:
	}
	select {
	case p.queue <- ev:
	default:
		if p.dropped.Add(1) == 1 {
			p.logger.Warn(context.Background(), "event queue full, dropping events",
				zap.Int("buffer_size", p.config.BufferSize))
		}
	}
}

// Run publishes queued events until ctx is done or Close is called. It
// then publishes whatever is still queued, flushes and closes the
// connection.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.conn.Close()
	for {
		select {
		case ev := <-p.queue:
			p.publish(ctx, ev)
		case <-ctx.Done():
			return p.drain()
		case <-p.done:
			return p.drain()
		}
	}
}

func (p *Publisher) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.FlushTimeout.Duration())
	defer cancel()
	for {
		select {
		case ev := <-p.queue:
			p.publish(ctx, ev)
		default:
			if err := p.conn.FlushWithContext(ctx); err != nil {
				return fmt.Errorf("flush events: %w", err)
			}
			return nil
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev foreign.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error(ctx, "marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}

	subject := p.Subject(ev.Type)
	if p.js != nil {
		_, err = p.js.Publish(subject, data, nats.Context(ctx))
	} else {
		err = p.conn.Publish(subject, data)
	}
	if err != nil {
		p.dropped.Add(1)
		p.logger.Warn(ctx, "publish event", zap.String("subject", subject), zap.Error(err))
		return
	}
	p.published.Add(1)
	p.logger.Trace(ctx, "event published", zap.String("subject", subject))
}

// Published returns the number of events handed to NATS.
func (p *Publisher) Published() uint64 {
	return p.published.Load()
}

// Dropped returns the number of events lost to a full queue, a closed
// publisher or a failed publish.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close stops Run. Events enqueued afterwards are counted as dropped.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// Conn returns the underlying connection.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

func dial(ctx context.Context, cfg *Config, logger *logging.Logger, opts ...nats.Option) (*nats.Conn, error) {
	natsOpts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait.Duration()),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(ctx, "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(ctx, "nats reconnected", zap.String("url", nc.ConnectedUrlRedacted()))
		}),
	}
	if cfg.Token.IsSet() {
		natsOpts = append(natsOpts, nats.Token(cfg.Token.Value()))
	}
	natsOpts = append(natsOpts, opts...)

	nc, err := nats.Connect(cfg.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}
