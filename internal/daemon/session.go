package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/foreignd/internal/display"
	"github.com/fyrsmithlabs/foreignd/internal/foreign"
	"github.com/fyrsmithlabs/foreignd/internal/logging"
	"github.com/fyrsmithlabs/foreignd/internal/scenario"
	"github.com/fyrsmithlabs/foreignd/internal/shell"
	"github.com/fyrsmithlabs/foreignd/internal/signal"
	"go.uber.org/zap"
)

// ErrSessionClosed is returned for work submitted after Close.
var ErrSessionClosed = errors.New("session closed")

// Session is one in-memory display with its window tree and registry.
// Everything it owns lives on the session's loop goroutine; other
// goroutines reach it through Do.
type Session struct {
	loop    *display.Loop
	display *display.Display
	tree    *shell.Tree
	service *foreign.Service
	logger  *logging.Logger
}

// NewSession builds the display, tree and registry. Call Run to start
// serving requests.
func NewSession(cfg *foreign.Config, queueSize int, logger *logging.Logger, opts ...foreign.Option) (*Session, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	zl := logger.Named("display").Underlying()

	d := display.New(display.WithLogger(zl))
	opts = append([]foreign.Option{
		foreign.WithLogger(foreign.NewLogger(logger.Underlying())),
	}, opts...)
	svc, err := foreign.New(d, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating registry: %w", err)
	}

	return &Session{
		loop:    display.NewLoop(queueSize),
		display: d,
		tree:    shell.NewTree("xdg", shell.WithLogger(logger.Named("shell").Underlying())),
		service: svc,
		logger:  logger,
	}, nil
}

// Subscribe registers fn for registry events. It must be called before
// Run; fn runs on the loop goroutine.
func (s *Session) Subscribe(fn func(foreign.Event)) signal.Canceler {
	return s.service.Subscribe(fn)
}

// Run runs the loop until ctx is done or Close is called.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info(ctx, "session started")
	err := s.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Do runs fn on the loop goroutine and waits for it.
func (s *Session) Do(ctx context.Context, fn func(env scenario.Env)) error {
	err := s.loop.Do(ctx, func() {
		fn(s.env())
	})
	if errors.Is(err, display.ErrLoopClosed) {
		return ErrSessionClosed
	}
	return err
}

func (s *Session) env() scenario.Env {
	return scenario.Env{Display: s.display, Tree: s.tree, Service: s.service}
}

// Snapshot returns the registry counters. It satisfies http.StateSource.
func (s *Session) Snapshot(ctx context.Context) (foreign.Snapshot, error) {
	var snap foreign.Snapshot
	err := s.Do(ctx, func(env scenario.Env) {
		snap = env.Service.Snapshot()
	})
	return snap, err
}

// Apply replays sc into the running session.
func (s *Session) Apply(ctx context.Context, runner *scenario.Runner, sc *scenario.Scenario) (*scenario.Result, error) {
	var (
		res    *scenario.Result
		runErr error
	)
	if err := s.Do(ctx, func(env scenario.Env) {
		res, runErr = runner.Apply(ctx, env, sc)
	}); err != nil {
		return nil, err
	}
	return res, runErr
}

// Close destroys the display, which cascades through the registry, and
// stops the loop. If the loop has already exited the display is destroyed
// on the calling goroutine. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	err := s.Do(ctx, func(env scenario.Env) {
		env.Display.Destroy()
	})
	s.loop.Close()
	if errors.Is(err, ErrSessionClosed) {
		select {
		case <-s.loop.Stopped():
			// Nothing runs on the loop any more.
			s.display.Destroy()
		default:
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	s.logger.Info(ctx, "session closed")
	return nil
}
