package display

import (
	"context"
	"errors"
	"sync"
)

// ErrLoopClosed is returned when work is submitted to a closed Loop.
var ErrLoopClosed = errors.New("event loop closed")

// Loop runs submitted functions one at a time on a single goroutine. All
// display and registry state is owned by that goroutine.
type Loop struct {
	queue     chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewLoop creates a loop with a queue of the given size.
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = 128
	}
	return &Loop{
		queue:   make(chan func(), size),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled or Close is called. It is
// usually run in a goroutine and must be called at most once. The loop is
// closed when Run returns, so later submissions fail with ErrLoopClosed
// instead of queueing work nobody will run.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	defer l.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.queue:
			fn()
		}
	}
}

// Post queues fn without waiting for it to run.
func (l *Loop) Post(ctx context.Context, fn func()) error {
	select {
	case <-l.done:
		return ErrLoopClosed
	default:
	}
	select {
	case l.queue <- fn:
		return nil
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do queues fn and waits until it has run. It must not be called from the
// loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if err := l.Post(ctx, func() {
		defer close(ran)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stopped is closed once Run has returned.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}

// Close stops the loop. Queued work that has not started is dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}
