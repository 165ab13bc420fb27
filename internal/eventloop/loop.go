// ABOUTME: Single cooperative event loop
// ABOUTME: Runs posted tasks one at a time so playback state needs no locks
package eventloop

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
)

// ErrStopped is returned by Call when the loop is no longer running
var ErrStopped = errors.New("event loop stopped")

// DefaultQueueSize bounds pending tasks before Post blocks
const DefaultQueueSize = 256

// Loop executes posted functions sequentially on the goroutine running Run.
// State owned by the loop must only be touched from posted functions.
type Loop struct {
	tasks chan func()
	done  chan struct{}
}

// New creates a loop with the given queue size
func New(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		tasks: make(chan func(), queueSize),
		done:  make(chan struct{}),
	}
}

// Run executes tasks until ctx is cancelled
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post enqueues fn. Tasks posted after the loop exits are dropped.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
		log.Debug("Dropping task posted after loop exit")
	}
}

// Call runs fn on the loop and waits for its result
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	task := func() { result <- fn() }

	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-l.done:
		// The task may have run just before exit
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run returns
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
