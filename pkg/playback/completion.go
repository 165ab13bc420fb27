// ABOUTME: Single-resolution completion future
// ABOUTME: Settles at most once; callbacks registered with Then run at settlement
package playback

import (
	"context"
	"sync"
)

// Completion is a future that settles at most once, either resolved (nil
// error) or rejected. An abandoned Completion never settles.
type Completion struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	err     error
	then    []func(error)
}

// NewCompletion creates an unsettled completion
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Done is closed when the completion settles
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the rejection error, nil if resolved or unsettled
func (c *Completion) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Settled reports whether the completion has settled
func (c *Completion) Settled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settled
}

// Wait blocks until settlement or ctx is done
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Then registers fn to run on the settling goroutine. If already settled,
// fn runs immediately.
func (c *Completion) Then(fn func(error)) {
	c.mu.Lock()
	if c.settled {
		err := c.err
		c.mu.Unlock()
		fn(err)
		return
	}
	c.then = append(c.then, fn)
	c.mu.Unlock()
}

// Resolve settles successfully. Returns false if already settled.
func (c *Completion) Resolve() bool {
	return c.settle(nil)
}

// Reject settles with err. Returns false if already settled.
func (c *Completion) Reject(err error) bool {
	return c.settle(err)
}

func (c *Completion) settle(err error) bool {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		return false
	}
	c.settled = true
	c.err = err
	callbacks := c.then
	c.then = nil
	close(c.done)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(err)
	}
	return true
}
