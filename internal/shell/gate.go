package shell

import (
	"context"
	"sync"
)

// Gate is a one-shot signal with a single opener and a single waiter.
// Opening it more than once has no further effect.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

// NewGate returns a gate that has not been opened.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Open releases the waiter.
func (g *Gate) Open() {
	g.once.Do(func() { close(g.ch) })
}

// Done is closed once the gate is open.
func (g *Gate) Done() <-chan struct{} {
	return g.ch
}

// IsOpen reports whether Open was called.
func (g *Gate) IsOpen() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate opens or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
