package session

import (
	"context"
	"sync"
)

// gate is a counting semaphore whose limit can change while tasks hold
// slots. A limit of zero or less admits everyone.
type gate struct {
	mu      sync.Mutex
	limit   int
	inUse   int
	changed chan struct{}
}

func newGate(limit int) *gate {
	return &gate{
		limit:   limit,
		changed: make(chan struct{}),
	}
}

func (g *gate) acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.limit <= 0 || g.inUse < g.limit {
			g.inUse++
			g.mu.Unlock()
			return nil
		}
		ch := g.changed
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.inUse--
	g.broadcastLocked()
}

// resize changes the limit. Holders above a lowered limit keep their slot.
func (g *gate) resize(limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.limit = limit
	g.broadcastLocked()
}

func (g *gate) broadcastLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}
