package crawler

import (
	"context"
	"errors"
	"sync"
)

var errBarrierDrained = errors.New("layer barrier already drained")

// layerBarrier counts the outstanding units of one layer. It starts with one
// slot held by the driver, so it cannot drain while the driver is still
// submitting the layer.
type layerBarrier struct {
	mu      sync.Mutex
	pending int
	done    chan struct{}
}

func newLayerBarrier() *layerBarrier {
	return &layerBarrier{pending: 1, done: make(chan struct{})}
}

// register adds a slot. It fails once the barrier has drained.
func (b *layerBarrier) register() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == 0 {
		return errBarrierDrained
	}
	b.pending++
	return nil
}

// arrive releases a slot.
func (b *layerBarrier) arrive() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == 0 {
		return
	}
	b.pending--
	if b.pending == 0 {
		close(b.done)
	}
}

// wait releases the driver's slot and blocks until every registered unit has
// arrived or ctx ends. A canceled ctx wins over a drain that happens at the
// same moment.
func (b *layerBarrier) wait(ctx context.Context) error {
	b.arrive()
	select {
	case <-b.done:
	case <-ctx.Done():
	}
	return ctx.Err()
}

func (b *layerBarrier) outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}
