package crawler

import (
	"sync"

	"github.com/JakeFAU/layered-crawler/internal/metrics"
)

// hostGate caps concurrent fetches for one host. Admission never blocks: a
// task either takes a free slot and is dispatched, or waits in a FIFO until a
// running task of the same host releases its slot.
type hostGate struct {
	host  string
	limit int
	// dispatch hands a task to the fetch pool and reports whether it was
	// accepted. A rejected task has already been abandoned by the callee.
	dispatch func(fetchTask) bool

	mu      sync.Mutex
	active  int
	pending []fetchTask
}

func newHostGate(host string, limit int, dispatch func(fetchTask) bool) *hostGate {
	return &hostGate{host: host, limit: limit, dispatch: dispatch}
}

// admit dispatches the task if a slot is free, otherwise queues it.
func (g *hostGate) admit(task fetchTask) {
	g.mu.Lock()
	if g.active >= g.limit {
		g.pending = append(g.pending, task)
		g.mu.Unlock()
		metrics.AddGateQueued(1)
		return
	}
	g.active++
	g.mu.Unlock()

	if !g.dispatch(task) {
		g.release()
	}
}

// release hands the caller's slot to the oldest queued task, or frees it when
// nothing is waiting. Must be called exactly once per admitted task.
func (g *hostGate) release() {
	for {
		g.mu.Lock()
		if len(g.pending) == 0 {
			g.active--
			g.mu.Unlock()
			return
		}
		next := g.pending[0]
		g.pending[0] = fetchTask{}
		g.pending = g.pending[1:]
		g.mu.Unlock()
		metrics.AddGateQueued(-1)

		if g.dispatch(next) {
			return
		}
	}
}

func (g *hostGate) stats() (active, queued int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active, len(g.pending)
}
