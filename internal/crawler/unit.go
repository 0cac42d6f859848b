package crawler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/layered-crawler/internal/metrics"
)

// crawlState is the visited/downloaded/error state shared by the units of
// one state scope.
type crawlState struct {
	visited *visitedSet
	results *results
}

func newCrawlState() *crawlState {
	return &crawlState{visited: &visitedSet{}, results: newResults()}
}

// layer holds everything scoped to one breadth-first distance from the seed.
type layer struct {
	index   int
	state   *crawlState
	barrier *layerBarrier

	mu         sync.Mutex
	discovered []string
	abandoned  bool
}

func newLayer(index int, state *crawlState) *layer {
	return &layer{index: index, state: state, barrier: newLayerBarrier()}
}

// admitLinks marks the admissible, unseen links visited and queues them for
// the next layer. It returns false once the layer has been abandoned; nothing
// is marked then.
func (l *layer) admitLinks(links, excludes []string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.abandoned {
		return 0, false
	}
	n := 0
	for _, link := range links {
		if !Admissible(link, excludes) {
			continue
		}
		if !l.state.visited.markIfNew(link) {
			continue
		}
		l.discovered = append(l.discovered, link)
		n++
	}
	return n, true
}

// abandon stops further discovery and forgets what was discovered but never
// scheduled.
func (l *layer) abandon() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.abandoned = true
	for _, id := range l.discovered {
		l.state.visited.forget(id)
	}
	n := len(l.discovered)
	l.discovered = nil
	return n
}

// takeDiscovered returns the next frontier and resets the collection.
func (l *layer) takeDiscovered() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.discovered
	l.discovered = nil
	return out
}

// unit is one identifier moving through fetch and, if depth remains, extract.
type unit struct {
	ctx       context.Context
	id        string
	host      string
	remaining int
	excludes  []string
	layer     *layer
	gate      *hostGate
}

type fetchTask struct {
	unit *unit
}

type extractTask struct {
	unit *unit
	doc  Document
}

// runFetch is the fetch pool handler. The fetch slot is arrived and the host
// slot released exactly once, whatever the downloader does.
func (e *Engine) runFetch(_ context.Context, task fetchTask) {
	u := task.unit
	defer func() {
		u.layer.barrier.arrive()
		u.gate.release()
	}()
	if u.ctx.Err() != nil {
		return
	}

	metrics.IncActiveFetches()
	start := time.Now()
	doc, err := e.download(u)
	elapsed := time.Since(start)
	metrics.DecActiveFetches()

	if u.ctx.Err() != nil {
		// abandoned mid-flight; nothing is recorded
		return
	}
	e.observer.Fetched(u.ctx, u.id, err, elapsed)
	metrics.ObserveFetch(u.id, err == nil, elapsed)
	if err != nil {
		if u.layer.state.results.recordError(u.ctx, u.id, &FetchError{Identifier: u.id, Err: err}) {
			e.logger.Debug("fetch failed", zap.String("url", u.id), zap.Error(err))
		}
		return
	}
	if !u.layer.state.results.recordDownloaded(u.ctx, u.id) {
		return
	}
	if p, ok := doc.(Payload); ok {
		metrics.ObserveBytes(u.id, len(p.Body()))
	}
	e.logger.Debug("fetched", zap.String("url", u.id), zap.Duration("elapsed", elapsed))

	if u.remaining <= 1 {
		return
	}
	// The extract slot is taken before the fetch slot is given back, so the
	// layer cannot drain in between.
	if err := u.layer.barrier.register(); err != nil {
		e.logger.Error("register extract slot", zap.String("url", u.id), zap.Error(err))
		return
	}
	if err := e.extractPool.Submit(extractTask{unit: u, doc: doc}); err != nil {
		u.layer.barrier.arrive()
	}
}

func (e *Engine) download(u *unit) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("downloader panic", zap.String("url", u.id), zap.Any("panic", r))
			doc, err = nil, panicError{value: r}
		}
	}()
	return e.downloader.Download(u.ctx, u.id)
}

// runExtract is the extract pool handler.
func (e *Engine) runExtract(_ context.Context, task extractTask) {
	u := task.unit
	defer u.layer.barrier.arrive()
	if u.ctx.Err() != nil {
		return
	}

	links, err := extractLinks(task.doc)
	if u.ctx.Err() != nil {
		return
	}
	if err != nil {
		e.observer.Extracted(u.ctx, u.id, 0, err)
		metrics.ObserveExtract(false, 0)
		e.logger.Debug("extract failed", zap.String("url", u.id), zap.Error(err))
		u.layer.state.results.addError(u.id, &ExtractError{Identifier: u.id, Err: err})
		return
	}

	admitted, ok := u.layer.admitLinks(links, u.excludes)
	if !ok {
		return
	}
	e.observer.Extracted(u.ctx, u.id, admitted, nil)
	metrics.ObserveExtract(true, admitted)
}

func extractLinks(doc Document) (links []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			links, err = nil, panicError{value: r}
		}
	}()
	if doc == nil {
		return nil, nil
	}
	return doc.ExtractLinks()
}
