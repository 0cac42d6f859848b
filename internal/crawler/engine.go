package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/layered-crawler/internal/dispatcher"
	"github.com/JakeFAU/layered-crawler/internal/metrics"
)

// Engine crawls link graphs layer by layer. One Engine owns two worker pools
// and the per-host gates for its whole lifetime and may serve any number of
// Crawl calls, including concurrent ones.
type Engine struct {
	downloader Downloader
	opts       Options
	observer   Observer
	logger     *zap.Logger

	fetchPool   *dispatcher.Dispatcher[fetchTask]
	extractPool *dispatcher.Dispatcher[extractTask]

	gates sync.Map // host -> *hostGate
	state *crawlState

	ctx      context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool
	stopOnce sync.Once
}

// NewEngine builds an Engine and starts its worker pools.
func NewEngine(downloader Downloader, opts Options, logger *zap.Logger) (*Engine, error) {
	if downloader == nil {
		return nil, errors.New("engine: downloader is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("engine options: %w", err)
	}
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("engine")

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		downloader: downloader,
		opts:       opts,
		observer:   opts.Observer,
		logger:     logger,
		state:      newCrawlState(),
		ctx:        ctx,
		cancel:     cancel,
	}

	var err error
	e.fetchPool, err = dispatcher.New[fetchTask](dispatcher.Config{Name: "fetch", Workers: opts.FetchWorkers}, e.runFetch, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch pool: %w", err)
	}
	e.extractPool, err = dispatcher.New[extractTask](dispatcher.Config{Name: "extract", Workers: opts.ExtractWorkers}, e.runExtract, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("extract pool: %w", err)
	}
	e.fetchPool.Start()
	e.extractPool.Start()

	logger.Info("engine started",
		zap.Int("fetch_workers", opts.FetchWorkers),
		zap.Int("extract_workers", opts.ExtractWorkers),
		zap.Int("per_host", opts.PerHost),
		zap.String("state_scope", string(opts.Scope)),
	)
	return e, nil
}

// Crawl fetches seed and everything reachable from it within depth layers,
// skipping identifiers that contain any of excludes. Per-identifier failures
// are reported in the Result, never as the returned error. The error is set
// only when ctx ends or the engine shuts down first; the Result then holds
// whatever completed before that, and identifiers left unfinished are not
// kept as visited.
func (e *Engine) Crawl(ctx context.Context, seed string, depth int, excludes []string) (Result, error) {
	state := e.state
	if e.opts.Scope == ScopeCall {
		state = newCrawlState()
	}
	if e.closed.Load() {
		return state.results.snapshot(), ErrEngineClosed
	}

	ctx, stop := e.bind(ctx)
	defer stop()

	if depth < 1 {
		if e.opts.ZeroDepth != ZeroDepthSeedOnly {
			return state.results.snapshot(), nil
		}
		depth = 1
	}

	var frontier []string
	switch {
	case !Admissible(seed, excludes):
		e.logger.Debug("seed excluded", zap.String("url", seed))
	case !state.visited.markIfNew(seed):
		e.logger.Debug("seed already visited", zap.String("url", seed))
	default:
		frontier = []string{seed}
	}

	for i := 0; i < depth && len(frontier) > 0; i++ {
		l := newLayer(i, state)
		start := time.Now()
		e.observer.LayerStarted(ctx, i, len(frontier))
		e.logger.Info("layer started", zap.String("seed", seed), zap.Int("layer", i), zap.Int("size", len(frontier)))

		for _, id := range frontier {
			e.schedule(ctx, l, id, depth-i, excludes)
		}
		if err := l.barrier.wait(ctx); err != nil {
			e.release(l, frontier)
			if e.closed.Load() {
				return state.results.snapshot(), ErrEngineClosed
			}
			return state.results.snapshot(), fmt.Errorf("crawl canceled: %w", err)
		}

		frontier = l.takeDiscovered()
		elapsed := time.Since(start)
		metrics.ObserveLayer(elapsed)
		e.observer.LayerFinished(ctx, i, len(frontier), elapsed)
		e.logger.Info("layer finished",
			zap.String("seed", seed),
			zap.Int("layer", i),
			zap.Int("discovered", len(frontier)),
			zap.Duration("elapsed", elapsed),
		)
	}
	return state.results.snapshot(), nil
}

// Shutdown stops both pools immediately. In-flight units are abandoned and
// record nothing; blocked Crawl calls return ErrEngineClosed. Safe to call
// more than once.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		e.closed.Store(true)
		e.cancel()
		e.fetchPool.Shutdown()
		e.extractPool.Shutdown()
		e.logger.Info("engine shut down")
	})
}

// release returns the identifiers of an abandoned layer to the unvisited
// pool: frontier entries that never recorded an outcome and links discovered
// for a layer that will not run. Later calls in the same scope may crawl them.
func (e *Engine) release(l *layer, frontier []string) {
	discarded := l.abandon()
	unfinished := l.state.results.releaseUnrecorded(l.state.visited, frontier)
	e.logger.Debug("layer abandoned",
		zap.Int("layer", l.index),
		zap.Int("unfinished", unfinished),
		zap.Int("discarded", discarded),
	)
}

// schedule creates a unit for id and hands it to its host gate.
func (e *Engine) schedule(ctx context.Context, l *layer, id string, remaining int, excludes []string) {
	if !Admissible(id, excludes) {
		return
	}
	host, err := HostOf(id)
	if err != nil {
		l.state.results.addError(id, err)
		return
	}
	if err := l.barrier.register(); err != nil {
		e.logger.Error("register fetch slot", zap.String("url", id), zap.Error(err))
		return
	}
	gate := e.gateFor(host)
	gate.admit(fetchTask{unit: &unit{
		ctx:       ctx,
		id:        id,
		host:      host,
		remaining: remaining,
		excludes:  excludes,
		layer:     l,
		gate:      gate,
	}})
}

func (e *Engine) gateFor(host string) *hostGate {
	if g, ok := e.gates.Load(host); ok {
		return g.(*hostGate)
	}
	g, _ := e.gates.LoadOrStore(host, newHostGate(host, e.opts.PerHost, e.dispatchFetch))
	return g.(*hostGate)
}

// dispatchFetch submits an admitted task; a task the pool refuses is
// abandoned here.
func (e *Engine) dispatchFetch(task fetchTask) bool {
	if err := e.fetchPool.Submit(task); err != nil {
		task.unit.layer.barrier.arrive()
		return false
	}
	return true
}

// bind derives a per-call context that also ends when the engine shuts down.
func (e *Engine) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(e.ctx, cancel)
	return ctx, func() {
		stopAfter()
		cancel()
	}
}
