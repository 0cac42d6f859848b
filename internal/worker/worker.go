// Package worker executes crawl runs: it drives the engine for one run,
// tracks the run's lifecycle in the run store and reports its outcome.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/layered-crawler/internal/crawler"
	"github.com/JakeFAU/layered-crawler/internal/dispatcher"
	"github.com/JakeFAU/layered-crawler/internal/metrics"
	"github.com/JakeFAU/layered-crawler/internal/progress"
)

// Crawler is the engine surface a Runner drives. *crawler.Engine satisfies it.
type Crawler interface {
	Crawl(ctx context.Context, seed string, depth int, excludes []string) (crawler.Result, error)
}

// Config controls Runner behavior.
type Config struct {
	// Topic receives a RunSummary for every finished run.
	Topic string
}

// Dependencies are the collaborators of a Runner. Recorder, Publisher and
// Emitter are optional.
type Dependencies struct {
	Crawler   Crawler
	Runs      crawler.RunStore
	Recorder  crawler.ResultRecorder
	Publisher crawler.Publisher
	Emitter   progress.Emitter
	Clock     crawler.Clock
}

// Runner executes one run at a time per call; it is safe for concurrent use.
type Runner struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(deps Dependencies, cfg Config, logger *zap.Logger) (*Runner, error) {
	if deps.Crawler == nil {
		return nil, errors.New("runner: crawler is required")
	}
	if deps.Runs == nil {
		return nil, errors.New("runner: run store is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("runner: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger.Named("runner")}, nil
}

// Execute crawls run.Parameters and returns the finished run. Bookkeeping
// failures are logged; they never change the crawl outcome.
func (r *Runner) Execute(ctx context.Context, run crawler.Run) crawler.Run {
	log := r.logger.With(zap.String("run_id", run.ID), zap.String("seed", run.Parameters.Seed))
	// Persisting the outcome must survive cancelation of the crawl itself.
	store := context.WithoutCancel(ctx)

	started := r.deps.Clock.Now()
	run.Status = crawler.RunStatusRunning
	run.Started = &started
	if err := r.deps.Runs.UpdateRun(store, run); err != nil {
		log.Error("mark run running failed", zap.Error(err))
	}
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	if runID, err := progress.ParseRunID(run.ID); err == nil {
		ctx = progress.WithRunID(ctx, runID)
	}
	r.emit(ctx, progress.Event{Stage: progress.StageRunStart, URL: run.Parameters.Seed})
	log.Info("run started", zap.Int("depth", run.Parameters.Depth))

	result, err := r.deps.Crawler.Crawl(ctx, run.Parameters.Seed, run.Parameters.Depth, run.Parameters.Excludes)

	finished := r.deps.Clock.Now()
	run.Result = &result
	run.Finished = &finished
	run.Status, run.ErrorText = finalStatus(result, err)
	elapsed := finished.Sub(started)

	if err := r.deps.Runs.UpdateRun(store, run); err != nil {
		log.Error("store run result failed", zap.Error(err))
	}
	if r.deps.Recorder != nil {
		if err := r.deps.Recorder.RecordRun(store, run); err != nil {
			log.Error("record run failed", zap.Error(err))
		}
	}
	if r.deps.Publisher != nil {
		if id, err := r.deps.Publisher.Publish(store, r.cfg.Topic, run.Summarize()); err != nil {
			log.Error("publish run summary failed", zap.Error(err))
		} else {
			log.Debug("run summary published", zap.String("message_id", id))
		}
	}

	if run.Status == crawler.RunStatusSucceeded {
		r.emit(ctx, progress.Event{Stage: progress.StageRunDone, Count: len(result.Downloaded), Dur: elapsed})
	} else {
		r.emit(ctx, progress.Event{Stage: progress.StageRunError, Count: len(result.Downloaded), Dur: elapsed, Note: run.ErrorText})
	}
	metrics.ObserveRun(string(run.Status))
	log.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.Int("downloaded", len(result.Downloaded)),
		zap.Int("failed", len(result.Errors)),
		zap.Duration("elapsed", elapsed),
	)
	return run
}

func (r *Runner) emit(ctx context.Context, evt progress.Event) {
	if r.deps.Emitter == nil {
		return
	}
	id, ok := progress.RunIDFrom(ctx)
	if !ok {
		return
	}
	evt.RunID = id
	evt.TS = r.deps.Clock.Now()
	r.deps.Emitter.Emit(evt)
}

// finalStatus maps a crawl outcome to a run status. A run succeeds when it
// downloaded anything; cancelation and engine shutdown win over both.
func finalStatus(result crawler.Result, err error) (crawler.RunStatus, string) {
	canceled := errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, crawler.ErrEngineClosed)
	switch {
	case canceled:
		return crawler.RunStatusCanceled, err.Error()
	case err != nil:
		return crawler.RunStatusFailed, err.Error()
	case len(result.Downloaded) == 0:
		return crawler.RunStatusFailed, noDownloadsText(result)
	default:
		return crawler.RunStatusSucceeded, ""
	}
}

func noDownloadsText(result crawler.Result) string {
	if n := len(result.Errors); n > 0 {
		return fmt.Sprintf("no identifiers were downloaded (%d failed)", n)
	}
	return "no identifiers were downloaded"
}

// Worker executes queued runs on a fixed pool.
type Worker struct {
	runner *Runner
	pool   *dispatcher.Dispatcher[crawler.Run]
}

// NewWorker builds a Worker with workers goroutines and room for depth
// queued runs.
func NewWorker(runner *Runner, workers, depth int, logger *zap.Logger) (*Worker, error) {
	if runner == nil {
		return nil, errors.New("worker: runner is required")
	}
	pool, err := dispatcher.New[crawler.Run](dispatcher.Config{
		Name:     "runs",
		Workers:  workers,
		Capacity: depth,
	}, func(ctx context.Context, run crawler.Run) {
		runner.Execute(ctx, run)
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("run pool: %w", err)
	}
	return &Worker{runner: runner, pool: pool}, nil
}

// Submit queues run for execution.
func (w *Worker) Submit(run crawler.Run) error {
	if err := w.pool.Submit(run); err != nil {
		return fmt.Errorf("submit run %s: %w", run.ID, err)
	}
	return nil
}

// Pending reports how many runs are waiting for a free worker.
func (w *Worker) Pending() int {
	return w.pool.Pending()
}

// Start launches the pool without blocking.
func (w *Worker) Start() {
	w.pool.Start()
}

// Run blocks until ctx ends, then stops the pool. Runs in flight are
// canceled and recorded as such.
func (w *Worker) Run(ctx context.Context) {
	w.pool.Run(ctx)
}

// Shutdown stops the pool and waits for in-flight runs to finish recording,
// or for ctx to end.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.pool.Shutdown()
	done := make(chan struct{})
	go func() {
		w.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker shutdown: %w", ctx.Err())
	}
}

