// Package app wires the crawler service together from a config.Config: the
// downloader stack, the engine, the progress hub, run storage, the publisher,
// the run worker and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/layered-crawler/internal/api"
	"github.com/JakeFAU/layered-crawler/internal/archive"
	"github.com/JakeFAU/layered-crawler/internal/clock/system"
	"github.com/JakeFAU/layered-crawler/internal/config"
	"github.com/JakeFAU/layered-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/layered-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/layered-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/layered-crawler/internal/hash/sha256"
	"github.com/JakeFAU/layered-crawler/internal/id/uuid"
	"github.com/JakeFAU/layered-crawler/internal/metrics"
	"github.com/JakeFAU/layered-crawler/internal/progress"
	"github.com/JakeFAU/layered-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/layered-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/layered-crawler/internal/publisher/pubsub"
	gcsstore "github.com/JakeFAU/layered-crawler/internal/storage/gcs"
	localstore "github.com/JakeFAU/layered-crawler/internal/storage/local"
	memorystore "github.com/JakeFAU/layered-crawler/internal/storage/memory"
	"github.com/JakeFAU/layered-crawler/internal/storage/postgres"
	"github.com/JakeFAU/layered-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/layered-crawler/internal/worker"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Option customizes New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	downloader crawler.Downloader
}

// WithRegisterer registers the progress collectors on reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithDownloader replaces the configured fetcher. Archiving still wraps it
// when enabled.
func WithDownloader(d crawler.Downloader) Option {
	return func(o *options) { o.downloader = d }
}

// App holds the long-lived services of one crawler process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	engine   *crawler.Engine
	hub      *progress.Hub
	tracker  *sinks.Tracker
	runs     crawler.RunStore
	pub      crawler.Publisher
	runner   *worker.Runner
	worker   *worker.Worker
	server   *api.Server
	database *postgres.Store
	ready    func(context.Context) error

	closers []func() error
}

// New builds every service cfg asks for. On error, whatever was already
// built is released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	downloader, err := a.buildDownloader(ctx, o.downloader)
	if err != nil {
		return nil, err
	}

	if err := a.buildProgress(o.registerer); err != nil {
		return nil, err
	}

	engineOpts := cfg.EngineOptions()
	// Each run must report only its own crawl, so the shared service engine
	// always keeps state per call.
	if engineOpts.Scope != crawler.ScopeCall {
		logger.Info("service runs use per-call crawl state",
			zap.String("configured_scope", string(engineOpts.Scope)))
		engineOpts.Scope = crawler.ScopeCall
	}
	engineOpts.Observer = progress.NewObserver(a.hub)
	a.engine, err = crawler.NewEngine(downloader, engineOpts, logger)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	a.closers = append(a.closers, func() error {
		a.engine.Shutdown()
		return nil
	})

	var recorder crawler.ResultRecorder
	if cfg.DB.DSN != "" {
		a.database, err = postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("connect run database: %w", err)
		}
		a.closers = append(a.closers, func() error {
			a.database.Close()
			return nil
		})
		a.runs = a.database
		recorder = a.database
		a.ready = a.database.Ping
		logger.Info("recording runs in postgres", zap.String("table", cfg.DB.Table))
	} else if cfg.DB.SQLitePath != "" {
		lite, err := sqlite.Open(ctx, cfg.DB.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open run database: %w", err)
		}
		a.closers = append(a.closers, lite.Close)
		a.runs = lite
		recorder = lite
		a.ready = lite.Ping
		logger.Info("recording runs in sqlite", zap.String("path", lite.Path()))
	} else {
		a.runs = memorystore.NewRunStore()
		logger.Info("keeping runs in memory")
	}

	if cfg.PubSub.ProjectID != "" {
		p, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("build pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		a.pub = p
		logger.Info("publishing run summaries", zap.String("topic", cfg.PubSub.TopicName))
	} else {
		a.pub = memorypublisher.New()
	}

	clock := system.New()
	a.runner, err = worker.NewRunner(worker.Dependencies{
		Crawler:   a.engine,
		Runs:      a.runs,
		Recorder:  recorder,
		Publisher: a.pub,
		Emitter:   a.hub,
		Clock:     clock,
	}, worker.Config{Topic: cfg.PubSub.TopicName}, logger)
	if err != nil {
		return nil, fmt.Errorf("build runner: %w", err)
	}
	a.worker, err = worker.NewWorker(a.runner, cfg.Runner.Workers, cfg.Queue.Depth, logger)
	if err != nil {
		return nil, fmt.Errorf("build worker: %w", err)
	}

	deps := api.Dependencies{
		Runs:      a.runs,
		Submitter: a.worker,
		IDs:       uuid.NewGenerator(),
		Clock:     clock,
		Progress:  a.tracker,
		Ready:     a.ready,
	}
	a.server, err = api.NewServer(deps, api.Config{
		AuthEnabled:     cfg.Auth.Enabled,
		APIKey:          cfg.Auth.APIKey,
		DefaultDepth:    cfg.Engine.DefaultDepth,
		DefaultExcludes: cfg.Engine.Excludes,
		RequestTimeout:  requestTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build api server: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("fetcher", cfg.Fetcher.Kind),
		zap.Bool("archive", cfg.Archive.Enabled),
		zap.Int("runner_workers", cfg.Runner.Workers),
	)
	return a, nil
}

// NewDownloader builds the downloader stack cfg describes on its own, for
// callers that drive an Engine without the rest of the service. The returned
// release func closes browsers and storage clients.
func NewDownloader(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Downloader, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	d, err := a.buildDownloader(ctx, nil)
	if err != nil {
		_ = a.release()
		return nil, nil, err
	}
	return d, a.release, nil
}

func (a *App) buildDownloader(ctx context.Context, override crawler.Downloader) (crawler.Downloader, error) {
	cfg := a.cfg
	downloader := override
	if downloader == nil {
		switch cfg.Fetcher.Kind {
		case config.FetcherHeadless:
			h, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
				MaxParallel:       cfg.Fetcher.Headless.MaxParallel,
				UserAgent:         cfg.Fetcher.UserAgent,
				NavigationTimeout: cfg.NavigationTimeout(),
			})
			if err != nil {
				return nil, fmt.Errorf("build headless fetcher: %w", err)
			}
			a.closers = append(a.closers, func() error {
				h.Close()
				return nil
			})
			downloader = h
		default:
			downloader = collyfetcher.New(collyfetcher.Config{
				UserAgent:    cfg.Fetcher.UserAgent,
				Timeout:      cfg.FetchTimeout(),
				MaxBodyBytes: cfg.Fetcher.MaxBodyBytes,
			})
		}
	}
	if !cfg.Archive.Enabled {
		return downloader, nil
	}

	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	archived, err := archive.New(downloader, blobs, sha256.New(), archive.Config{
		Prefix:      cfg.Archive.Prefix,
		ContentType: cfg.Archive.ContentType,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build archive: %w", err)
	}
	return archived, nil
}

func (a *App) buildBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.BackendMemory:
		return memorystore.NewBlobStore(), nil
	case config.BackendGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("build gcs blob store: %w", err)
		}
		return store, nil
	default:
		store, err := localstore.New(localstore.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("build local blob store: %w", err)
		}
		return store, nil
	}
}

func (a *App) buildProgress(reg prometheus.Registerer) error {
	a.tracker = sinks.NewTracker()
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("build progress metrics: %w", err)
	}
	sinkList := []progress.Sink{a.tracker, promSink}
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.BatchWait(),
		Logger:         a.logger,
	}, sinkList...)
	return nil
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Engine returns the crawl engine.
func (a *App) Engine() *crawler.Engine {
	return a.engine
}

// Runs returns the run store.
func (a *App) Runs() crawler.RunStore {
	return a.runs
}

// Tracker returns the live progress tracker.
func (a *App) Tracker() *sinks.Tracker {
	return a.tracker
}

// Publisher returns where run summaries go.
func (a *App) Publisher() crawler.Publisher {
	return a.pub
}

// Worker returns the run worker.
func (a *App) Worker() *worker.Worker {
	return a.worker
}

// Serve runs the worker and the HTTP server on ln until ctx ends or either
// fails, then shuts the server down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("run worker started", zap.Int("workers", a.cfg.Runner.Workers))
		a.worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close stops accepting runs, waits for in-flight runs to record their
// outcome, then releases every service.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.worker != nil {
		if err := a.worker.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.engine != nil {
		a.engine.Shutdown()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.release(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		a.logger.Warn("shutdown finished with errors", zap.Error(errors.Join(errs...)))
	} else {
		a.logger.Info("shutdown complete")
	}
	return errors.Join(errs...)
}

// release runs the closers in reverse order of construction.
func (a *App) release() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
