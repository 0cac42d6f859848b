// Package dispatcher manages fixed-size worker fan-out over an in-memory queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/layered-crawler/internal/queue/memory"
)

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("dispatcher closed")

// Handler processes one task. The context is canceled when the pool shuts down.
type Handler[T any] func(ctx context.Context, task T)

// Config sizes a Dispatcher.
type Config struct {
	Name     string
	Workers  int
	Capacity int // 0 = unbounded
}

// Dispatcher runs a fixed number of workers that drain a FIFO queue.
type Dispatcher[T any] struct {
	name    string
	workers int
	queue   *memory.Queue[T]
	handler Handler[T]
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Dispatcher. Workers are not started until Start or Run.
func New[T any](cfg Config, handler Handler[T], logger *zap.Logger) (*Dispatcher[T], error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("dispatcher %q: workers must be > 0", cfg.Name)
	}
	if handler == nil {
		return nil, fmt.Errorf("dispatcher %q: handler is required", cfg.Name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher[T]{
		name:    cfg.Name,
		workers: cfg.Workers,
		queue:   memory.NewQueue[T](cfg.Capacity),
		handler: handler,
		logger:  logger.With(zap.String("pool", cfg.Name)),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the workers and returns immediately. Calling it again is a no-op.
func (d *Dispatcher[T]) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.loop(i)
		}
		d.logger.Debug("workers started", zap.Int("workers", d.workers))
	})
}

// Run starts the workers and blocks until ctx finishes, then shuts the pool
// down and waits for the workers to exit.
func (d *Dispatcher[T]) Run(ctx context.Context) {
	d.Start()
	select {
	case <-ctx.Done():
	case <-d.ctx.Done():
	}
	d.Shutdown()
	d.wg.Wait()
}

// Submit queues a task. It never blocks.
func (d *Dispatcher[T]) Submit(task T) error {
	if err := d.queue.Push(task); err != nil {
		if errors.Is(err, memory.ErrQueueClosed) {
			return ErrClosed
		}
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Pending reports how many tasks are waiting for a worker.
func (d *Dispatcher[T]) Pending() int {
	return d.queue.Len()
}

// Shutdown stops the pool immediately: queued tasks are dropped and the
// context passed to running handlers is canceled. It does not wait.
func (d *Dispatcher[T]) Shutdown() {
	d.stopOnce.Do(func() {
		d.cancel()
		d.queue.Close()
		d.logger.Debug("pool shut down")
	})
}

// Wait blocks until every worker has returned.
func (d *Dispatcher[T]) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher[T]) loop(id int) {
	defer d.wg.Done()
	for {
		task, err := d.queue.Pop(d.ctx)
		if err != nil {
			return
		}
		d.handle(id, task)
	}
}

func (d *Dispatcher[T]) handle(id int, task T) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", zap.Int("worker", id), zap.Any("panic", r))
		}
	}()
	d.handler(d.ctx, task)
}
