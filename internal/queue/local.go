package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
)

const localBacklog = 1024

// LocalPool is an in-process Dispatcher: a buffered channel drained by a
// fixed number of worker goroutines.
type LocalPool struct {
	cfg    Config
	logger *logging.Logger
	jobs   chan Job

	mu      sync.Mutex
	handler Handler
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewLocalPool creates a pool; call Start to run workers.
func NewLocalPool(cfg Config, logger *logging.Logger) *LocalPool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalPool{
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan Job, localBacklog),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue blocks while the backlog is full.
func (p *LocalPool) Enqueue(ctx context.Context, job Job) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return fmt.Errorf("queue stopped")
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("queue stopped")
	}
}

func (p *LocalPool) Start(h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("queue already started")
	}
	p.started = true
	p.handler = h

	p.logger.Info("Starting local worker pool", "concurrency", p.cfg.Concurrency)
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(i, h)
	}
	return nil
}

// Stop stops accepting jobs, cancels running handlers and waits for the
// workers until ctx expires. Jobs still in the backlog are handed to the
// handler's Abandon when it has one, and dropped otherwise.
func (p *LocalPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cancel()
	p.drain(ctx)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("Local worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

func (p *LocalPool) worker(id int, h Handler) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			if p.ctx.Err() != nil {
				p.abandon(context.Background(), job)
				continue
			}
			if err := h.Handle(p.ctx, job); err != nil {
				p.logger.Warn("Job failed", "worker", id, "task_id", job.TaskID, "type", job.Type(), "error", err)
			}
		}
	}
}

func (p *LocalPool) drain(ctx context.Context) {
	for {
		select {
		case job := <-p.jobs:
			p.abandon(ctx, job)
		default:
			return
		}
	}
}

func (p *LocalPool) abandon(ctx context.Context, job Job) {
	p.mu.Lock()
	a, ok := p.handler.(Abandoner)
	p.mu.Unlock()
	if !ok {
		p.logger.Warn("Dropping queued job", "task_id", job.TaskID, "type", job.Type())
		return
	}
	if err := a.Abandon(ctx, job); err != nil {
		p.logger.Warn("Failed to abandon queued job", "task_id", job.TaskID, "error", err)
	}
}

var _ Dispatcher = (*LocalPool)(nil)
