package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrPoolClosed is returned by Submit after Shutdown has begun.
var ErrPoolClosed = errors.New("worker pool closed")

// Handler processes one document id.
type Handler func(ctx context.Context, documentID string) error

// Pool runs document pipelines on a fixed number of goroutines fed by a
// bounded channel. Submit blocks while the channel is full.
type Pool struct {
	logger  *slog.Logger
	workers int

	ch     chan string
	wg     sync.WaitGroup
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

type PoolOption func(*Pool)

func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan string, n)
		}
	}
}

func NewPool(logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger:  logger,
		workers: 4,
		ch:      make(chan string, 256),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the workers. Ids submitted before Start wait in the channel.
func (p *Pool) Start(handler Handler) {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Debug("worker started", "worker_id", workerID)
				for id := range p.ch {
					if err := handler(p.ctx, id); err != nil {
						p.logger.Error("processing failed", "worker_id", workerID, "document_id", id, "error", err)
					}
				}
				p.logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Submit queues id, waiting for room until ctx ends.
func (p *Pool) Submit(ctx context.Context, documentID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.ch <- documentID:
		return nil
	default:
	}
	p.logger.Warn("pool full, applying backpressure", "document_id", documentID)
	select {
	case p.ch <- documentID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work and waits for queued documents to drain.
// If ctx ends first, running pipelines are cancelled and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("pool drained, shutdown complete")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		p.logger.Warn("shutdown interrupted, running documents cancelled")
		return ctx.Err()
	}
}
