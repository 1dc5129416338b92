package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"plagiscan/internal/config"
	"plagiscan/internal/queue"
	"plagiscan/internal/store"
	"plagiscan/internal/telemetry"
)

// Runner processes one document to a terminal state.
type Runner interface {
	Run(ctx context.Context, documentID string) error
}

// Processor consumes document ids from the Redis queue.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	runner   Runner
	logger   *slog.Logger
	workerID string
}

func NewProcessor(cfg config.Config, q *queue.RedisQueue, r Runner, logger *slog.Logger) *Processor {
	return NewProcessorWithID(cfg, q, r, logger, "")
}

// NewProcessorWithID creates a processor with a specific worker ID for tracking.
func NewProcessorWithID(cfg config.Config, q *queue.RedisQueue, r Runner, logger *slog.Logger, workerID string) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if workerID != "" {
		logger = logger.With("worker_id", workerID)
	}
	return &Processor{
		cfg:      cfg,
		queue:    q,
		runner:   r,
		logger:   logger,
		workerID: workerID,
	}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	poll := p.cfg.WorkerPollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		handled, err := p.Poll(ctx)
		if err != nil {
			p.logger.Warn("poll failed", "error", err)
		}
		if handled {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Poll requeues expired leases and processes at most one document. It
// reports whether a document was taken from the queue.
func (p *Processor) Poll(ctx context.Context) (bool, error) {
	if reclaimed, err := p.queue.RequeueExpired(ctx, time.Now(), 100); err == nil && len(reclaimed) > 0 {
		p.logger.Warn("requeued expired leases", "count", len(reclaimed))
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}

	id, err := p.queue.DequeueWithLease(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if id == "" {
		return false, nil
	}
	p.handle(ctx, id)
	return true, nil
}

// handle runs id on a context that survives cancellation of ctx for
// ShutdownGrace, so a document taken before shutdown can still finish.
func (p *Processor) handle(ctx context.Context, id string) {
	ctx, release := p.runContext(ctx)
	defer release()

	stop := p.keepLease(ctx, id)
	err := p.runner.Run(ctx, id)
	stop()

	switch {
	case err == nil:
		_ = p.queue.Ack(ctx, id)
	case errors.Is(err, store.ErrNotFound):
		_ = p.queue.Ack(ctx, id)
		_ = p.queue.DLQPush(ctx, id)
		p.logger.Warn("dead-lettered unknown document", "document_id", id)
	default:
		// Left leased; RequeueExpired retries it once the lease runs out.
		p.logger.Error("run failed", "document_id", id, "error", err)
	}
}

func (p *Processor) runContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	done := make(chan struct{})
	go func() {
		defer cancel()
		select {
		case <-done:
			return
		case <-parent.Done():
		}
		grace := p.cfg.ShutdownGrace
		if grace <= 0 {
			return
		}
		p.logger.Info("shutdown requested, finishing in-flight document", "grace", grace)
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			p.logger.Warn("shutdown grace expired, cancelling run")
		}
	}()
	return ctx, func() {
		close(done)
		cancel()
	}
}

// keepLease extends the visibility deadline while a document is running.
func (p *Processor) keepLease(ctx context.Context, id string) func() {
	visibility := p.cfg.VisibilityTimeout
	if visibility <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(visibility / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.queue.ExtendLease(ctx, id, visibility); err != nil {
					p.logger.Warn("extend lease", "document_id", id, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
