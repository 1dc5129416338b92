package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plagiscan/internal/config"
	"plagiscan/internal/queue"
	"plagiscan/internal/store"
)

type runnerFunc func(ctx context.Context, id string) error

func (f runnerFunc) Run(ctx context.Context, id string) error { return f(ctx, id) }

func newTestProcessor(t *testing.T, visibility time.Duration, r Runner) (*Processor, *queue.RedisQueue) {
	t.Helper()
	return newTestProcessorWithGrace(t, visibility, 0, r)
}

func newTestProcessorWithGrace(t *testing.T, visibility, grace time.Duration, r Runner) (*Processor, *queue.RedisQueue) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{QueuePrefix: "test", VisibilityTimeout: visibility, WorkerPollInterval: 5 * time.Millisecond, ShutdownGrace: grace}
	q := queue.NewRedisQueue(client, cfg)
	return NewProcessorWithID(cfg, q, r, nil, "w-1"), q
}

func TestPollEmptyQueue(t *testing.T) {
	p, _ := newTestProcessor(t, time.Minute, runnerFunc(func(context.Context, string) error {
		t.Fatal("runner called on empty queue")
		return nil
	}))
	handled, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestPollRunsAndAcks(t *testing.T) {
	ctx := context.Background()
	var ran []string
	p, q := newTestProcessor(t, time.Minute, runnerFunc(func(_ context.Context, id string) error {
		ran = append(ran, id)
		return nil
	}))
	require.NoError(t, q.Submit(ctx, "doc-1"))

	handled, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"doc-1"}, ran)

	inflight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.Zero(t, inflight)
}

func TestPollDeadLettersUnknownDocument(t *testing.T) {
	ctx := context.Background()
	p, q := newTestProcessor(t, time.Minute, runnerFunc(func(_ context.Context, id string) error {
		return fmt.Errorf("load document %s: %w", id, store.ErrNotFound)
	}))
	require.NoError(t, q.Submit(ctx, "ghost"))

	_, err := p.Poll(ctx)
	require.NoError(t, err)

	dlq, err := q.DLQPeek(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, dlq)
	inflight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.Zero(t, inflight)
}

func TestPollRetriesAfterLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	calls := 0
	p, q := newTestProcessor(t, 40*time.Millisecond, runnerFunc(func(context.Context, string) error {
		calls++
		if calls == 1 {
			return errors.New("store unavailable")
		}
		return nil
	}))
	require.NoError(t, q.Submit(ctx, "doc-1"))

	_, err := p.Poll(ctx)
	require.NoError(t, err)
	inflight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inflight, "failed run keeps its lease")

	time.Sleep(60 * time.Millisecond)
	handled, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 2, calls)
	inflight, err = q.InFlight(ctx)
	require.NoError(t, err)
	assert.Zero(t, inflight)
}

func TestRunStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	var ran []string
	p, q := newTestProcessor(t, time.Minute, runnerFunc(func(_ context.Context, id string) error {
		mu.Lock()
		ran = append(ran, id)
		mu.Unlock()
		return nil
	}))
	require.NoError(t, q.Submit(context.Background(), "doc-1"))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestShutdownLetsInFlightRunFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	runErr := make(chan error, 1)
	p, q := newTestProcessorWithGrace(t, time.Minute, time.Minute, runnerFunc(func(ctx context.Context, _ string) error {
		close(started)
		<-release
		runErr <- ctx.Err()
		return ctx.Err()
	}))
	require.NoError(t, q.Submit(context.Background(), "doc-1"))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	<-started
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.NoError(t, <-runErr, "run context must outlive shutdown")
	assert.ErrorIs(t, <-errc, context.Canceled)
	inflight, err := q.InFlight(context.Background())
	require.NoError(t, err)
	assert.Zero(t, inflight, "finished run is acked")
}

func TestShutdownCancelsRunAfterGrace(t *testing.T) {
	started := make(chan struct{})
	p, q := newTestProcessorWithGrace(t, time.Minute, 20*time.Millisecond, runnerFunc(func(ctx context.Context, _ string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, q.Submit(context.Background(), "doc-1"))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	<-started
	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run was not cancelled after the grace period")
	}
}
