package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"plagiscan/internal/api"
	"plagiscan/internal/app"
	"plagiscan/internal/config"
	"plagiscan/internal/pipeline"
	"plagiscan/internal/queue"
	"plagiscan/internal/ratelimit"
	"plagiscan/internal/telemetry"
	"plagiscan/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("service", "api")
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		ServiceName:  "plagiscan-api",
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var redisClient *redis.Client
	if cfg.DispatchMode == config.DispatchRedis || cfg.RateLimitEnabled {
		redisClient = queue.NewRedisClient(cfg)
		defer redisClient.Close()
	}

	var (
		dispatcher pipeline.Dispatcher
		pool       *worker.Pool
	)
	if cfg.DispatchMode == config.DispatchRedis {
		dispatcher = queue.NewRedisQueue(redisClient, cfg)
	} else {
		pool = worker.NewPool(logger, worker.WithWorkers(cfg.Workers), worker.WithQueueSize(cfg.QueueSize))
		dispatcher = pool
	}

	p, err := app.NewPipeline(ctx, cfg, st, logger, pipeline.WithDispatcher(dispatcher))
	if err != nil {
		return err
	}
	if pool != nil {
		pool.Start(p.Run)
	}

	var limiter api.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.New(p, limiter, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "addr", httpServer.Addr, "store", cfg.StoreDriver, "dispatch", cfg.DispatchMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if pool != nil {
			err = errors.Join(err, pool.Shutdown(shutdownCtx))
		}
		return err
	})
	return g.Wait()
}
