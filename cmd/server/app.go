package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vidstab-bot/messenger-webhook-go/internal/config"
	"github.com/vidstab-bot/messenger-webhook-go/internal/db"
	"github.com/vidstab-bot/messenger-webhook-go/internal/dedup"
	"github.com/vidstab-bot/messenger-webhook-go/internal/handler"
	"github.com/vidstab-bot/messenger-webhook-go/internal/media"
	"github.com/vidstab-bot/messenger-webhook-go/internal/messenger"
	"github.com/vidstab-bot/messenger-webhook-go/internal/middleware"
	"github.com/vidstab-bot/messenger-webhook-go/internal/observability"
	"github.com/vidstab-bot/messenger-webhook-go/internal/service"
	"github.com/vidstab-bot/messenger-webhook-go/internal/storage"
	"github.com/vidstab-bot/messenger-webhook-go/pkg/logger"
)

// App owns the process's clients and the HTTP server.
type App struct {
	cfg *config.Config

	pool      *pgxpool.Pool
	redis     *redis.Client
	publisher *service.OutcomePublisher
	pipeline  *service.Pipeline
	deps      []handler.Dependency
	registry  *prometheus.Registry
}

// NewApp creates an uninitialized App.
func NewApp(cfg *config.Config) *App {
	return &App{cfg: cfg}
}

// Initialize connects to every configured backend and builds the pipeline.
func (a *App) Initialize(ctx context.Context) error {
	s3Client, err := storage.NewS3Client(ctx, a.cfg.Storage.Region, a.cfg.Storage.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize S3 client: %w", err)
	}

	keys, err := a.initDedupStore(ctx, s3Client)
	if err != nil {
		return fmt.Errorf("failed to initialize dedup store: %w", err)
	}
	guard := dedup.NewGuard(keys)
	if !guard.Atomic() {
		logger.Log.Warn("Dedup store has no conditional write, concurrent redeliveries may both be processed",
			zap.String("backend", a.cfg.Dedup.Backend),
		)
	}

	if a.cfg.RabbitMQ.Enabled {
		a.publisher, err = service.NewOutcomePublisher(&a.cfg.RabbitMQ)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ publisher: %w", err)
		}
		a.deps = append(a.deps, handler.Dependency{
			Name: "rabbitmq",
			Check: func(context.Context) error {
				if !a.publisher.IsHealthy() {
					return errors.New("connection closed")
				}
				return nil
			},
		})
	}

	artifacts := storage.NewArtifactStore(s3Client, a.cfg.Storage.PublicBucket, a.cfg.Storage.PublicURL())

	runner := media.NewRunner(
		media.RunnerConfig{Timeout: a.cfg.Media.JobTimeout, TempDir: a.cfg.Media.TempDir},
		nil,
		media.NewFFmpegStabilizer(a.cfg.Media.FFmpegPath, a.cfg.Media.Shakiness, a.cfg.Media.Smoothing, nil),
		artifacts,
	)

	sender := messenger.NewClient(messenger.ClientConfig{
		GraphURL:    a.cfg.Messenger.GraphURL,
		APIVersion:  a.cfg.Messenger.APIVersion,
		AccessToken: a.cfg.Messenger.AccessToken,
		Timeout:     a.cfg.Messenger.Timeout,
		RateLimit:   a.cfg.Messenger.RateLimit,
		Burst:       a.cfg.Messenger.Burst,
	}, nil)

	var publisher service.EventPublisher
	if a.publisher != nil {
		publisher = a.publisher
	}

	a.pipeline = service.NewPipeline(a.cfg.Messenger.VerifyToken, sender, guard, runner, artifacts, publisher)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observability.Register(a.registry)

	logger.Log.Info("Application initialized",
		zap.String("dedupBackend", a.cfg.Dedup.Backend),
		zap.Bool("atomicDedup", guard.Atomic()),
		zap.Bool("rabbitmq", a.publisher != nil),
	)

	return nil
}

func (a *App) initDedupStore(ctx context.Context, s3Client storage.S3API) (dedup.KeyStore, error) {
	switch a.cfg.Dedup.Backend {
	case config.DedupBackendPostgres:
		pool, err := db.NewPool(ctx, a.cfg.Database)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.deps = append(a.deps, handler.Dependency{Name: "database", Check: pool.Ping})
		return dedup.NewPostgresStore(pool), nil

	case config.DedupBackendRedis:
		client, err := dedup.NewRedisClient(a.cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		a.redis = client
		a.deps = append(a.deps, handler.Dependency{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		return dedup.NewRedisStore(client, a.cfg.Dedup.RedisPrefix), nil

	default:
		return storage.NewMarkerStore(s3Client, a.cfg.Storage.DedupBucket, a.cfg.Dedup.ConditionalWrites), nil
	}
}

// Router builds the gin engine with the webhook, health and metrics routes.
func (a *App) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.Recovery(), middleware.RequestLogger())

	handler.NewWebhookHandler(a.pipeline, a.cfg.Webhook.MaxPayloadSize).Register(router, a.cfg.Webhook.Path)

	health := handler.NewHealthHandler(a.deps...)
	router.GET("/health/live", health.LivenessProbe)
	router.GET("/health/ready", health.ReadinessProbe)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	return router
}

// Serve runs the HTTP server until ctx is done, then shuts it down gracefully.
func (a *App) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(a.cfg.Server.Port),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Log.Info("Server starting",
			zap.Int("port", a.cfg.Server.Port),
			zap.String("webhookPath", a.cfg.Webhook.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close releases every client opened by Initialize.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logger.Log.Warn("Failed to close RabbitMQ publisher", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Log.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	db.Close(a.pool)
}
