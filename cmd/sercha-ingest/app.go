package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-ingest/internal/activities"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/ai"
	badgercache "github.com/custodia-labs/sercha-ingest/internal/adapters/driven/badger"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/fetch"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/memory"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/pgvector"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/postgres"
	nsqqueue "github.com/custodia-labs/sercha-ingest/internal/adapters/driven/queue/nsq"
	postgresqueue "github.com/custodia-labs/sercha-ingest/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/sercha-ingest/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/sercha-ingest/internal/adapters/driven/redis"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/weaviate"
	httpadapter "github.com/custodia-labs/sercha-ingest/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-ingest/internal/config"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/core/services"
	"github.com/custodia-labs/sercha-ingest/internal/dedup"
	"github.com/custodia-labs/sercha-ingest/internal/engine"
	"github.com/custodia-labs/sercha-ingest/internal/pipeline"
	"github.com/custodia-labs/sercha-ingest/internal/postprocessors"
	"github.com/custodia-labs/sercha-ingest/internal/runtime"
	"github.com/custodia-labs/sercha-ingest/internal/worker"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// app holds every adapter and service selected by the configuration
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db    *postgres.DB
	redis *redis.Client

	events    driven.EventStore
	chunks    driven.ChunkStore
	taskQueue driven.TaskQueue
	cache     driven.EmbeddingCache
	lock      driven.DistributedLock
	vectors   driven.VectorStore
	fetcher   driven.DocumentFetcher
	services  *runtime.Services

	engine    *engine.Engine
	ingestion driving.IngestionService
	registry  *worker.Registry

	checks  map[string]httpadapter.Pinger
	closers []func() error
}

// newApp connects the configured backends. The caller closes the app.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		checks: make(map[string]httpadapter.Pinger),
	}
	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	if err := a.connect(ctx); err != nil {
		return err
	}
	if err := a.buildStores(); err != nil {
		return err
	}
	if err := a.buildQueue(ctx); err != nil {
		return err
	}
	if err := a.buildCache(); err != nil {
		return err
	}
	if err := a.buildVectors(ctx); err != nil {
		return err
	}
	if err := a.buildEmbedding(ctx); err != nil {
		return err
	}
	a.buildFetcher()

	a.engine = engine.New(engine.Config{
		Store:           a.events,
		Queue:           a.taskQueue,
		Definitions:     []engine.Definition{pipeline.New()},
		Logger:          logger,
		ConflictRetries: cfg.EngineConflictRetries,
	})

	layer := dedup.New(dedup.Config{
		Cache:          a.cache,
		Lock:           a.lock,
		LockTTL:        cfg.LockTTL,
		ComputeTimeout: cfg.StartToCloseTimeout,
		Logger:         logger,
	})
	acts := activities.New(activities.Config{
		Fetcher:          a.fetcher,
		Chunks:           a.chunks,
		Vectors:          a.vectors,
		Dedup:            layer,
		Services:         a.services,
		Logger:           logger,
		MaxDocumentBytes: cfg.MaxDocumentBytes,
	})
	a.registry = worker.NewRegistry()
	if err := a.registry.Register(cfg.QueueName, []string{pipeline.WorkflowType}, acts.Handlers()); err != nil {
		return fmt.Errorf("register workers: %w", err)
	}

	a.ingestion = services.NewIngestionService(services.IngestionConfig{
		Engine:  a.engine,
		Fetcher: a.fetcher,
		Options: cfg.WorkflowOptions(),
		Chunking: postprocessors.ChunkPolicy{
			MaxTokens: cfg.ChunkMaxTokens,
			Overlap:   cfg.ChunkOverlap,
		},
		Collection: cfg.VectorCollection,
		Logger:     logger,
	})

	logger.Info("backends ready",
		"store", cfg.StoreBackend,
		"queue", cfg.QueueBackend,
		"cache", cfg.CacheBackend,
		"vectors", cfg.VectorBackend,
		"embedding", cfg.EmbeddingProvider,
		"can_ingest", a.services.Config().CanIngest(),
	)
	return nil
}

func (a *app) connect(ctx context.Context) error {
	if a.cfg.NeedsPostgres() {
		if a.cfg.MigrateOnStartup {
			version, err := postgres.Migrate(a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			a.logger.Info("database migrated", "version", version)
		}
		db, err := postgres.Connect(ctx, postgres.Config{
			URL:             a.cfg.DatabaseURL,
			MaxOpenConns:    a.cfg.DBMaxOpenConns,
			MaxIdleConns:    a.cfg.DBMaxIdleConns,
			ConnMaxLifetime: a.cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: a.cfg.DBConnMaxIdleTime,
		})
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		a.checks["database"] = db
	}

	if a.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		a.checks["redis"] = pingerFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return nil
}

func (a *app) buildStores() error {
	switch a.cfg.StoreBackend {
	case config.BackendPostgres:
		a.events = postgres.NewEventStore(a.db)
		a.chunks = postgres.NewChunkStore(a.db)
	case config.BackendMemory:
		a.events = memory.NewEventStore()
		a.chunks = memory.NewChunkStore()
	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.StoreBackend)
	}

	// the dedup lock follows the most shared backend available
	switch {
	case a.redis != nil:
		a.lock = redisadapter.NewLock(a.redis, "")
	case a.db != nil:
		a.lock = postgres.NewLock(a.db)
	default:
		a.lock = memory.NewLock()
	}
	return nil
}

func (a *app) buildQueue(ctx context.Context) error {
	var (
		q   driven.TaskQueue
		err error
	)
	switch a.cfg.QueueBackend {
	case config.BackendRedis:
		host, _ := os.Hostname()
		q, err = redisqueue.NewQueue(ctx, a.redis, redisqueue.Config{
			Queue:        a.cfg.QueueName,
			ConsumerName: fmt.Sprintf("%s-%d", host, os.Getpid()),
			LeaseTimeout: a.cfg.LeaseTimeout,
		})
	case config.BackendPostgres:
		q, err = postgresqueue.NewQueue(a.db.DB, postgresqueue.Config{
			Queue:        a.cfg.QueueName,
			LeaseTimeout: a.cfg.LeaseTimeout,
		})
	case config.BackendNSQ:
		q, err = nsqqueue.NewQueue(nsqqueue.Config{
			NSQDAddress:      a.cfg.NSQDAddress,
			LookupdAddresses: a.cfg.NSQLookupd,
			Queue:            a.cfg.QueueName,
			Channel:          a.cfg.NSQChannel,
			LeaseTimeout:     a.cfg.LeaseTimeout,
			MaxInFlight:      a.cfg.NSQMaxInFlight,
			Logger:           a.logger,
		})
	case config.BackendMemory:
		q = memory.NewTaskQueue(a.cfg.LeaseTimeout)
	default:
		return fmt.Errorf("unknown queue backend %q", a.cfg.QueueBackend)
	}
	if err != nil {
		return fmt.Errorf("create task queue: %w", err)
	}
	a.taskQueue = q
	a.closers = append(a.closers, q.Close)
	a.checks["queue"] = q
	return nil
}

func (a *app) buildCache() error {
	switch a.cfg.CacheBackend {
	case config.BackendRedis:
		a.cache = redisadapter.NewEmbeddingCache(a.redis, a.cfg.CachePrefix)
	case config.BackendBadger:
		c, err := badgercache.Open(badgercache.Config{Path: a.cfg.BadgerPath, Logger: a.logger})
		if err != nil {
			return err
		}
		a.cache = c
	case config.BackendMemory:
		a.cache = memory.NewEmbeddingCache()
	default:
		return fmt.Errorf("unknown cache backend %q", a.cfg.CacheBackend)
	}
	a.closers = append(a.closers, a.cache.Close)
	a.checks["cache"] = a.cache
	return nil
}

func (a *app) buildVectors(ctx context.Context) error {
	switch a.cfg.VectorBackend {
	case config.BackendWeaviate:
		store, err := weaviate.New(weaviate.Config{
			Host:   a.cfg.WeaviateHost,
			Scheme: a.cfg.WeaviateScheme,
			APIKey: a.cfg.WeaviateAPIKey,
		})
		if err != nil {
			return err
		}
		a.vectors = store
	case config.BackendPGVector:
		store := pgvector.NewStore(a.db)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		a.vectors = store
	case config.BackendMemory:
		a.vectors = memory.NewVectorStore()
	default:
		return fmt.Errorf("unknown vector backend %q", a.cfg.VectorBackend)
	}
	a.checks["vectors"] = a.vectors
	return nil
}

func (a *app) buildEmbedding(ctx context.Context) error {
	a.services = runtime.NewServices(domain.NewRuntimeConfig(a.cfg.QueueBackend, a.cfg.CacheBackend, a.cfg.VectorBackend))
	a.closers = append(a.closers, a.services.Close)

	svc, err := ai.NewEmbeddingService(ctx, ai.Config{
		Provider:   ai.Provider(a.cfg.EmbeddingProvider),
		APIKey:     a.cfg.EmbeddingAPIKey,
		Model:      a.cfg.EmbeddingModel,
		BaseURL:    a.cfg.EmbeddingBaseURL,
		Dimensions: a.cfg.EmbeddingDimensions,
		Timeout:    a.cfg.EmbeddingTimeout,
	})
	if err != nil {
		return fmt.Errorf("create embedding service: %w", err)
	}
	if !a.cfg.EmbeddingValidate {
		a.services.SetEmbeddingService(svc)
		return nil
	}
	return a.services.ValidateAndSetEmbedding(ctx, svc)
}

func (a *app) buildFetcher() {
	a.fetcher = fetch.NewMux(
		fetch.NewFileFetcher(a.cfg.FileRoot),
		fetch.NewHTTPFetcher(nil, a.cfg.MaxDocumentBytes),
		fetch.NewS3Fetcher(fetch.S3Config{
			Region:          a.cfg.S3Region,
			Endpoint:        a.cfg.S3Endpoint,
			AccessKeyID:     a.cfg.S3AccessKeyID,
			SecretAccessKey: a.cfg.S3SecretKey,
			UsePathStyle:    a.cfg.S3UsePathStyle,
		}),
	)
}

func (a *app) newServer(version string) *httpadapter.Server {
	return httpadapter.NewServer(httpadapter.Config{
		Host:    a.cfg.Host,
		Port:    a.cfg.Port,
		Version: version,
		Logger:  a.logger,
		Checks:  a.checks,
	}, a.ingestion, a.taskQueue)
}

func (a *app) newWorker() *worker.Worker {
	return worker.NewWorker(worker.WorkerConfig{
		Queue:           a.cfg.QueueName,
		TaskQueue:       a.taskQueue,
		Engine:          a.engine,
		Registry:        a.registry,
		Logger:          a.logger,
		Concurrency:     a.cfg.WorkerConcurrency,
		Pollers:         a.cfg.WorkerPollers,
		DequeueTimeout:  a.cfg.WorkerDequeueTimeout,
		RecoverInterval: a.cfg.RecoverInterval,
	})
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
