// Package bootstrap builds the shared dependency graph for the API server and
// the drop-folder loader from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"ragbase/blob"
	"ragbase/chunker"
	"ragbase/config"
	"ragbase/model"
	"ragbase/pipeline"
	"ragbase/queue"
	"ragbase/store"
)

type App struct {
	Config       config.Config
	Profile      *config.Profile
	Logger       *slog.Logger
	Store        store.Store
	Blobs        blob.Store
	Queue        queue.Publisher
	Embedder     *model.Embedder
	Orchestrator *pipeline.Orchestrator
	// Redis is nil when rate limiting is not configured.
	Redis *redis.Client

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	var err error
	if a.Profile, err = config.LoadProfile(a.Config.ProfilePath); err != nil {
		return fmt.Errorf("load pipeline profile %s: %w", a.Config.ProfilePath, err)
	}
	if err := a.openStore(ctx); err != nil {
		return err
	}
	if err := a.openBlobs(ctx); err != nil {
		return err
	}
	if err := a.openQueue(); err != nil {
		return err
	}
	if err := a.openRedis(ctx); err != nil {
		return err
	}
	a.Embedder = model.NewEmbedder(a.loader(),
		model.WithBatchSize(a.Config.Embedding.BatchSize),
		model.WithLogger(a.Logger),
	)
	a.Orchestrator = a.newOrchestrator()
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.StoreDriver {
	case "memory":
		a.Logger.Warn("using in-memory store, documents are lost on restart")
		a.Store = store.NewMemoryStore()
	case "postgres", "":
		pg, err := store.NewPostgresStore(ctx, a.Config.Postgres.DSN(), a.Config.Embedding.Dimension)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		a.Store = pg
		a.closers = append(a.closers, pg.Close)
		if err := pg.Init(ctx); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", a.Config.StoreDriver)
	}
	return nil
}

func (a *App) openBlobs(ctx context.Context) error {
	var err error
	switch a.Config.BlobDriver {
	case "minio", "s3":
		s3 := a.Config.S3
		a.Blobs, err = blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  s3.Endpoint,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Bucket:    s3.Bucket,
			Secure:    s3.UseSSL,
		})
	case "disk", "":
		a.Blobs, err = blob.NewDiskStore(a.Config.BlobDir)
	default:
		err = fmt.Errorf("unknown BLOB_DRIVER %q", a.Config.BlobDriver)
	}
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	return nil
}

func (a *App) openQueue() error {
	q := a.Config.Queue
	if q.URL == "" {
		a.Logger.Warn("RABBITMQ_URL is not set, deferred-lane documents will fail after retries")
		a.Queue = queue.Disabled{}
		return nil
	}
	pub, err := queue.DialRabbit(queue.RabbitConfig{
		URL:        q.URL,
		Exchange:   q.Exchange,
		RoutingKey: q.RoutingKey,
		Queue:      q.Name,
	})
	if err != nil {
		return err
	}
	a.Queue = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	rl := a.Config.RateLimit
	if rl.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: rl.RedisAddr,
		DB:   rl.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("connect to redis %s: %w", rl.RedisAddr, err)
	}
	a.Redis = client
	a.closers = append(a.closers, client.Close)
	return nil
}

func (a *App) loader() model.Loader {
	emb := a.Config.Embedding
	if emb.Driver == "hash" {
		return model.LoadHash(emb.Dimension)
	}
	return model.LoadOllama(emb.URL, emb.Model, emb.Timeout)
}

func (a *App) newOrchestrator() *pipeline.Orchestrator {
	p := a.Profile
	cfg := pipeline.Config{
		MaxUploadBytes: a.Config.MaxUploadBytes,
		DirectGate:     p.Quality.Direct,
		DeferredGate:   p.Quality.Deferred,
		ChunkQuality:   p.Quality.Chunks,
		MaxAttempts:    p.Dispatch.MaxAttempts,
		BackoffBase:    p.Dispatch.BackoffBase,
		BackoffMax:     p.Dispatch.BackoffMax,
		Extraction:     p.Extraction,
	}
	opts := []pipeline.Option{
		pipeline.WithLogger(a.Logger),
		pipeline.WithChunker(chunker.New(
			chunker.WithChunkSize(p.Chunker.ChunkSize),
			chunker.WithOverlap(p.Chunker.Overlap),
			chunker.WithRowsPerChunk(p.Chunker.RowsPerChunk),
			chunker.WithSlideMinChars(p.Chunker.SlideMinChars),
		)),
	}
	if tc, err := chunker.NewTokenCounter(p.Chunker.TokenEncoding); err != nil {
		a.Logger.Warn("token counting disabled", "encoding", p.Chunker.TokenEncoding, "error", err)
	} else {
		opts = append(opts, pipeline.WithTokenCounter(tc))
	}

	return pipeline.New(cfg, pipeline.Deps{
		Documents: a.Store,
		Index:     a.Store,
		Blobs:     a.Blobs,
		Queue:     a.Queue,
		Embedder:  a.Embedder,
	}, opts...)
}

// Warmup loads the embedding model ahead of the first request and checks that
// its vectors fit the configured column width.
func (a *App) Warmup(ctx context.Context) {
	if err := a.Embedder.Warmup(ctx); err != nil {
		a.Logger.Error("embedding model failed to load", "error", err)
		return
	}
	if dim := a.Embedder.Dimension(); dim != a.Config.Embedding.Dimension {
		a.Logger.Error("embedding dimension does not match EMBEDDING_DIM",
			"model", dim, "configured", a.Config.Embedding.Dimension)
		return
	}
	a.Logger.Info("embedding model ready", "dimension", a.Config.Embedding.Dimension)
}

// Pings returns the readiness checks for the connections this App opened.
func (a *App) Pings() map[string]func(context.Context) error {
	pings := map[string]func(context.Context) error{
		"embedding": a.Embedder.Warmup,
	}
	if p, ok := a.Store.(interface{ Ping(context.Context) error }); ok {
		pings["store"] = p.Ping
	}
	if a.Redis != nil {
		pings["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return pings
}

// Close waits for background dispatches and releases connections in reverse order.
func (a *App) Close() error {
	if a.Orchestrator != nil {
		a.Orchestrator.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
