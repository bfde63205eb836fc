package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ragbase/types"
)

const (
	DefaultBatchSize   = 32
	DefaultParallelism = 4
)

// Backend produces raw, not necessarily normalized, vectors for a batch of texts.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Loader builds a ready Backend. It is expensive and runs at most once per Embedder.
type Loader func(ctx context.Context) (Backend, error)

// EmbedderInterface is what the pipeline needs from an embedder.
type EmbedderInterface interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder owns the shared model. The first call loads it, concurrent callers
// wait for that same load, and a failed load is remembered for the life of the process.
type Embedder struct {
	load        Loader
	batchSize   int
	parallelism int
	logger      *slog.Logger

	once    sync.Once
	backend Backend
	initErr error
}

type EmbedderOption func(*Embedder)

func WithBatchSize(n int) EmbedderOption {
	return func(e *Embedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithParallelism(n int) EmbedderOption {
	return func(e *Embedder) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

func WithLogger(l *slog.Logger) EmbedderOption {
	return func(e *Embedder) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEmbedder(load Loader, opts ...EmbedderOption) *Embedder {
	e := &Embedder{
		load:        load,
		batchSize:   DefaultBatchSize,
		parallelism: DefaultParallelism,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Warmup triggers the model load without embedding anything.
func (e *Embedder) Warmup(ctx context.Context) error {
	return e.init(ctx)
}

// Dimension loads the model if needed and returns its vector size, 0 when the load failed.
func (e *Embedder) Dimension() int {
	if e.init(context.Background()) != nil {
		return 0
	}
	return e.backend.Dimension()
}

func (e *Embedder) init(ctx context.Context) error {
	e.once.Do(func() {
		start := time.Now()
		// the load is shared by every waiter, so one caller going away must not abort it
		b, err := e.load(context.WithoutCancel(ctx))
		if err != nil {
			e.initErr = fmt.Errorf("%w: %v", types.ErrEmbeddingUnavailable, err)
			e.logger.Error("embedding model failed to load", "error", err)
			return
		}
		e.backend = b
		e.logger.Info("embedding model loaded", "dimension", b.Dimension(), "took", time.Since(start))
	})
	return e.initErr
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one normalized vector per text, in input order. The work
// is split into sub-batches of at most batchSize texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.init(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	dim := e.backend.Dimension()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for lo := 0; lo < len(texts); lo += e.batchSize {
		hi := min(lo+e.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.backend.Embed(gctx, texts[lo:hi])
			if err != nil {
				return fmt.Errorf("embed texts %d-%d: %w", lo, hi, err)
			}
			if len(vecs) != hi-lo {
				return fmt.Errorf("embed texts %d-%d: got %d vectors", lo, hi, len(vecs))
			}
			for i, v := range vecs {
				if dim > 0 && len(v) != dim {
					return fmt.Errorf("embed text %d: dimension %d, want %d", lo+i, len(v), dim)
				}
				out[lo+i] = Normalize(v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
