package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragbase/blob"
	"ragbase/chunker"
	"ragbase/content"
	"ragbase/model"
	"ragbase/quality"
	"ragbase/queue"
	"ragbase/store"
	"ragbase/types"
)

type Config struct {
	MaxUploadBytes int64
	// DirectGate judges text extracted inline; DeferredGate judges worker output.
	DirectGate   quality.Gate
	DeferredGate quality.Gate
	// ChunkQuality scores every stored chunk.
	ChunkQuality quality.ChunkAnalyzer
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	Extraction   types.ExtractionConfig
}

func DefaultConfig() Config {
	direct := quality.DefaultGate()
	direct.MinLength = 1
	return Config{
		MaxUploadBytes: 50 << 20,
		DirectGate:     direct,
		DeferredGate:   quality.DefaultGate(),
		ChunkQuality:   quality.DefaultChunkAnalyzer(),
		MaxAttempts:    3,
		BackoffBase:    500 * time.Millisecond,
		BackoffMax:     10 * time.Second,
		Extraction: types.ExtractionConfig{
			OCRMode:        types.OCRAuto,
			OCRLanguages:   []string{"eng"},
			TimeoutSeconds: 300,
		},
	}
}

// Deps are the collaborators the orchestrator sequences.
type Deps struct {
	Documents store.DocumentStore
	Index     store.VectorIndex
	Blobs     blob.Store
	Queue     queue.Publisher
	Embedder  model.EmbedderInterface
}

type TokenCounter interface {
	Count(text string) int
}

// Orchestrator is the only writer of document state. It runs the direct lane
// inline, dispatches deferred-lane jobs with bounded retries, and applies
// worker callbacks idempotently.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	chunker *chunker.Chunker
	tokens  TokenCounter
	logger  *slog.Logger
	now     func() time.Time

	inflight sync.WaitGroup
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithChunker(c *chunker.Chunker) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.chunker = c
		}
	}
}

func WithTokenCounter(t TokenCounter) Option {
	return func(o *Orchestrator) {
		o.tokens = t
	}
}

func New(cfg Config, deps Deps, opts ...Option) *Orchestrator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ChunkQuality == (quality.ChunkAnalyzer{}) {
		cfg.ChunkQuality = quality.DefaultChunkAnalyzer()
	}
	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		chunker: chunker.New(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type Upload struct {
	Filename  string
	MediaType string
	Data      []byte
}

// Ingest accepts an upload. Errors before the document exists leave no trace.
// For the direct lane a processing failure is recorded on the document and
// also returned as *types.ProcessingError together with that document.
func (o *Orchestrator) Ingest(ctx context.Context, up Upload) (*types.Document, error) {
	if len(up.Data) == 0 {
		return nil, types.NewValidationError(map[string]string{"file": "empty upload"})
	}
	if o.cfg.MaxUploadBytes > 0 && int64(len(up.Data)) > o.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", types.ErrPayloadTooLarge, len(up.Data), o.cfg.MaxUploadBytes)
	}
	format, err := content.Classify(up.MediaType, up.Filename)
	if err != nil {
		return nil, err
	}
	lane := content.LaneFor(format)

	var ex extracted
	if lane == types.LaneDirect {
		started := o.now()
		if ex.text, err = content.ExtractText(format, up.Data); err != nil {
			return nil, err
		}
		ex.extractionMs = o.now().Sub(started).Milliseconds()
	}

	now := o.now()
	doc := &types.Document{
		ID:          uuid.New(),
		Filename:    up.Filename,
		MediaType:   up.MediaType,
		SizeBytes:   int64(len(up.Data)),
		Format:      format,
		Lane:        lane,
		Status:      types.StatusPending,
		ContentHash: content.Fingerprint(up.Data),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	logCtx := o.logger.With("documentId", doc.ID, "format", format, "lane", lane)

	if format == types.FormatPDF {
		if n, err := content.PDFPageCount(up.Data); err == nil {
			doc.PageCount = n
		} else {
			logCtx.Warn("could not read pdf page count", "error", err)
		}
	}

	loc, err := o.deps.Blobs.Put(ctx, doc.ID.String()+content.Extension(format), up.Data, up.MediaType)
	if err != nil {
		return nil, fmt.Errorf("store raw content: %w", err)
	}
	doc.StoragePath = loc

	if err := o.deps.Documents.CreateDocument(ctx, doc); err != nil {
		if delErr := o.deps.Blobs.Delete(context.WithoutCancel(ctx), loc); delErr != nil {
			logCtx.Warn("could not remove raw content of rejected upload", "location", loc, "error", delErr)
		}
		if errors.Is(err, types.ErrDuplicateContent) {
			logCtx.Info("duplicate upload rejected", "contentHash", doc.ContentHash)
		}
		return nil, err
	}
	logCtx.Info("document accepted", "filename", doc.Filename, "size", doc.SizeBytes)

	// once the document exists its outcome must be recorded even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	if lane == types.LaneDirect {
		return o.runDirect(ctx, doc, ex, logCtx)
	}
	o.dispatch(ctx, doc, logCtx)
	return o.deps.Documents.GetDocument(ctx, doc.ID)
}

func (o *Orchestrator) runDirect(ctx context.Context, doc *types.Document, ex extracted, logCtx *slog.Logger) (*types.Document, error) {
	var procErr error
	if _, err := o.deps.Documents.MarkProcessing(ctx, doc.ID); err != nil {
		procErr = o.fail(ctx, doc.ID, types.ReasonInternalError, err.Error(), err, logCtx)
	} else {
		procErr = o.process(ctx, doc, ex, o.cfg.DirectGate, logCtx)
	}

	latest, err := o.deps.Documents.GetDocument(ctx, doc.ID)
	if err != nil {
		return nil, errors.Join(procErr, err)
	}
	var pe *types.ProcessingError
	if errors.As(procErr, &pe) {
		pe.Document = latest
	}
	return latest, procErr
}

// Status reports the document state. ChunkCount is only filled in once COMPLETED.
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID) (*types.StatusReport, error) {
	doc, err := o.deps.Documents.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	report := &types.StatusReport{
		ID:         doc.ID,
		Filename:   doc.Filename,
		Status:     doc.Status,
		RetryCount: doc.RetryCount,
		FailReason: doc.FailReason,
		FailDetail: doc.FailDetail,
		Warnings:   doc.Warnings,
		PageCount:  doc.PageCount,
		Metrics:    doc.Metrics,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
	if doc.Status == types.StatusCompleted {
		n, err := o.deps.Documents.CountChunks(ctx, id)
		if err != nil {
			return nil, err
		}
		report.ChunkCount = &n
	}
	return report, nil
}

// Query embeds the query text and returns the closest stored chunks.
func (o *Orchestrator) Query(ctx context.Context, params types.QueryParams) ([]types.SearchResult, error) {
	if errs := types.Validate(&params); len(errs) > 0 {
		return nil, types.NewValidationError(errs)
	}
	vec, err := o.deps.Embedder.Embed(ctx, params.Text)
	if err != nil {
		return nil, err
	}
	results, err := o.deps.Index.Search(ctx, vec, params.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return results, nil
}

// Wait blocks until background dispatch retries have finished.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}
