package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"ragbase/content"
	"ragbase/quality"
	"ragbase/store"
	"ragbase/types"
)

// extracted is text ready for the gate, with optional page boundaries.
type extracted struct {
	text       string
	pageStarts []int // rune offset where each page begins
	pages      []int
	pageCount  int
	// extractionMs is how long producing text took, as far as it is known.
	extractionMs int64
}

func (e extracted) pageAt(offset int) int {
	i := sort.SearchInts(e.pageStarts, offset+1) - 1
	if i < 0 {
		return 0
	}
	return e.pages[i]
}

func fromResult(r *types.CallbackResult) extracted {
	if len(r.Pages) == 0 {
		return extracted{text: content.Sanitize(r.Markdown), pageCount: r.PageCount, extractionMs: r.ProcessingTimeMs}
	}

	var (
		sb     strings.Builder
		ex     extracted
		offset int
	)
	for i, p := range r.Pages {
		if i > 0 {
			sb.WriteString("\n\n")
			offset += 2
		}
		text := content.Sanitize(p.Text)
		ex.pageStarts = append(ex.pageStarts, offset)
		ex.pages = append(ex.pages, p.Page)
		sb.WriteString(text)
		offset += utf8.RuneCountInString(text)
	}
	ex.text = sb.String()
	ex.pageCount = max(r.PageCount, len(r.Pages))
	ex.extractionMs = r.ProcessingTimeMs
	return ex
}

// process runs gate, chunker, embedder and store for one document. Failures
// are recorded on the document and come back as *types.ProcessingError.
// types.ErrAlreadyTerminal means another writer finished the document first.
func (o *Orchestrator) process(ctx context.Context, doc *types.Document, ex extracted, gate quality.Gate, logCtx *slog.Logger) error {
	clock := stageClock{started: o.now()}
	verdict := gate.Check(ex.text)
	if !verdict.Passed {
		logCtx.Info("quality gate rejected text",
			"reason", verdict.Reason, "contentLength", verdict.ContentLength, "noiseRatio", verdict.NoiseRatio)
		return o.fail(ctx, doc.ID, verdict.Reason, verdict.Detail, nil, logCtx)
	}

	kind := content.ChunkKind(doc.Format)
	windows := o.chunker.SplitAs(kind, ex.text)
	clock.chunked = o.now()
	texts := make([]string, len(windows))
	for i, w := range windows {
		texts[i] = w.Content
	}
	vecs, err := o.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		logCtx.Error("embedding failed", "chunks", len(texts), "error", err)
		return o.fail(ctx, doc.ID, types.ReasonInternalError, err.Error(), err, logCtx)
	}
	clock.embedded = o.now()

	now := o.now()
	chunks := make([]types.Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = types.Chunk{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			Index:      w.Index,
			Content:    w.Content,
			Embedding:  vecs[i],
			CharStart:  w.CharStart,
			CharEnd:    w.CharEnd,
			Page:       ex.pageAt(w.CharStart),
			Heading:    w.Heading,
			CreatedAt:  now,
		}
		if o.tokens != nil {
			chunks[i].TokenCount = o.tokens.Count(w.Content)
		}
		r := o.cfg.ChunkQuality.Analyze(w.Content, w.Heading)
		chunks[i].Quality = types.ChunkQuality{
			Score:        r.Score,
			Flags:        r.Flags,
			HasTitle:     r.HasTitle,
			Completeness: r.Completeness,
			Type:         string(kind),
		}
	}
	metrics := summarize(doc, ex, chunks, o.chunker.ChunkSize(), clock, o.now())

	pageCount := ex.pageCount
	if pageCount == 0 {
		pageCount = doc.PageCount
	}
	err = o.deps.Documents.CompleteDocument(ctx, doc.ID, store.Completion{
		Chunks:    chunks,
		Warnings:  verdict.Warnings,
		PageCount: pageCount,
		Metrics:   metrics,
	})
	switch {
	case err == nil:
		logCtx.Info("document completed",
			"chunks", len(chunks), "chunkType", kind, "warnings", verdict.Warnings,
			"avgQualityScore", metrics.AvgQualityScore, "totalMs", metrics.TotalMs)
		return nil
	case errors.Is(err, types.ErrAlreadyTerminal):
		return err
	default:
		logCtx.Error("storing chunks failed", "error", err)
		return o.fail(ctx, doc.ID, types.ReasonInternalError, err.Error(), err, logCtx)
	}
}

// fail records a terminal failure. It returns *types.ProcessingError when the
// failure was written, types.ErrAlreadyTerminal when the document was already
// finished, and a plain error when the store could not be updated.
func (o *Orchestrator) fail(ctx context.Context, id uuid.UUID, reason, detail string, cause error, logCtx *slog.Logger) error {
	if err := o.deps.Documents.FailDocument(ctx, id, reason, detail); err != nil {
		if errors.Is(err, types.ErrAlreadyTerminal) {
			return err
		}
		logCtx.Error("could not record failure", "reason", reason, "error", err)
		return fmt.Errorf("record %s failure: %w", reason, err)
	}
	logCtx.Warn("document failed", "reason", reason, "detail", detail)
	return &types.ProcessingError{Reason: reason, Detail: detail, Err: cause}
}
