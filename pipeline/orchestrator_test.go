package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragbase/blob"
	"ragbase/chunker"
	"ragbase/model"
	"ragbase/quality"
	"ragbase/store"
	"ragbase/types"
)

type fakeQueue struct {
	mu       sync.Mutex
	failures int // publishes left to fail, negative fails forever
	jobs     []types.ProcessingJob
	attempts int
}

func (q *fakeQueue) Publish(_ context.Context, job types.ProcessingJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts++
	if q.failures != 0 {
		if q.failures > 0 {
			q.failures--
		}
		return fmt.Errorf("%w: broker down", types.ErrQueueUnavailable)
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) published() []types.ProcessingJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]types.ProcessingJob(nil), q.jobs...)
}

type fixture struct {
	orch  *Orchestrator
	store *store.MemoryStore
	queue *fakeQueue
}

// flakyStore fails chosen writes of the wrapped MemoryStore.
type flakyStore struct {
	*store.MemoryStore
	mu          sync.Mutex
	requeueErrs int
	completeErr error
}

func (s *flakyStore) RequeueForRetry(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	if s.requeueErrs > 0 {
		s.requeueErrs--
		s.mu.Unlock()
		return false, errors.New("db blip")
	}
	s.mu.Unlock()
	return s.MemoryStore.RequeueForRetry(ctx, id)
}

func (s *flakyStore) CompleteDocument(ctx context.Context, id uuid.UUID, result store.Completion) error {
	if s.completeErr != nil {
		return s.completeErr
	}
	return s.MemoryStore.CompleteDocument(ctx, id, result)
}

// withDocuments swaps the document store the orchestrator writes through.
func (f *fixture) withDocuments(docs store.DocumentStore) {
	deps := f.orch.deps
	deps.Documents = docs
	f.orch = New(f.orch.cfg, deps)
}

func newFixture(t *testing.T, load model.Loader) *fixture {
	t.Helper()
	if load == nil {
		load = model.LoadHash(64)
	}
	blobs, err := blob.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond

	f := &fixture{store: store.NewMemoryStore(), queue: &fakeQueue{}}
	f.orch = New(cfg, Deps{
		Documents: f.store,
		Index:     f.store,
		Blobs:     blobs,
		Queue:     f.queue,
		Embedder:  model.NewEmbedder(load),
	})
	return f
}

func success(result *types.CallbackResult, id uuid.UUID) *types.CallbackPayload {
	ok := true
	return &types.CallbackPayload{DocumentID: id.String(), Success: &ok, Result: result}
}

func failure(code, msg string, id uuid.UUID) *types.CallbackPayload {
	ok := false
	return &types.CallbackPayload{DocumentID: id.String(), Success: &ok, Error: &types.CallbackError{Code: code, Message: msg}}
}

func TestIngest_DirectLaneCompletes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	data := []byte("The quick brown fox jumps over the lazy dog.\n")
	require.Len(t, data, 45)

	doc, err := f.orch.Ingest(ctx, Upload{Filename: "notes.txt", MediaType: "text/plain", Data: data})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, doc.Status)
	assert.Equal(t, types.LaneDirect, doc.Lane)

	report, err := f.orch.Status(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, report.ChunkCount)
	assert.Equal(t, 1, *report.ChunkCount)
	assert.Empty(t, f.queue.published())
}

func TestIngest_DuplicateRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	up := Upload{Filename: "a.md", MediaType: "text/markdown", Data: []byte("# Title\n\nSame content in both uploads.")}

	_, err := f.orch.Ingest(ctx, up)
	require.NoError(t, err)

	up.Filename = "b.md"
	doc, err := f.orch.Ingest(ctx, up)
	assert.ErrorIs(t, err, types.ErrDuplicateContent)
	assert.Nil(t, doc)
}

func TestIngest_FailedDocumentAllowsReupload(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	up := Upload{Filename: "r.pdf", MediaType: "application/pdf", Data: []byte("%PDF-1.4 not really a pdf")}

	doc, err := f.orch.Ingest(ctx, up)
	require.NoError(t, err)
	_, err = f.orch.HandleCallback(ctx, failure(types.WorkerCorruptFile, "xref table broken", doc.ID))
	require.NoError(t, err)

	again, err := f.orch.Ingest(ctx, up)
	require.NoError(t, err)
	assert.NotEqual(t, doc.ID, again.ID)
}

func TestIngest_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t, nil)
	data := []byte("Exactly one of these identical uploads may win the race.")

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		accepted   int
		duplicates int
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.Ingest(context.Background(), Upload{
				Filename: fmt.Sprintf("copy-%d.txt", i), MediaType: "text/plain", Data: data,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, types.ErrDuplicateContent):
				duplicates++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 7, duplicates)
}

func TestIngest_RejectsBeforeCreating(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.orch.cfg.MaxUploadBytes = 16

	_, err := f.orch.Ingest(ctx, Upload{Filename: "x.exe", MediaType: "application/octet-stream", Data: []byte("MZ")})
	assert.ErrorIs(t, err, types.ErrUnsupportedFormat)

	_, err = f.orch.Ingest(ctx, Upload{Filename: "big.txt", MediaType: "text/plain", Data: []byte(strings.Repeat("a", 17))})
	assert.ErrorIs(t, err, types.ErrPayloadTooLarge)

	_, err = f.orch.Ingest(ctx, Upload{Filename: "empty.txt", MediaType: "text/plain"})
	var verr types.ValidationError
	assert.ErrorAs(t, err, &verr)

	results, err := f.orch.Query(ctx, types.QueryParams{Text: "anything"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIngest_DirectLaneGateFailure(t *testing.T) {
	f := newFixture(t, nil)

	doc, err := f.orch.Ingest(context.Background(), Upload{Filename: "blank.txt", MediaType: "text/plain", Data: []byte(" \n\t\n")})
	var pe *types.ProcessingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, types.ReasonTextTooShort, pe.Reason)
	require.NotNil(t, pe.Document)
	assert.Equal(t, types.StatusFailed, pe.Document.Status)
	assert.Equal(t, types.StatusFailed, doc.Status)
}

func TestIngest_EmbeddingUnavailable(t *testing.T) {
	broken := func(context.Context) (model.Backend, error) {
		return nil, errors.New("weights missing")
	}
	f := newFixture(t, broken)
	ctx := context.Background()

	doc, err := f.orch.Ingest(ctx, Upload{Filename: "n.txt", MediaType: "text/plain", Data: []byte("some text worth embedding")})
	var pe *types.ProcessingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, types.ReasonInternalError, pe.Reason)
	assert.Equal(t, types.StatusFailed, doc.Status)
	assert.ErrorIs(t, err, types.ErrEmbeddingUnavailable)

	_, err = f.orch.Query(ctx, types.QueryParams{Text: "text"})
	assert.ErrorIs(t, err, types.ErrEmbeddingUnavailable)
}

func TestDeferredLane_CallbackCompletes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	doc, err := f.orch.Ingest(ctx, Upload{Filename: "report.pdf", MediaType: "application/pdf", Data: []byte("%PDF-1.4 report body")})
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, doc.Status)

	jobs := f.queue.published()
	require.Len(t, jobs, 1)
	assert.Equal(t, doc.ID, jobs[0].DocumentID)
	assert.Equal(t, doc.StoragePath, jobs[0].RawContentLocation)
	assert.Equal(t, types.FormatPDF, jobs[0].Format)
	assert.Equal(t, 1, jobs[0].AttemptCount)
	assert.Equal(t, types.OCRAuto, jobs[0].ExtractionConfig.OCRMode)

	// what the worker reads from the job's location is the uploaded file
	raw, err := f.orch.deps.Blobs.(*blob.DiskStore).Get(ctx, jobs[0].RawContentLocation)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 report body"), raw)

	markdown := "# Quarterly report\n\n" + strings.Repeat("Revenue grew steadily across every region this quarter. ", 40)
	outcome, err := f.orch.HandleCallback(ctx, success(&types.CallbackResult{
		Markdown: markdown, PageCount: 3, ProcessingTimeMs: 1500,
	}, doc.ID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	report, err := f.orch.Status(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, report.Status)
	assert.Equal(t, 3, report.PageCount)
	require.NotNil(t, report.ChunkCount)
	assert.Greater(t, *report.ChunkCount, 1)

	chunks := f.store.Chunks(doc.ID)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "Quarterly report", c.Heading)
		assert.Equal(t, "document", c.Quality.Type)
		assert.NotContains(t, c.Quality.Flags, quality.FlagNoContext, "the heading gives every chunk context")
		assert.Greater(t, c.Quality.Score, 0.0)
	}

	m := report.Metrics
	require.NotNil(t, m)
	assert.Equal(t, int64(1500), m.ExtractionMs)
	assert.GreaterOrEqual(t, m.TotalMs, int64(1500))
	assert.Equal(t, int64(len("%PDF-1.4 report body")), m.RawSizeBytes)
	assert.Equal(t, len(strings.TrimSpace(markdown)), m.TextChars)
	assert.Equal(t, *report.ChunkCount, m.TotalChunks)
	assert.Zero(t, m.OversizedChunks)
	assert.Greater(t, m.AvgQualityScore, 0.0)
}

func TestIngest_CSVChunkedByRows(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var sb strings.Builder
	sb.WriteString("id,name\n")
	for i := 1; i <= 45; i++ {
		fmt.Fprintf(&sb, "%d,item %d\n", i, i)
	}
	data := []byte(sb.String())

	doc, err := f.orch.Ingest(ctx, Upload{Filename: "items.csv", MediaType: "text/csv", Data: data})
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, doc.Status)

	chunks := f.store.Chunks(doc.ID)
	require.Len(t, chunks, 3, "45 rows at 20 rows per chunk, although the text fits one window")
	wantRows := []int{20, 20, 5}
	for i, c := range chunks {
		lines := strings.Split(strings.TrimSpace(c.Content), "\n")
		assert.Len(t, lines, wantRows[i])
		assert.Equal(t, "tabular", c.Quality.Type)
		assert.Equal(t, quality.CompletenessPartial, c.Quality.Completeness)
		assert.Equal(t, []string{quality.FlagNoContext, quality.FlagFragment}, c.Quality.Flags)
	}
	assert.True(t, strings.HasPrefix(chunks[0].Content, "id: 1; name: item 1\n"))
	assert.True(t, strings.HasPrefix(chunks[1].Content, "id: 21; name: item 21\n"))

	report, err := f.orch.Status(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, report.Metrics)
	assert.Equal(t, 3, report.Metrics.TotalChunks)
	assert.Equal(t, int64(len(data)), report.Metrics.RawSizeBytes)
	assert.Equal(t, map[string]int{quality.FlagNoContext: 3, quality.FlagFragment: 3}, report.Metrics.QualityFlags)
}

func TestDeferredLane_PresentationChunkedBySlides(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	doc, err := f.orch.Ingest(ctx, Upload{
		Filename:  "deck.pptx",
		MediaType: "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		Data:      []byte("PK deck"),
	})
	require.NoError(t, err)

	body := strings.TrimSpace(strings.Repeat("growth plan ", 9))
	slides := make([]string, 4)
	for i := range slides {
		slides[i] = fmt.Sprintf("# Slide %d\n\n%s", i+1, body)
	}
	markdown := strings.Join(slides, "\n"+chunker.SlideMarker+"\n")

	_, err = f.orch.HandleCallback(ctx, success(&types.CallbackResult{Markdown: markdown, PageCount: 4}, doc.ID))
	require.NoError(t, err)

	chunks := f.store.Chunks(doc.ID)
	require.Len(t, chunks, 2, "short slides are grouped in pairs")
	assert.Equal(t, "Slide 1", chunks[0].Heading)
	assert.Equal(t, "Slide 3", chunks[1].Heading)
	for _, c := range chunks {
		assert.Equal(t, "presentation", c.Quality.Type)
		assert.True(t, c.Quality.HasTitle)
	}
	assert.Contains(t, chunks[0].Content, "# Slide 2")
}

func TestDeferredLane_CallbackIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	doc, err := f.orch.Ingest(ctx, Upload{Filename: "a.docx", MediaType: "", Data: []byte("PK docx bytes")})
	require.NoError(t, err)

	payload := success(&types.CallbackResult{Markdown: strings.Repeat("Stable content for a repeated callback. ", 5)}, doc.ID)
	outcome, err := f.orch.HandleCallback(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	first := f.store.Chunks(doc.ID)

	outcome, err = f.orch.HandleCallback(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	outcome, err = f.orch.HandleCallback(ctx, failure(types.WorkerTimeout, "late failure", doc.ID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	assert.Equal(t, first, f.store.Chunks(doc.ID))
	got, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
}

func TestDeferredLane_WorkerFailureRecorded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	doc, err := f.orch.Ingest(ctx, Upload{Filename: "locked.pdf", MediaType: "application/pdf", Data: []byte("%PDF-1.7 locked")})
	require.NoError(t, err)

	outcome, err := f.orch.HandleCallback(ctx, failure(types.WorkerPasswordProtected, "document requires a password", doc.ID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	report, err := f.orch.Status(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, report.Status)
	assert.Equal(t, types.WorkerPasswordProtected, report.FailReason)
	assert.Equal(t, "document requires a password", report.FailDetail)
	assert.Nil(t, report.ChunkCount)
}

func TestDeferredLane_QualityGate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	noisy, err := f.orch.Ingest(ctx, Upload{Filename: "scan.pdf", MediaType: "application/pdf", Data: []byte("%PDF scan")})
	require.NoError(t, err)
	_, err = f.orch.HandleCallback(ctx, success(&types.CallbackResult{Markdown: strings.Repeat("@#$%&*!? ", 20)}, noisy.ID))
	require.NoError(t, err)
	got, err := f.store.GetDocument(ctx, noisy.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, types.ReasonExcessiveNoise, got.FailReason)

	for _, markdown := range []string{"", "too short"} {
		short, err := f.orch.Ingest(ctx, Upload{Filename: "tiny.pdf", MediaType: "application/pdf", Data: []byte("%PDF tiny " + markdown)})
		require.NoError(t, err)
		outcome, err := f.orch.HandleCallback(ctx, success(&types.CallbackResult{Markdown: markdown}, short.ID))
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
		got, err = f.store.GetDocument(ctx, short.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, got.Status)
		assert.Equal(t, types.ReasonTextTooShort, got.FailReason, "markdown %q", markdown)
		assert.Empty(t, f.store.Chunks(short.ID))
	}

	warned, err := f.orch.Ingest(ctx, Upload{Filename: "mixed.pdf", MediaType: "application/pdf", Data: []byte("%PDF mixed")})
	require.NoError(t, err)
	_, err = f.orch.HandleCallback(ctx, success(&types.CallbackResult{Markdown: strings.Repeat("ok !@#$%& ", 10)}, warned.ID))
	require.NoError(t, err)
	got, err = f.store.GetDocument(ctx, warned.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, []string{types.WarningHighNoise}, got.Warnings)
}

func TestDeferredLane_PageAttribution(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	doc, err := f.orch.Ingest(ctx, Upload{Filename: "book.epub", MediaType: "application/epub+zip", Data: []byte("epub bytes")})
	require.NoError(t, err)

	result := &types.CallbackResult{
		Pages: []types.PageText{
			{Page: 1, Text: strings.Repeat("alpha beta gamma delta ", 65)},
			{Page: 2, Text: strings.Repeat("omega sigma theta kappa ", 65)},
		},
	}
	_, err = f.orch.HandleCallback(ctx, success(result, doc.ID))
	require.NoError(t, err)

	chunks := f.store.Chunks(doc.ID)
	require.Greater(t, len(chunks), 2)
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 2, chunks[len(chunks)-1].Page)

	got, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.PageCount)
}

func TestDispatch_RetriesThenSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	f.queue.failures = 1
	ctx := context.Background()

	doc, err := f.orch.Ingest(ctx, Upload{Filename: "slides.pptx", MediaType: "", Data: []byte("pptx bytes")})
	require.NoError(t, err)
	f.orch.Wait()

	got, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	jobs := f.queue.published()
	require.Len(t, jobs, 1)
	assert.Equal(t, 2, jobs[0].AttemptCount)
}

func TestDispatch_RetriesExhausted(t *testing.T) {
	f := newFixture(t, nil)
	f.queue.failures = -1
	ctx := context.Background()

	doc, err := f.orch.Ingest(ctx, Upload{Filename: "sheet.xlsx", MediaType: "", Data: []byte("xlsx bytes")})
	require.NoError(t, err)
	f.orch.Wait()

	report, err := f.orch.Status(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, report.Status)
	assert.Equal(t, "retries exhausted", report.FailReason)
	assert.Contains(t, report.FailDetail, "broker down")
	assert.Equal(t, 3, report.RetryCount)
	assert.Equal(t, 3, f.queue.attempts)
}

func TestDispatch_RequeueFailureFailsDocument(t *testing.T) {
	f := newFixture(t, nil)
	f.queue.failures = -1
	f.withDocuments(&flakyStore{MemoryStore: f.store, requeueErrs: 1})
	ctx := context.Background()

	doc, err := f.orch.Ingest(ctx, Upload{Filename: "deck.pptx", MediaType: "", Data: []byte("pptx deck bytes")})
	require.NoError(t, err)
	f.orch.Wait()

	assert.Equal(t, types.StatusFailed, doc.Status)
	got, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, types.ReasonInternalError, got.FailReason)
	assert.Contains(t, got.FailDetail, "db blip")
	assert.Equal(t, 1, f.queue.attempts, "no retry after the document was failed")
}

func TestProcess_StorageFailureFailsDocument(t *testing.T) {
	f := newFixture(t, nil)
	f.withDocuments(&flakyStore{MemoryStore: f.store, completeErr: errors.New("tx aborted")})
	ctx := context.Background()

	doc, err := f.orch.Ingest(ctx, Upload{Filename: "notes.md", MediaType: "text/markdown", Data: []byte("# Notes\n\nEnough text to be chunked and embedded.")})
	var pe *types.ProcessingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, types.ReasonInternalError, pe.Reason)
	assert.Contains(t, pe.Detail, "tx aborted")
	require.NotNil(t, doc)
	assert.Equal(t, types.StatusFailed, doc.Status)
	assert.Empty(t, f.store.Chunks(doc.ID))

	report, err := f.orch.Status(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, report.ChunkCount)
}

func TestHandleCallback_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	ok := true
	_, err := f.orch.HandleCallback(ctx, &types.CallbackPayload{DocumentID: "not-a-uuid", Success: &ok, Result: &types.CallbackResult{}})
	var verr types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors, "documentId")

	_, err = f.orch.HandleCallback(ctx, &types.CallbackPayload{DocumentID: uuid.NewString(), Success: &ok})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors, "result")

	_, err = f.orch.HandleCallback(ctx, nil)
	assert.ErrorAs(t, err, &verr)

	_, err = f.orch.HandleCallback(ctx, failure(types.WorkerTimeout, "took too long", uuid.New()))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestQuery_RanksAndLimits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	texts := []string{
		"postgres stores vectors next to documents",
		"rabbitmq carries extraction jobs to workers",
		"the quality gate rejects noisy scans",
	}
	for i, text := range texts {
		_, err := f.orch.Ingest(ctx, Upload{Filename: fmt.Sprintf("%d.txt", i), MediaType: "text/plain", Data: []byte(text)})
		require.NoError(t, err)
	}

	results, err := f.orch.Query(ctx, types.QueryParams{Text: "rabbitmq carries extraction jobs to workers", TopK: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, texts[1], results[0].Content)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	all, err := f.orch.Query(ctx, types.QueryParams{Text: "documents"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.orch.Query(ctx, types.QueryParams{Text: "x", TopK: 101})
	var verr types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors, "topK")

	_, err = f.orch.Query(ctx, types.QueryParams{})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors, "text")
}

func TestQuery_TopKOverManyChunks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	words := strings.Fields("alpha bravo charlie delta echo foxtrot golf hotel india juliet")
	for k := 1; k <= len(words); k++ {
		text := strings.Join(words[:k], " ")
		_, err := f.orch.Ingest(ctx, Upload{Filename: fmt.Sprintf("w%d.txt", k), MediaType: "text/plain", Data: []byte(text)})
		require.NoError(t, err)
	}

	results, err := f.orch.Query(ctx, types.QueryParams{Text: strings.Join(words, " "), TopK: 3})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, strings.Join(words, " "), results[0].Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)
	for i := 1; i < len(results); i++ {
		assert.Greater(t, results[i-1].Score, results[i].Score)
	}
}

func TestQuery_ZeroVectorScoresZero(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.orch.Ingest(ctx, Upload{Filename: "a.txt", MediaType: "text/plain", Data: []byte("plain words to match")})
	require.NoError(t, err)

	results, err := f.orch.Query(ctx, types.QueryParams{Text: "?!? ... !!!", TopK: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Zero(t, results[0].Score)
	_, err = json.Marshal(results)
	assert.NoError(t, err)
}

func TestBackoff(t *testing.T) {
	o := New(Config{BackoffBase: 500 * time.Millisecond, BackoffMax: 10 * time.Second}, Deps{})
	assert.Equal(t, 500*time.Millisecond, o.backoff(1))
	assert.Equal(t, time.Second, o.backoff(2))
	assert.Equal(t, 2*time.Second, o.backoff(3))
	assert.Equal(t, 10*time.Second, o.backoff(7))
	assert.Equal(t, 10*time.Second, o.backoff(80))
}
