package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragbase/types"
)

func newDoc(hash string) *types.Document {
	now := time.Now()
	return &types.Document{
		ID:          uuid.New(),
		Filename:    "note.txt",
		MediaType:   "text/plain",
		SizeBytes:   42,
		Format:      types.FormatTXT,
		Lane:        types.LaneDirect,
		Status:      types.StatusPending,
		StoragePath: "/tmp/blob",
		ContentHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMemoryStore_Dedup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := newDoc("abc")
	require.NoError(t, s.CreateDocument(ctx, first))

	err := s.CreateDocument(ctx, newDoc("abc"))
	assert.ErrorIs(t, err, types.ErrDuplicateContent)

	// a failed document frees its hash
	require.NoError(t, s.FailDocument(ctx, first.ID, types.ReasonTextTooShort, ""))
	assert.NoError(t, s.CreateDocument(ctx, newDoc("abc")))
}

func TestMemoryStore_ConcurrentDuplicateUploads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		dups int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateDocument(ctx, newDoc("same-bytes"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
			} else if assert.ErrorIs(t, err, types.ErrDuplicateContent) {
				dups++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, oks)
	assert.Equal(t, 15, dups)
}

func TestMemoryStore_Transitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	doc := newDoc("h1")
	require.NoError(t, s.CreateDocument(ctx, doc))

	ok, err := s.RequeueForRetry(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, ok, "requeue only applies to PROCESSING")

	ok, err = s.MarkProcessing(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkProcessing(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.RequeueForRetry(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	_, err = s.GetDocument(ctx, uuid.New())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMemoryStore_CompleteIsAtomicAndFinal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	doc := newDoc("h2")
	require.NoError(t, s.CreateDocument(ctx, doc))

	bad := Completion{Chunks: []types.Chunk{
		{ID: uuid.New(), Index: 0, Content: "a", Embedding: []float32{1, 0}, CharStart: 0, CharEnd: 1},
		{ID: uuid.New(), Index: 0, Content: "b", Embedding: []float32{0, 1}, CharStart: 1, CharEnd: 2},
	}}
	require.Error(t, s.CompleteDocument(ctx, doc.ID, bad))
	n, _ := s.CountChunks(ctx, doc.ID)
	assert.Zero(t, n, "rejected chunk set leaves nothing behind")

	good := Completion{
		Chunks: []types.Chunk{
			{ID: uuid.New(), Index: 0, Content: "a", Embedding: []float32{1, 0}, CharStart: 0, CharEnd: 1},
			{ID: uuid.New(), Index: 1, Content: "b", Embedding: []float32{0, 1}, CharStart: 1, CharEnd: 2},
		},
		Warnings: []string{types.WarningHighNoise},
	}
	require.NoError(t, s.CompleteDocument(ctx, doc.ID, good))
	n, _ = s.CountChunks(ctx, doc.ID)
	assert.Equal(t, 2, n)

	assert.ErrorIs(t, s.CompleteDocument(ctx, doc.ID, good), types.ErrAlreadyTerminal)
	assert.ErrorIs(t, s.FailDocument(ctx, doc.ID, "TIMEOUT", "late"), types.ErrAlreadyTerminal)

	got, _ := s.GetDocument(ctx, doc.ID)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, []string{types.WarningHighNoise}, got.Warnings)
	assert.Empty(t, got.FailReason)
}

func TestMemoryStore_Search(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	done := newDoc("h3")
	require.NoError(t, s.CreateDocument(ctx, done))
	quality := types.ChunkQuality{Score: 0.62, Flags: []string{"TOO_SHORT", "FRAGMENT"}, Completeness: "partial", Type: "document"}
	metrics := &types.ProcessingMetrics{TotalChunks: 3, QualityFlags: map[string]int{"TOO_SHORT": 3}}
	require.NoError(t, s.CompleteDocument(ctx, done.ID, Completion{Metrics: metrics, Chunks: []types.Chunk{
		{ID: uuid.New(), Index: 0, Content: "east", Embedding: []float32{1, 0}, CharStart: 0, CharEnd: 4},
		{ID: uuid.New(), Index: 1, Content: "north", Embedding: []float32{0, 1}, CharStart: 4, CharEnd: 9, Heading: "Map", Page: 2,
			TokenCount: 1, Quality: quality},
		{ID: uuid.New(), Index: 2, Content: "north-east", Embedding: []float32{0.7071, 0.7071}, CharStart: 9, CharEnd: 19},
	}}))

	pending := newDoc("h4")
	require.NoError(t, s.CreateDocument(ctx, pending))

	results, err := s.Search(ctx, []float32{0, 1}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "north", results[0].Content)
	assert.Equal(t, "north-east", results[1].Content)
	assert.Equal(t, done.ID, results[0].DocumentID)
	assert.Equal(t, types.ChunkMetadata{
		CharStart: 4, CharEnd: 9, Page: 2, Heading: "Map", TokenCount: 1, ChunkQuality: quality,
	}, results[0].Metadata)
	assert.Greater(t, results[0].Score, results[1].Score)

	_, err = s.Search(ctx, nil, 2)
	assert.Error(t, err)

	metrics.QualityFlags["TOO_SHORT"] = 99
	got, err := s.GetDocument(ctx, done.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Metrics)
	assert.Equal(t, 3, got.Metrics.TotalChunks)
	assert.Equal(t, 3, got.Metrics.QualityFlags["TOO_SHORT"], "stored metrics do not alias the caller's")
}
