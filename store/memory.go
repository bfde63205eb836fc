package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragbase/model"
	"ragbase/types"
)

// MemoryStore keeps everything in process memory and searches by brute force.
// It has the same transition rules as PostgresStore.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[uuid.UUID]*types.Document
	order  []uuid.UUID
	hashes map[string]uuid.UUID // content hash of every document that is not FAILED
	chunks map[uuid.UUID][]types.Chunk
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[uuid.UUID]*types.Document),
		hashes: make(map[string]uuid.UUID),
		chunks: make(map[uuid.UUID][]types.Chunk),
		now:    time.Now,
	}
}

func (m *MemoryStore) CreateDocument(_ context.Context, doc *types.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	if doc.Status != types.StatusFailed {
		if _, taken := m.hashes[doc.ContentHash]; taken {
			return fmt.Errorf("%w: content %s", types.ErrDuplicateContent, doc.ContentHash)
		}
		m.hashes[doc.ContentHash] = doc.ID
	}
	m.docs[doc.ID] = cloneDocument(doc)
	m.order = append(m.order, doc.ID)
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id uuid.UUID) (*types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	return cloneDocument(doc), nil
}

func (m *MemoryStore) MarkProcessing(_ context.Context, id uuid.UUID) (bool, error) {
	return m.transition(id, types.StatusPending, func(d *types.Document) {
		d.Status = types.StatusProcessing
	})
}

func (m *MemoryStore) RequeueForRetry(_ context.Context, id uuid.UUID) (bool, error) {
	return m.transition(id, types.StatusProcessing, func(d *types.Document) {
		d.Status = types.StatusPending
		d.RetryCount++
	})
}

func (m *MemoryStore) transition(id uuid.UUID, from types.Status, apply func(*types.Document)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return false, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	if doc.Status != from {
		return false, nil
	}
	apply(doc)
	doc.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) CompleteDocument(_ context.Context, id uuid.UUID, result Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	if doc.Status.Terminal() {
		return fmt.Errorf("document %s is %s: %w", id, doc.Status, types.ErrAlreadyTerminal)
	}
	seen := make(map[int]bool, len(result.Chunks))
	for _, c := range result.Chunks {
		if seen[c.Index] {
			return fmt.Errorf("duplicate chunk index %d", c.Index)
		}
		if c.CharStart < 0 || c.CharStart >= c.CharEnd {
			return fmt.Errorf("chunk %d has invalid offsets [%d, %d)", c.Index, c.CharStart, c.CharEnd)
		}
		seen[c.Index] = true
	}

	now := m.now()
	chunks := make([]types.Chunk, len(result.Chunks))
	for i, c := range result.Chunks {
		c.DocumentID = id
		c.Embedding = slices.Clone(c.Embedding)
		c.Quality.Flags = slices.Clone(c.Quality.Flags)
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		chunks[i] = c
	}
	m.chunks[id] = chunks
	doc.Status = types.StatusCompleted
	doc.Warnings = slices.Clone(result.Warnings)
	doc.PageCount = result.PageCount
	doc.Metrics = cloneMetrics(result.Metrics)
	doc.UpdatedAt = now
	return nil
}

func (m *MemoryStore) FailDocument(_ context.Context, id uuid.UUID, reason, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	if doc.Status.Terminal() {
		return fmt.Errorf("document %s is %s: %w", id, doc.Status, types.ErrAlreadyTerminal)
	}
	if reason == "" {
		reason = types.ReasonInternalError
	}
	doc.Status = types.StatusFailed
	doc.FailReason = reason
	doc.FailDetail = detail
	doc.UpdatedAt = m.now()
	if m.hashes[doc.ContentHash] == id {
		delete(m.hashes, doc.ContentHash)
	}
	return nil
}

func (m *MemoryStore) CountChunks(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[id]), nil
}

func (m *MemoryStore) Search(_ context.Context, query []float32, k int) ([]types.SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		candidates [][]float32
		refs       []types.Chunk
	)
	for _, id := range m.order {
		if m.docs[id].Status != types.StatusCompleted {
			continue
		}
		for _, c := range m.chunks[id] {
			candidates = append(candidates, c.Embedding)
			refs = append(refs, c)
		}
	}

	ranked := model.TopK(query, candidates, k)
	results := make([]types.SearchResult, len(ranked))
	for i, r := range ranked {
		c := refs[r.Index]
		results[i] = types.SearchResult{
			Content:    c.Content,
			Score:      r.Score,
			DocumentID: c.DocumentID,
			ChunkIndex: c.Index,
			Metadata: types.ChunkMetadata{
				CharStart:    c.CharStart,
				CharEnd:      c.CharEnd,
				Page:         c.Page,
				Heading:      c.Heading,
				TokenCount:   c.TokenCount,
				ChunkQuality: c.Quality,
			},
		}
	}
	return results, nil
}

// Chunks returns a copy of the stored chunk set of a document.
func (m *MemoryStore) Chunks(id uuid.UUID) []types.Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.chunks[id])
}

func (m *MemoryStore) Close() error {
	return nil
}

func cloneDocument(d *types.Document) *types.Document {
	c := *d
	c.Warnings = slices.Clone(d.Warnings)
	c.Metrics = cloneMetrics(d.Metrics)
	return &c
}

func cloneMetrics(m *types.ProcessingMetrics) *types.ProcessingMetrics {
	if m == nil {
		return nil
	}
	c := *m
	c.QualityFlags = maps.Clone(m.QualityFlags)
	return &c
}
