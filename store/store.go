package store

import (
	"context"

	"github.com/google/uuid"

	"ragbase/types"
)

// DocumentStore owns document state and chunk sets. Every transition is
// conditional on the current status, so racing writers cannot move a
// document backwards or out of a terminal state.
type DocumentStore interface {
	// CreateDocument inserts a PENDING document. It returns types.ErrDuplicateContent
	// when a document that is not FAILED already has the same content hash.
	CreateDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error)
	// MarkProcessing moves PENDING to PROCESSING and reports whether it did.
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	// RequeueForRetry moves PROCESSING back to PENDING and bumps the retry counter.
	RequeueForRetry(ctx context.Context, id uuid.UUID) (bool, error)
	// CompleteDocument stores all chunks and marks the document COMPLETED in one
	// transaction. It returns types.ErrAlreadyTerminal without writing anything
	// when the document is already COMPLETED or FAILED.
	CompleteDocument(ctx context.Context, id uuid.UUID, result Completion) error
	// FailDocument marks a non-terminal document FAILED. It returns
	// types.ErrAlreadyTerminal when the document is already COMPLETED or FAILED.
	FailDocument(ctx context.Context, id uuid.UUID, reason, detail string) error
	CountChunks(ctx context.Context, id uuid.UUID) (int, error)
}

// VectorIndex answers nearest-neighbour queries over stored chunks. Results
// are ordered by descending cosine similarity.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, k int) ([]types.SearchResult, error)
}

type Store interface {
	DocumentStore
	VectorIndex
	Close() error
}

type Completion struct {
	Chunks    []types.Chunk
	Warnings  []string
	PageCount int
	Metrics   *types.ProcessingMetrics
}
