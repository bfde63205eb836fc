package types

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Lane string

const (
	LaneDirect   Lane = "direct"
	LaneDeferred Lane = "deferred"
)

type Format string

const (
	FormatTXT  Format = "txt"
	FormatMD   Format = "md"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatPPTX Format = "pptx"
	FormatXLSX Format = "xlsx"
	FormatEPUB Format = "epub"
	FormatHTML Format = "html"
)

// Document is one ingested upload and its processing state.
type Document struct {
	ID          uuid.UUID
	Filename    string
	MediaType   string
	SizeBytes   int64
	Format      Format
	Lane        Lane
	Status      Status
	StoragePath string // location of the raw bytes in the blob store
	ContentHash string
	RetryCount  int
	FailReason  string
	FailDetail  string
	Warnings    []string
	PageCount   int
	Metrics     *ProcessingMetrics // set once COMPLETED
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Summary is what the ingest call hands back to its caller.
func (d *Document) Summary() DocumentSummary {
	return DocumentSummary{
		ID:       d.ID,
		Filename: d.Filename,
		Status:   d.Status,
		Format:   d.Format,
		Lane:     d.Lane,
	}
}

// Chunk is one embedded text window of a document. Page is 1-based, 0 when unknown.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Index      int
	Content    string
	Embedding  []float32
	CharStart  int
	CharEnd    int
	Page       int
	Heading    string
	TokenCount int
	Quality    ChunkQuality
	CreatedAt  time.Time
}

// ChunkQuality describes how usable a chunk is on its own. Type is the
// chunking strategy that produced it.
type ChunkQuality struct {
	Score        float64  `json:"qualityScore"`
	Flags        []string `json:"qualityFlags,omitempty"`
	HasTitle     bool     `json:"hasTitle"`
	Completeness string   `json:"completeness,omitempty"`
	Type         string   `json:"chunkType,omitempty"`
}

// ProcessingMetrics records the cost and outcome of processing one document.
// ExtractionMs is the worker's own figure on the deferred lane.
type ProcessingMetrics struct {
	ExtractionMs    int64          `json:"extractionMs"`
	ChunkingMs      int64          `json:"chunkingMs"`
	EmbeddingMs     int64          `json:"embeddingMs"`
	TotalMs         int64          `json:"totalMs"`
	RawSizeBytes    int64          `json:"rawSizeBytes"`
	TextChars       int            `json:"textChars"`
	TotalChunks     int            `json:"totalChunks"`
	AvgChunkChars   float64        `json:"avgChunkChars"`
	OversizedChunks int            `json:"oversizedChunks"`
	AvgQualityScore float64        `json:"avgQualityScore"`
	QualityFlags    map[string]int `json:"qualityFlags,omitempty"`
	TotalTokens     int            `json:"totalTokens"`
}

type DocumentSummary struct {
	ID       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
	Status   Status    `json:"status"`
	Format   Format    `json:"format"`
	Lane     Lane      `json:"lane"`
}

type StatusReport struct {
	ID         uuid.UUID          `json:"id"`
	Filename   string             `json:"filename"`
	Status     Status             `json:"status"`
	RetryCount int                `json:"retryCount"`
	FailReason string             `json:"failReason,omitempty"`
	FailDetail string             `json:"failDetail,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	PageCount  int                `json:"pageCount,omitempty"`
	ChunkCount *int               `json:"chunkCount,omitempty"`
	Metrics    *ProcessingMetrics `json:"metrics,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

type ChunkMetadata struct {
	CharStart  int    `json:"charStart"`
	CharEnd    int    `json:"charEnd"`
	Page       int    `json:"page,omitempty"`
	Heading    string `json:"heading,omitempty"`
	TokenCount int    `json:"tokenCount,omitempty"`
	ChunkQuality
}

type SearchResult struct {
	Content    string        `json:"content"`
	Score      float64       `json:"score"`
	DocumentID uuid.UUID     `json:"documentId"`
	ChunkIndex int           `json:"chunkIndex"`
	Metadata   ChunkMetadata `json:"metadata"`
}
