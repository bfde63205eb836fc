package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"ragbase/types"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *slog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, dimension int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:      pool,
		dimension: dimension,
		logger:    slog.Default(),
	}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createRagTables(ctx)
}

func (p *PostgresStore) createRagTables(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		filename TEXT NOT NULL,
		media_type TEXT NOT NULL,
		size_bytes BIGINT NOT NULL,
		format TEXT NOT NULL,
		lane TEXT NOT NULL CHECK (lane IN ('direct','deferred')),
		status TEXT NOT NULL CHECK (status IN ('PENDING','PROCESSING','COMPLETED','FAILED')),
		storage_path TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		fail_reason TEXT,
		fail_detail TEXT,
		warnings TEXT[] NOT NULL DEFAULT '{}',
		page_count INTEGER NOT NULL DEFAULT 0,
		metrics JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		CHECK ((status = 'FAILED') = (COALESCE(fail_reason, '') <> ''))
	);

	-- failed uploads do not block the same content from being sent again
	CREATE UNIQUE INDEX IF NOT EXISTS uq_documents_content_hash
		ON documents(content_hash) WHERE status <> 'FAILED';

	CREATE TABLE IF NOT EXISTS chunks (
		id UUID PRIMARY KEY,
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		char_start INTEGER NOT NULL,
		char_end INTEGER NOT NULL,
		page INTEGER,
		heading TEXT,
		token_count INTEGER NOT NULL DEFAULT 0,
		quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		quality_flags TEXT[] NOT NULL DEFAULT '{}',
		has_title BOOLEAN NOT NULL DEFAULT false,
		completeness TEXT,
		chunk_type TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		UNIQUE (document_id, chunk_index),
		CHECK (char_start >= 0 AND char_start < char_end)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops);

	-- tables created before chunk quality and metrics were recorded
	ALTER TABLE documents ADD COLUMN IF NOT EXISTS metrics JSONB;
	ALTER TABLE chunks ADD COLUMN IF NOT EXISTS quality_score DOUBLE PRECISION NOT NULL DEFAULT 0;
	ALTER TABLE chunks ADD COLUMN IF NOT EXISTS quality_flags TEXT[] NOT NULL DEFAULT '{}';
	ALTER TABLE chunks ADD COLUMN IF NOT EXISTS has_title BOOLEAN NOT NULL DEFAULT false;
	ALTER TABLE chunks ADD COLUMN IF NOT EXISTS completeness TEXT;
	ALTER TABLE chunks ADD COLUMN IF NOT EXISTS chunk_type TEXT;
	`, p.dimension)
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) CreateDocument(ctx context.Context, doc *types.Document) error {
	query := `INSERT INTO documents (id, filename, media_type, size_bytes, format, lane, status,
			storage_path, content_hash, retry_count, warnings, page_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := p.pool.Exec(ctx, query,
		doc.ID, doc.Filename, doc.MediaType, doc.SizeBytes, string(doc.Format), string(doc.Lane), string(doc.Status),
		doc.StoragePath, doc.ContentHash, doc.RetryCount, nonNil(doc.Warnings), doc.PageCount, doc.CreatedAt, doc.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: content %s", types.ErrDuplicateContent, doc.ContentHash)
	}
	return err
}

func (p *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	query := `SELECT id, filename, media_type, size_bytes, format, lane, status, storage_path, content_hash,
			retry_count, COALESCE(fail_reason, ''), COALESCE(fail_detail, ''), warnings, page_count, metrics,
			created_at, updated_at
		FROM documents WHERE id = $1`

	var (
		doc                  types.Document
		format, lane, status string
	)
	err := p.pool.QueryRow(ctx, query, id).Scan(
		&doc.ID, &doc.Filename, &doc.MediaType, &doc.SizeBytes, &format, &lane, &status, &doc.StoragePath,
		&doc.ContentHash, &doc.RetryCount, &doc.FailReason, &doc.FailDetail, &doc.Warnings, &doc.PageCount,
		&doc.Metrics, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	doc.Format, doc.Lane, doc.Status = types.Format(format), types.Lane(lane), types.Status(status)
	return &doc, nil
}

func (p *PostgresStore) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE documents SET status = 'PROCESSING', updated_at = now() WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) RequeueForRetry(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE documents SET status = 'PENDING', retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) CompleteDocument(ctx context.Context, id uuid.UUID, result Completion) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// the row lock serializes duplicate callbacks for the same document
	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM documents WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if types.Status(status).Terminal() {
		return fmt.Errorf("document %s is %s: %w", id, status, types.ErrAlreadyTerminal)
	}

	batch := &pgx.Batch{}
	for _, c := range result.Chunks {
		q := c.Quality
		batch.Queue(`INSERT INTO chunks (id, document_id, chunk_index, content, embedding, char_start, char_end,
				page, heading, token_count, quality_score, quality_flags, has_title, completeness, chunk_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			c.ID, id, c.Index, c.Content, pgvector.NewVector(c.Embedding), c.CharStart, c.CharEnd,
			nullInt(c.Page), nullString(c.Heading), c.TokenCount,
			q.Score, nonNil(q.Flags), q.HasTitle, nullString(q.Completeness), nullString(q.Type),
		)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range result.Chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE documents SET status = 'COMPLETED', warnings = $2, page_count = $3, metrics = $4, updated_at = now()
		WHERE id = $1`,
		id, nonNil(result.Warnings), result.PageCount, result.Metrics); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) FailDocument(ctx context.Context, id uuid.UUID, reason, detail string) error {
	if reason == "" {
		reason = types.ReasonInternalError
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE documents SET status = 'FAILED', fail_reason = $2, fail_detail = $3, updated_at = now()
		WHERE id = $1 AND status IN ('PENDING','PROCESSING')`, id, reason, detail)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := p.GetDocument(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("document %s: %w", id, types.ErrAlreadyTerminal)
}

func (p *PostgresStore) CountChunks(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE document_id = $1`, id).Scan(&n)
	return n, err
}

func (p *PostgresStore) Search(ctx context.Context, queryVec []float32, limit int) ([]types.SearchResult, error) {
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}

	// <=> is NaN when either side has zero norm; such pairs score 0
	query := `
		SELECT c.document_id, c.chunk_index, c.content, c.char_start, c.char_end,
		       COALESCE(c.page, 0), COALESCE(c.heading, ''), c.token_count,
		       c.quality_score, c.quality_flags, c.has_title, COALESCE(c.completeness, ''), COALESCE(c.chunk_type, ''),
		       COALESCE(NULLIF(1 - (c.embedding <=> $1), 'NaN'), 0) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = 'COMPLETED'
		ORDER BY c.embedding <=> $1, c.document_id, c.chunk_index
		LIMIT $2
	`
	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []types.SearchResult{}
	for rows.Next() {
		var r types.SearchResult
		if err := rows.Scan(
			&r.DocumentID,
			&r.ChunkIndex,
			&r.Content,
			&r.Metadata.CharStart,
			&r.Metadata.CharEnd,
			&r.Metadata.Page,
			&r.Metadata.Heading,
			&r.Metadata.TokenCount,
			&r.Metadata.Score,
			&r.Metadata.Flags,
			&r.Metadata.HasTitle,
			&r.Metadata.Completeness,
			&r.Metadata.Type,
			&r.Score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	p.logger.Debug("vector search", "limit", limit, "hits", len(results))
	return results, nil
}

// Close закрывает пул подключений
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("Postgres connection pool is closed")
	}
	return nil
}

func nullInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
