package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

// Store serves dense search through the pgvector cosine operator and keyword
// search through Postgres full-text ranking over the same table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	collection_id TEXT NOT NULL,
	source_document_id TEXT NOT NULL,
	text TEXT NOT NULL,
	embedding vector(768) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection_id);
CREATE INDEX IF NOT EXISTS idx_chunks_text_fts ON chunks USING GIN (to_tsvector('english', text));
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Search returns cosine similarity as 1 - distance, matching the score scale
// of the other backends.
func (s *Store) Search(
	ctx context.Context,
	queryVector []float32,
	topK int,
	filter domain.SearchFilter,
) ([]domain.Chunk, error) {
	vector := pgvector.NewVector(queryVector)
	rows, err := s.db.QueryContext(ctx, `
SELECT id, text, source_document_id, 1 - (embedding <=> $1) AS score
FROM chunks
WHERE collection_id = $2
ORDER BY embedding <=> $1, id
LIMIT $3
`, vector, filter.CollectionID, topK)
	if err != nil {
		return nil, wrapPgError("pgvector search", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func (s *Store) KeywordSearch(
	ctx context.Context,
	query string,
	topK int,
	filter domain.SearchFilter,
) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, text, source_document_id,
	ts_rank(to_tsvector('english', text), plainto_tsquery('english', $1)) AS score
FROM chunks
WHERE collection_id = $2
	AND to_tsvector('english', text) @@ plainto_tsquery('english', $1)
ORDER BY score DESC, id
LIMIT $3
`, query, filter.CollectionID, topK)
	if err != nil {
		return nil, wrapPgError("pgvector keyword search", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for rows.Next() {
		var chunk domain.Chunk
		if err := rows.Scan(&chunk.ID, &chunk.Text, &chunk.SourceDocumentID, &chunk.Score); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgError("iterate chunks", err)
	}
	return out, nil
}

func wrapPgError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrBackendTimeout, op, err)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, context.Canceled):
		return domain.WrapError(domain.ErrBackendUnavailable, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
