package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

// Store persists collections and per-user pipeline configurations. A config
// row with an empty user_id is the collection-wide default; an exact
// (user_id, collection_id) row overrides it.
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
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082102)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS collections (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_configs (
	user_id TEXT NOT NULL DEFAULT '',
	collection_id TEXT NOT NULL REFERENCES collections(id),
	config JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, collection_id)
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *Store) CollectionExists(ctx context.Context, collectionID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM collections WHERE id = $1)`, collectionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collection: %w", err)
	}
	return exists, nil
}

// GetPipelineConfig prefers the user-specific row and falls back to the
// collection default row.
func (s *Store) GetPipelineConfig(ctx context.Context, userID, collectionID string) (*domain.PipelineConfig, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT config
FROM pipeline_configs
WHERE collection_id = $2 AND user_id IN ($1, '')
ORDER BY user_id DESC
LIMIT 1
`, userID, collectionID)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get pipeline config",
				fmt.Errorf("no config for collection %s", collectionID))
		}
		return nil, fmt.Errorf("scan pipeline config: %w", err)
	}

	var cfg domain.PipelineConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline config: %w", err)
	}
	return &cfg, nil
}

func (s *Store) SavePipelineConfig(ctx context.Context, userID, collectionID string, cfg domain.PipelineConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal pipeline config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO pipeline_configs (user_id, collection_id, config, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, collection_id) DO UPDATE SET
	config = EXCLUDED.config,
	updated_at = EXCLUDED.updated_at
`, userID, collectionID, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save pipeline config: %w", err)
	}
	return nil
}
