package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

// QueryHistoryRepository persists completed query runs consumed off the
// event subject. History is append-only; rows are never updated.
type QueryHistoryRepository struct {
	db *sql.DB
}

func NewQueryHistoryRepository(db *sql.DB) *QueryHistoryRepository {
	return &QueryHistoryRepository{db: db}
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

func (r *QueryHistoryRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/consumer startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082103)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS query_history (
	request_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	collection_id TEXT NOT NULL,
	question TEXT NOT NULL,
	answer_chars INTEGER NOT NULL DEFAULT 0,
	partial BOOLEAN NOT NULL DEFAULT FALSE,
	state TEXT NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_query_history_user ON query_history(user_id, finished_at DESC);
CREATE INDEX IF NOT EXISTS idx_query_history_collection ON query_history(collection_id, finished_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Record stores one completed run. Redelivered events land on the primary
// key and are ignored.
func (r *QueryHistoryRepository) Record(ctx context.Context, event domain.QueryCompletedEvent) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO query_history (
	request_id, user_id, collection_id, question, answer_chars, partial, state, duration_ms, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (request_id) DO NOTHING
`,
		event.RequestID, event.UserID, event.CollectionID, event.Question,
		event.AnswerChars, event.Partial, string(event.State),
		event.Duration.Milliseconds(), event.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert query history: %w", err)
	}
	return nil
}

// RecentByUser returns the newest runs for a user, newest first.
func (r *QueryHistoryRepository) RecentByUser(ctx context.Context, userID string, limit int) ([]domain.QueryCompletedEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT request_id, user_id, collection_id, question, answer_chars, partial, state, duration_ms, finished_at
FROM query_history
WHERE user_id = $1
ORDER BY finished_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var events []domain.QueryCompletedEvent
	for rows.Next() {
		var event domain.QueryCompletedEvent
		var state string
		var durationMS int64
		err := rows.Scan(
			&event.RequestID, &event.UserID, &event.CollectionID, &event.Question,
			&event.AnswerChars, &event.Partial, &state, &durationMS, &event.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan query history: %w", err)
		}
		event.State = domain.PipelineState(state)
		event.Duration = time.Duration(durationMS) * time.Millisecond
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query history: %w", err)
	}
	return events, nil
}
