package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

func newHistoryWithMock(t *testing.T) (*QueryHistoryRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewQueryHistoryRepository(db), mock, func() { _ = db.Close() }
}

func TestRecordInsertsCompletedRun(t *testing.T) {
	repo, mock, done := newHistoryWithMock(t)
	defer done()

	finished := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO query_history").
		WithArgs("req-1", "u1", "col", "What is Alpha?", 120, false, "done", int64(450), finished).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Record(context.Background(), domain.QueryCompletedEvent{
		RequestID:    "req-1",
		UserID:       "u1",
		CollectionID: "col",
		Question:     "What is Alpha?",
		AnswerChars:  120,
		State:        domain.StateDone,
		Duration:     450 * time.Millisecond,
		FinishedAt:   finished,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecentByUserMapsRows(t *testing.T) {
	repo, mock, done := newHistoryWithMock(t)
	defer done()

	finished := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	columns := []string{
		"request_id", "user_id", "collection_id", "question",
		"answer_chars", "partial", "state", "duration_ms", "finished_at",
	}
	mock.ExpectQuery("SELECT request_id").
		WithArgs("u1", 5).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("req-2", "u1", "col", "q2", 80, true, "done", int64(1200), finished).
			AddRow("req-1", "u1", "col", "q1", 120, false, "failed", int64(300), finished.Add(-time.Minute)))

	events, err := repo.RecentByUser(context.Background(), "u1", 5)
	if err != nil {
		t.Fatalf("RecentByUser() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].RequestID != "req-2" || !events[0].Partial {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[0].Duration != 1200*time.Millisecond {
		t.Fatalf("expected duration restored from ms, got %v", events[0].Duration)
	}
	if events[1].State != domain.StateFailed {
		t.Fatalf("expected failed state, got %q", events[1].State)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecentByUserAppliesDefaultLimit(t *testing.T) {
	repo, mock, done := newHistoryWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT request_id").
		WithArgs("u1", 20).
		WillReturnRows(sqlmock.NewRows([]string{
			"request_id", "user_id", "collection_id", "question",
			"answer_chars", "partial", "state", "duration_ms", "finished_at",
		}))

	events, err := repo.RecentByUser(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("RecentByUser() error = %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
