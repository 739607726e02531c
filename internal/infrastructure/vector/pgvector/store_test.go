package pgvector

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return New(db), mock, func() { _ = db.Close() }
}

func TestSearchMapsRowsToChunks(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	rows := sqlmock.NewRows([]string{"id", "text", "source_document_id", "score"}).
		AddRow("c1", "columnar storage", "d1", 0.91).
		AddRow("c2", "row storage", "d2", 0.73)
	mock.ExpectQuery("1 - \\(embedding <=> \\$1\\) AS score").
		WithArgs(sqlmock.AnyArg(), "col", 5).
		WillReturnRows(rows)

	out, err := store.Search(context.Background(), []float32{0.1, 0.2}, 5, domain.SearchFilter{CollectionID: "col"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(out))
	}
	if out[0].ID != "c1" || out[0].Score != 0.91 || out[0].SourceDocumentID != "d1" {
		t.Fatalf("unexpected first chunk: %+v", out[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestKeywordSearchUsesFullTextRanking(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	rows := sqlmock.NewRows([]string{"id", "text", "source_document_id", "score"}).
		AddRow("c2", "row storage engine", "d2", 0.12)
	mock.ExpectQuery("ts_rank").
		WithArgs("storage engine", "col", 5).
		WillReturnRows(rows)

	out, err := store.KeywordSearch(context.Background(), "storage engine", 5, domain.SearchFilter{CollectionID: "col"})
	if err != nil {
		t.Fatalf("KeywordSearch() error = %v", err)
	}
	if len(out) != 1 || out[0].ID != "c2" {
		t.Fatalf("unexpected keyword result: %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchWrapsTimeoutAsBackendTimeout(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	mock.ExpectQuery("1 - \\(embedding <=> \\$1\\) AS score").
		WillReturnError(context.DeadlineExceeded)

	_, err := store.Search(context.Background(), []float32{0.1}, 5, domain.SearchFilter{CollectionID: "col"})
	if !domain.IsKind(err, domain.ErrBackendTimeout) {
		t.Fatalf("expected backend timeout kind, got %v", err)
	}
}
