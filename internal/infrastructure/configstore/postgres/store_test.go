package postgres

import (
	"context"
	"database/sql"
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

func TestCollectionExists(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("col").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.CollectionExists(context.Background(), "col")
	if err != nil {
		t.Fatalf("CollectionExists() error = %v", err)
	}
	if !exists {
		t.Fatalf("expected collection to exist")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetPipelineConfigDecodesJSON(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT config").
		WithArgs("u1", "col").
		WillReturnRows(sqlmock.NewRows([]string{"config"}).
			AddRow([]byte(`{"vector_backend":"pgvector","top_k":7}`)))

	cfg, err := store.GetPipelineConfig(context.Background(), "u1", "col")
	if err != nil {
		t.Fatalf("GetPipelineConfig() error = %v", err)
	}
	if cfg.VectorBackend != domain.VectorBackendPgvector || cfg.TopK != 7 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetPipelineConfigReturnsDomainNotFound(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT config").
		WithArgs("u1", "missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetPipelineConfig(context.Background(), "u1", "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found kind, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSavePipelineConfigUpserts(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO pipeline_configs").
		WithArgs("u1", "col", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SavePipelineConfig(context.Background(), "u1", "col", domain.DefaultPipelineConfig())
	if err != nil {
		t.Fatalf("SavePipelineConfig() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
