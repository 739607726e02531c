package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

func retrieverConfig() domain.PipelineConfig {
	cfg := domain.DefaultPipelineConfig()
	cfg.TopK = 5
	cfg.SimilarityThreshold = 0.3
	return cfg
}

func TestRetrieveAppliesThresholdAndOrder(t *testing.T) {
	store := &fakeVectorStore{chunks: testChunks()}
	retriever := NewRetriever(&fakeEmbedder{}, storeFactory{domain.VectorBackendQdrant: store}, newTestResilience(1))

	result, err := retriever.Retrieve(context.Background(), "q", "col", retrieverConfig())
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	out := result.Chunks
	if len(out) != 3 {
		t.Fatalf("expected 3 chunks above threshold, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].Score < out[i].Score {
			t.Fatalf("retrieval output not sorted descending at %d", i)
		}
	}
}

func TestRetrieveIssuesExactlyMaxAttempts(t *testing.T) {
	store := &fakeVectorStore{err: domain.WrapError(domain.ErrBackendTimeout, "search", errors.New("deadline"))}
	retriever := NewRetriever(&fakeEmbedder{}, storeFactory{domain.VectorBackendQdrant: store}, newTestResilience(3))

	_, err := retriever.Retrieve(context.Background(), "q", "col", retrieverConfig())
	if !domain.IsKind(err, domain.ErrRetrieval) {
		t.Fatalf("expected retrieval error kind, got %v", err)
	}
	if store.callCount() != 3 {
		t.Fatalf("expected exactly 3 search attempts, got %d", store.callCount())
	}
}

func TestRetrieveSwitchesToFallbackBackendOnce(t *testing.T) {
	primary := &fakeVectorStore{err: domain.WrapError(domain.ErrBackendUnavailable, "search", errors.New("down"))}
	fallback := &fakeVectorStore{chunks: testChunks()}
	retriever := NewRetriever(&fakeEmbedder{}, storeFactory{
		domain.VectorBackendQdrant:   primary,
		domain.VectorBackendPgvector: fallback,
	}, newTestResilience(2))

	cfg := retrieverConfig()
	cfg.FallbackVectorBackend = domain.VectorBackendPgvector

	result, err := retriever.Retrieve(context.Background(), "q", "col", cfg)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if primary.callCount() != 2 {
		t.Fatalf("expected primary retry budget of 2, got %d", primary.callCount())
	}
	if fallback.callCount() != 1 {
		t.Fatalf("expected one fallback retrieval, got %d", fallback.callCount())
	}
	if len(result.Chunks) != 3 {
		t.Fatalf("expected fallback chunks, got %d", len(result.Chunks))
	}
}

func TestRetrieveHybridFusesKeywordResults(t *testing.T) {
	store := &fakeHybridStore{
		fakeVectorStore: fakeVectorStore{chunks: []domain.Chunk{
			{ID: "a", Text: "dense only", Score: 0.9},
			{ID: "b", Text: "both lists", Score: 0.6},
		}},
		keyword: []domain.Chunk{
			{ID: "b", Text: "both lists", Score: 4},
			{ID: "k", Text: "keyword only", Score: 2},
		},
	}
	retriever := NewRetriever(&fakeEmbedder{}, storeFactory{domain.VectorBackendQdrant: store}, newTestResilience(1))

	cfg := retrieverConfig()
	cfg.HybridSearch = true
	cfg.HybridAlpha = 0.5
	cfg.SimilarityThreshold = 0

	result, err := retriever.Retrieve(context.Background(), "q", "col", cfg)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	out := result.Chunks
	// b appears in both lists and must rank first.
	if out[0].ID != "b" {
		t.Fatalf("expected fused chunk b first, got %s", out[0].ID)
	}
	if len(out) != 3 {
		t.Fatalf("expected union of both lists, got %d", len(out))
	}
}

func TestRetrieveHybridDegradesToDenseOnKeywordFailure(t *testing.T) {
	store := &fakeHybridStore{
		fakeVectorStore: fakeVectorStore{chunks: testChunks()},
		keywordErr:      domain.WrapError(domain.ErrBackendUnavailable, "keyword search", errors.New("fulltext index down")),
	}
	retriever := NewRetriever(&fakeEmbedder{}, storeFactory{domain.VectorBackendQdrant: store}, newTestResilience(2))

	cfg := retrieverConfig()
	cfg.HybridSearch = true
	cfg.HybridAlpha = 0.5

	result, err := retriever.Retrieve(context.Background(), "q", "col", cfg)
	if err != nil {
		t.Fatalf("keyword failure must not fail retrieval, got %v", err)
	}
	if len(result.Chunks) != 3 {
		t.Fatalf("expected dense-only chunks, got %d", len(result.Chunks))
	}
	for i := 1; i < len(result.Chunks); i++ {
		if result.Chunks[i-1].Score < result.Chunks[i].Score {
			t.Fatalf("degraded output not sorted descending at %d", i)
		}
	}
	if len(result.KeywordErrs) != 1 {
		t.Fatalf("expected the keyword failure surfaced once, got %v", result.KeywordErrs)
	}
	if !domain.IsKind(result.KeywordErrs[0], domain.ErrBackendUnavailable) {
		t.Fatalf("expected the keyword cause preserved, got %v", result.KeywordErrs[0])
	}
}

func TestRetrieveHybridDisabledForIncapableBackend(t *testing.T) {
	store := &fakeVectorStore{chunks: testChunks()}
	retriever := NewRetriever(&fakeEmbedder{}, storeFactory{domain.VectorBackendSQLite: store}, newTestResilience(1))

	cfg := retrieverConfig()
	cfg.VectorBackend = domain.VectorBackendSQLite
	cfg.HybridSearch = true

	result, err := retriever.Retrieve(context.Background(), "q", "col", cfg)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(result.Chunks) != 3 {
		t.Fatalf("expected dense-only retrieval, got %d chunks", len(result.Chunks))
	}
}

func TestRetrieveEmbedFailureIsRetrievalError(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("embedding service down")}
	retriever := NewRetriever(embedder, storeFactory{domain.VectorBackendQdrant: &fakeVectorStore{}}, newTestResilience(1))

	_, err := retriever.Retrieve(context.Background(), "q", "col", retrieverConfig())
	if !domain.IsKind(err, domain.ErrRetrieval) {
		t.Fatalf("expected retrieval error kind, got %v", err)
	}
}
