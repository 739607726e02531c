package qdrant

import (
	"testing"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

func TestTokenizeAlphaNum(t *testing.T) {
	got := tokenizeAlphaNum("Alpha-Beta v2.1, storage!")
	want := []string{"alpha", "beta", "v2", "1", "storage"}
	if len(got) != len(want) {
		t.Fatalf("tokenizeAlphaNum() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRankByLexicalScoreOrdersByTermMatches(t *testing.T) {
	chunks := []domain.Chunk{
		{ID: "c1", Text: "storage engine overview"},
		{ID: "c2", Text: "columnar storage engine for columnar workloads"},
		{ID: "c3", Text: "pricing and plans"},
	}

	out := rankByLexicalScore("columnar storage engine", chunks, 10)
	if len(out) != 2 {
		t.Fatalf("expected chunks without query terms dropped, got %d", len(out))
	}
	if out[0].ID != "c2" {
		t.Fatalf("expected c2 to outrank c1, got %s", out[0].ID)
	}
	if out[0].Score <= out[1].Score {
		t.Fatalf("scores not descending: %f <= %f", out[0].Score, out[1].Score)
	}
}

func TestRankByLexicalScoreTieBreaksOnID(t *testing.T) {
	chunks := []domain.Chunk{
		{ID: "z", Text: "storage"},
		{ID: "a", Text: "storage"},
	}
	out := rankByLexicalScore("storage", chunks, 10)
	if out[0].ID != "a" || out[1].ID != "z" {
		t.Fatalf("tie must break on chunk ID, got %s %s", out[0].ID, out[1].ID)
	}
}

func TestRankByLexicalScoreRespectsTopK(t *testing.T) {
	chunks := []domain.Chunk{
		{ID: "c1", Text: "storage storage storage"},
		{ID: "c2", Text: "storage storage"},
		{ID: "c3", Text: "storage"},
	}
	out := rankByLexicalScore("storage", chunks, 2)
	if len(out) != 2 {
		t.Fatalf("expected topK trim to 2, got %d", len(out))
	}
}

func TestRankByLexicalScoreEmptyQuery(t *testing.T) {
	out := rankByLexicalScore("!!!", []domain.Chunk{{ID: "c1", Text: "storage"}}, 5)
	if out != nil {
		t.Fatalf("expected nil for a query with no tokens, got %v", out)
	}
}

func TestBuildFilterCombinesCollectionAndText(t *testing.T) {
	filter := buildFilter(domain.SearchFilter{CollectionID: "col"}, "storage engine")
	if filter == nil || len(filter.Must) != 2 {
		t.Fatalf("expected two filter conditions, got %+v", filter)
	}

	if buildFilter(domain.SearchFilter{}, "") != nil {
		t.Fatalf("empty filter must be nil")
	}
}
