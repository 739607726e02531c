package usecase

import (
	"testing"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

func TestFuseWeightedMergesByID(t *testing.T) {
	dense := []domain.Chunk{
		{ID: "a", Text: "alpha", Score: 0.8},
		{ID: "b", Text: "beta", Score: 0.4},
	}
	keyword := []domain.Chunk{
		{ID: "b", Text: "beta", Score: 2.0},
		{ID: "c", Text: "gamma", Score: 1.0},
	}

	out := fuseWeighted(dense, keyword, 0.7)
	if len(out) != 3 {
		t.Fatalf("expected 3 fused chunks, got %d", len(out))
	}
	// a: 0.7*1.0, b: 0.7*0.5 + 0.3*1.0, c: 0.3*0.5
	if out[0].ID != "a" || out[1].ID != "b" || out[2].ID != "c" {
		t.Fatalf("unexpected fused order: %s %s %s", out[0].ID, out[1].ID, out[2].ID)
	}
}

func TestFuseWeightedTieBreaksOnID(t *testing.T) {
	dense := []domain.Chunk{
		{ID: "z", Score: 0.5},
		{ID: "a", Score: 0.5},
	}
	out := fuseWeighted(dense, nil, 0.7)
	if out[0].ID != "a" || out[1].ID != "z" {
		t.Fatalf("tie must break on ascending chunk ID, got %s %s", out[0].ID, out[1].ID)
	}
}

func TestFuseWeightedDeterministic(t *testing.T) {
	dense := []domain.Chunk{
		{ID: "a", Score: 0.9}, {ID: "b", Score: 0.5}, {ID: "c", Score: 0.5},
	}
	keyword := []domain.Chunk{
		{ID: "c", Score: 3}, {ID: "d", Score: 3}, {ID: "a", Score: 1},
	}

	first := fuseWeighted(dense, keyword, 0.6)
	for i := 0; i < 10; i++ {
		again := fuseWeighted(dense, keyword, 0.6)
		if len(again) != len(first) {
			t.Fatalf("fusion result size changed between runs")
		}
		for j := range first {
			if again[j].ID != first[j].ID || again[j].Score != first[j].Score {
				t.Fatalf("fusion not deterministic at %d: %v vs %v", j, again[j], first[j])
			}
		}
	}
}

func TestFilterByThreshold(t *testing.T) {
	out := filterByThreshold(testChunks(), 0.3)
	if len(out) != 3 {
		t.Fatalf("expected 3 chunks at or above threshold, got %d", len(out))
	}
	for _, chunk := range out {
		if chunk.Score < 0.3 {
			t.Fatalf("chunk %s below threshold survived: %f", chunk.ID, chunk.Score)
		}
	}
}

func TestSortChunksDescendingScore(t *testing.T) {
	chunks := []domain.Chunk{
		{ID: "b", Score: 0.2},
		{ID: "a", Score: 0.9},
		{ID: "c", Score: 0.2},
	}
	out := sortChunks(chunks)
	if out[0].ID != "a" || out[1].ID != "b" || out[2].ID != "c" {
		t.Fatalf("unexpected order: %s %s %s", out[0].ID, out[1].ID, out[2].ID)
	}
}
