package usecase

import (
	"sort"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

// fuseWeighted merges dense and keyword candidates into a single list scored
// by alpha*dense + (1-alpha)*keyword. Both lists are max-normalized first so
// backends with different score scales fuse sanely. Chunks present in only
// one list keep the weighted share of the list they came from.
func fuseWeighted(dense, keyword []domain.Chunk, alpha float64) []domain.Chunk {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.7
	}
	if len(keyword) == 0 {
		return sortChunks(dense)
	}
	if len(dense) == 0 {
		out := make([]domain.Chunk, len(keyword))
		copy(out, keyword)
		for i := range out {
			out[i].Score = (1 - alpha) * out[i].Score
		}
		return sortChunks(out)
	}

	denseNorm := maxNormalize(dense)
	keywordNorm := maxNormalize(keyword)

	type fused struct {
		chunk domain.Chunk
		score float64
	}
	acc := make(map[string]fused, len(dense)+len(keyword))

	for i, chunk := range dense {
		entry := acc[chunk.ID]
		entry.chunk = preferRicherChunk(entry.chunk, chunk)
		entry.score += alpha * denseNorm[i]
		acc[chunk.ID] = entry
	}
	for i, chunk := range keyword {
		entry := acc[chunk.ID]
		entry.chunk = preferRicherChunk(entry.chunk, chunk)
		entry.score += (1 - alpha) * keywordNorm[i]
		acc[chunk.ID] = entry
	}

	out := make([]domain.Chunk, 0, len(acc))
	for _, entry := range acc {
		chunk := entry.chunk
		chunk.Score = entry.score
		out = append(out, chunk)
	}
	return sortChunks(out)
}

func maxNormalize(chunks []domain.Chunk) []float64 {
	out := make([]float64, len(chunks))
	max := 0.0
	for _, c := range chunks {
		if c.Score > max {
			max = c.Score
		}
	}
	for i, c := range chunks {
		if max <= 0 {
			out[i] = 0
			continue
		}
		out[i] = c.Score / max
	}
	return out
}

func preferRicherChunk(current, candidate domain.Chunk) domain.Chunk {
	if current.ID == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.SourceDocumentID == "" && candidate.SourceDocumentID != "" {
		current.SourceDocumentID = candidate.SourceDocumentID
	}
	if current.Metadata == nil && candidate.Metadata != nil {
		current.Metadata = candidate.Metadata
	}
	return current
}

// sortChunks orders descending by score with ascending chunk ID as the
// deterministic tie-break. Returns its argument for chaining.
func sortChunks(chunks []domain.Chunk) []domain.Chunk {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].ID < chunks[j].ID
	})
	return chunks
}

// filterByThreshold drops every chunk scoring below the similarity threshold.
func filterByThreshold(chunks []domain.Chunk, threshold float64) []domain.Chunk {
	if threshold <= 0 {
		return chunks
	}
	out := chunks[:0]
	for _, chunk := range chunks {
		if chunk.Score >= threshold {
			out = append(out, chunk)
		}
	}
	return out
}

func trimCandidates(chunks []domain.Chunk, limit int) []domain.Chunk {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}
	return chunks[:limit]
}
