package qdrant

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

const lexicalBM25K = 1.2

// rankByLexicalScore orders full-text candidates by a BM25-style term
// frequency score against the query. Ties break on ascending chunk ID so
// keyword results stay deterministic.
func rankByLexicalScore(query string, chunks []domain.Chunk, topK int) []domain.Chunk {
	queryTokens := tokenizeAlphaNum(query)
	if len(queryTokens) == 0 {
		return nil
	}

	querySet := make(map[string]struct{}, len(queryTokens))
	for _, token := range queryTokens {
		querySet[token] = struct{}{}
	}

	out := make([]domain.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		score := lexicalScore(querySet, tokenizeAlphaNum(chunk.Text))
		if score <= 0 {
			continue
		}
		chunk.Score = score
		out = append(out, chunk)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// lexicalScore sums saturated term-frequency weights over the query terms
// present in the chunk.
func lexicalScore(queryTokens map[string]struct{}, chunkTokens []string) float64 {
	if len(chunkTokens) == 0 {
		return 0
	}

	termFreq := make(map[string]float64, len(queryTokens))
	for _, token := range chunkTokens {
		if _, wanted := queryTokens[token]; wanted {
			termFreq[token]++
		}
	}

	score := 0.0
	for _, tf := range termFreq {
		weight := (tf * (lexicalBM25K + 1.0)) / (tf + lexicalBM25K)
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			continue
		}
		score += weight
	}
	return score
}

func tokenizeAlphaNum(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
