package usecase

import (
	"strings"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

// CitationMatcher attributes claims in a generated answer to the chunks that
// were included in the prompt. The matching strategy is pluggable; the
// shipped implementation is lexical. Claims with no matching chunk stay
// uncited rather than being guessed.
type CitationMatcher interface {
	Match(answer string, chunks []domain.Chunk) []domain.ChunkReference
}

// LexicalCitationMatcher splits the answer into sentences and attributes a
// sentence to a chunk when the chunk contains it verbatim or when their
// token overlap reaches MinOverlap. Chunk order is preserved, so output is
// deterministic for a fixed answer and chunk list.
type LexicalCitationMatcher struct {
	MinOverlap float64
	// MinSentenceTokens skips fragments too short to attribute reliably.
	MinSentenceTokens int
}

func NewLexicalCitationMatcher() *LexicalCitationMatcher {
	return &LexicalCitationMatcher{
		MinOverlap:        0.5,
		MinSentenceTokens: 4,
	}
}

func (m *LexicalCitationMatcher) Match(answer string, chunks []domain.Chunk) []domain.ChunkReference {
	if answer == "" || len(chunks) == 0 {
		return nil
	}

	minOverlap := m.MinOverlap
	if minOverlap <= 0 {
		minOverlap = 0.5
	}
	minTokens := m.MinSentenceTokens
	if minTokens <= 0 {
		minTokens = 4
	}

	chunkTokens := make([]map[string]struct{}, len(chunks))
	chunkLower := make([]string, len(chunks))
	for i, chunk := range chunks {
		chunkTokens[i] = toTokenSet(chunk.Text)
		chunkLower[i] = strings.ToLower(chunk.Text)
	}

	cited := make(map[string]struct{}, len(chunks))
	var refs []domain.ChunkReference
	for _, sentence := range splitSentences(answer) {
		tokens := splitAlphaNumLower(sentence)
		if len(tokens) < minTokens {
			continue
		}
		sentenceSet := make(map[string]struct{}, len(tokens))
		for _, token := range tokens {
			sentenceSet[token] = struct{}{}
		}
		sentenceLower := strings.ToLower(strings.TrimSpace(sentence))

		for i, chunk := range chunks {
			if _, done := cited[chunk.ID]; done {
				continue
			}
			if strings.Contains(chunkLower[i], sentenceLower) ||
				tokenOverlap(sentenceSet, chunkTokens[i]) >= minOverlap {
				cited[chunk.ID] = struct{}{}
				refs = append(refs, domain.ChunkReference{
					ChunkID:          chunk.ID,
					SourceDocumentID: chunk.SourceDocumentID,
				})
			}
		}
	}
	return refs
}

func splitSentences(text string) []string {
	out := make([]string, 0, 8)
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}
