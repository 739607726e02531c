package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

func buildRewritePrompt(question string) string {
	return `Rewrite the user question to be explicit and self-contained for a search engine.
Fix spelling, expand abbreviations, keep the original intent.
Return only the rewritten question, no explanation.

Question:
` + question
}

func buildCrossEncoderPrompt(question, text string) string {
	const maxSnippet = 2000
	snippet := text
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}

	return fmt.Sprintf(`Rate how relevant the passage is to the question on a scale from 0 to 10.
Return only the number.

Question:
%s

Passage:
%s
`, question, snippet)
}

func buildLLMRerankPrompt(question string, chunks []domain.Chunk) string {
	var b strings.Builder
	for _, chunk := range chunks {
		snippet := chunk.Text
		if len(snippet) > 800 {
			snippet = snippet[:800]
		}
		fmt.Fprintf(&b, "id=%s\n%s\n\n", chunk.ID, snippet)
	}

	return fmt.Sprintf(`Score each passage for relevance to the question.
Return strict JSON array of objects with keys id (string) and score (number from 0 to 1).
No markdown, no extra keys.

Question:
%s

Passages:
%s`, question, b.String())
}

func buildDecompositionPrompt(question string, breadth int) string {
	return fmt.Sprintf(`Break the question below into at most %d simpler sub-questions that can be answered independently from a document collection.
Return strict JSON array of strings. If the question is already simple, return an empty array.
No markdown, no extra keys.

Question:
%s`, breadth, question)
}

func buildSubAnswerPrompt(question string, chunks []domain.Chunk) string {
	var b strings.Builder
	for idx, chunk := range chunks {
		fmt.Fprintf(&b, "[%d] id=%s score=%.3f\n%s\n\n", idx+1, chunk.ID, chunk.Score, chunk.Text)
	}

	return fmt.Sprintf(`Answer the question only from the context below.
Be concise. If the context is insufficient, say it directly.

Question:
%s

Context:
%s`, question, b.String())
}

func buildSynthesisPrompt(question, reasoningSummary string, chunks []domain.Chunk) string {
	var b strings.Builder
	for idx, chunk := range chunks {
		fmt.Fprintf(&b, "[%d] id=%s source=%s score=%.3f\n%s\n\n",
			idx+1, chunk.ID, chunk.SourceDocumentID, chunk.Score, chunk.Text)
	}

	prompt := fmt.Sprintf(`Answer the user question only from the context below.
Quote or restate the context passages you rely on so the answer can be attributed to its sources.
If the context is insufficient, say it directly.

Question:
%s
`, question)

	if reasoningSummary != "" {
		prompt += fmt.Sprintf(`
Findings from sub-questions:
%s
`, reasoningSummary)
	}

	return prompt + fmt.Sprintf(`
Context:
%s`, b.String())
}
