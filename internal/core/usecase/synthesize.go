package usecase

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/resilience"
)

// Synthesizer builds the final prompt from the reranked context and the
// reasoning summary, invokes the generation backend, and attributes the
// answer to its source chunks.
type Synthesizer struct {
	generators ports.GeneratorFactory
	exec       *resilience.Executor
	matcher    CitationMatcher
}

func NewSynthesizer(generators ports.GeneratorFactory, exec *resilience.Executor, matcher CitationMatcher) *Synthesizer {
	if matcher == nil {
		matcher = NewLexicalCitationMatcher()
	}
	return &Synthesizer{
		generators: generators,
		exec:       exec,
		matcher:    matcher,
	}
}

func (s *Synthesizer) Synthesize(
	ctx context.Context,
	question string,
	chunks []domain.Chunk,
	reasoningSummary string,
	cfg domain.PipelineConfig,
) (string, []domain.ChunkReference, error) {
	included := budgetChunks(chunks, cfg.ContextTokenBudget)
	prompt := buildSynthesisPrompt(question, reasoningSummary, included)

	answer, err := s.generate(ctx, cfg.GenerationBackend, prompt, cfg)
	if err != nil {
		fallback := cfg.FallbackGeneration
		if fallback == "" || fallback == cfg.GenerationBackend {
			return "", nil, domain.WrapError(domain.ErrGeneration, "generate answer", err)
		}

		slog.Warn("generation_fallback_backend",
			"primary", cfg.GenerationBackend,
			"fallback", fallback,
			"error", err,
		)
		// One failover attempt, no retry loop.
		answer, err = s.generateOnce(ctx, fallback, prompt, cfg)
		if err != nil {
			return "", nil, domain.WrapError(domain.ErrGeneration, "generate answer fallback", err)
		}
	}

	citations := s.matcher.Match(answer, included)
	return answer, citations, nil
}

func (s *Synthesizer) generate(
	ctx context.Context,
	backend domain.GenerationBackend,
	prompt string,
	cfg domain.PipelineConfig,
) (string, error) {
	generator, err := s.generators.Generator(backend)
	if err != nil {
		return "", err
	}

	var answer string
	err = s.exec.Execute(ctx, "llm:"+string(backend), "synthesize", func(callCtx context.Context) error {
		genCtx, cancel := context.WithTimeout(callCtx, cfg.GenerationTimeout)
		defer cancel()
		out, genErr := generator.Generate(genCtx, prompt, domain.GenerationOptions{
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		if genErr != nil {
			return genErr
		}
		answer = strings.TrimSpace(out)
		return nil
	}, resilience.DefaultClassifier)
	return answer, err
}

func (s *Synthesizer) generateOnce(
	ctx context.Context,
	backend domain.GenerationBackend,
	prompt string,
	cfg domain.PipelineConfig,
) (string, error) {
	generator, err := s.generators.Generator(backend)
	if err != nil {
		return "", err
	}

	genCtx, cancel := context.WithTimeout(ctx, cfg.GenerationTimeout)
	defer cancel()
	answer, err := generator.Generate(genCtx, prompt, domain.GenerationOptions{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// budgetChunks keeps chunks in score order until the token budget is
// exhausted; the lowest-scoring chunks are dropped first because the input
// is already sorted descending.
func budgetChunks(chunks []domain.Chunk, tokenBudget int) []domain.Chunk {
	if tokenBudget <= 0 {
		return chunks
	}
	used := 0
	out := make([]domain.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		cost := estimateTokens(chunk.Text)
		if used+cost > tokenBudget && len(out) > 0 {
			break
		}
		out = append(out, chunk)
		used += cost
	}
	return out
}

// estimateTokens uses the usual ~4 characters per token approximation.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 {
		return 1
	}
	return n
}
