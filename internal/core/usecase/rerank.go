package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/resilience"
)

// Reranker re-scores retrieved chunks with the strategy selected by the
// pipeline config. It never adds chunks, and a failure is never fatal: the
// executor falls back to retrieval order.
type Reranker struct {
	generators ports.GeneratorFactory
	exec       *resilience.Executor
}

func NewReranker(generators ports.GeneratorFactory, exec *resilience.Executor) *Reranker {
	return &Reranker{generators: generators, exec: exec}
}

func (r *Reranker) Rerank(
	ctx context.Context,
	chunks []domain.Chunk,
	question string,
	cfg domain.PipelineConfig,
) ([]domain.Chunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	switch cfg.RerankerKind {
	case domain.RerankerSimple, "":
		return rerankSimple(question, chunks), nil
	case domain.RerankerCrossEncoder:
		return r.rerankCrossEncoder(ctx, question, chunks, cfg)
	case domain.RerankerLLM:
		return r.rerankLLM(ctx, question, chunks, cfg)
	default:
		return nil, domain.WrapError(domain.ErrRerank, "rerank", fmt.Errorf("unknown reranker kind %q", cfg.RerankerKind))
	}
}

// rerankSimple re-weights with normalized retrieval score plus lexical
// overlap against the question. Deterministic, no backend calls.
func rerankSimple(question string, chunks []domain.Chunk) []domain.Chunk {
	out := make([]domain.Chunk, len(chunks))
	copy(out, chunks)

	queryTokens := toTokenSet(question)
	norm := maxNormalize(out)
	original := retrievalScores(out)

	for i := range out {
		overlap := tokenOverlap(queryTokens, toTokenSet(out[i].Text))
		out[i].Score = 0.70*norm[i] + 0.30*overlap
	}
	return sortReranked(out, original)
}

// rerankCrossEncoder scores every chunk with a pairwise relevance call,
// bounded by the configured worker pool so the scoring backend is not
// overwhelmed.
func (r *Reranker) rerankCrossEncoder(
	ctx context.Context,
	question string,
	chunks []domain.Chunk,
	cfg domain.PipelineConfig,
) ([]domain.Chunk, error) {
	generator, err := r.generators.Generator(cfg.GenerationBackend)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRerank, "rerank", err)
	}

	out := make([]domain.Chunk, len(chunks))
	copy(out, chunks)
	original := retrievalScores(out)
	norm := maxNormalize(out)
	relevance := make([]float64, len(out))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.RerankConcurrency)
	for i := range out {
		group.Go(func() error {
			score, scoreErr := r.scorePair(groupCtx, generator, question, out[i].Text, cfg)
			if scoreErr != nil {
				return scoreErr
			}
			relevance[i] = score
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, domain.WrapError(domain.ErrRerank, "cross-encoder rerank", err)
	}

	for i := range out {
		out[i].Score = 0.5*relevance[i] + 0.5*norm[i]
	}
	return sortReranked(out, original), nil
}

func (r *Reranker) scorePair(
	ctx context.Context,
	generator ports.Generator,
	question, text string,
	cfg domain.PipelineConfig,
) (float64, error) {
	var raw string
	err := r.exec.Execute(ctx, "llm:"+string(cfg.GenerationBackend), "rerank_score", func(callCtx context.Context) error {
		scoreCtx, cancel := context.WithTimeout(callCtx, cfg.RerankTimeout)
		defer cancel()
		out, genErr := generator.Generate(scoreCtx, buildCrossEncoderPrompt(question, text), domain.GenerationOptions{
			Temperature: 0,
			MaxTokens:   8,
		})
		if genErr != nil {
			return genErr
		}
		raw = out
		return nil
	}, resilience.DefaultClassifier)
	if err != nil {
		return 0, err
	}
	return parseRelevanceScore(raw), nil
}

// rerankLLM scores all candidates in one generation call returning JSON.
func (r *Reranker) rerankLLM(
	ctx context.Context,
	question string,
	chunks []domain.Chunk,
	cfg domain.PipelineConfig,
) ([]domain.Chunk, error) {
	generator, err := r.generators.Generator(cfg.GenerationBackend)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRerank, "rerank", err)
	}

	var raw string
	err = r.exec.Execute(ctx, "llm:"+string(cfg.GenerationBackend), "rerank_batch", func(callCtx context.Context) error {
		rerankCtx, cancel := context.WithTimeout(callCtx, cfg.RerankTimeout)
		defer cancel()
		out, genErr := generator.Generate(rerankCtx, buildLLMRerankPrompt(question, chunks), domain.GenerationOptions{
			Temperature: 0,
			MaxTokens:   512,
		})
		if genErr != nil {
			return genErr
		}
		raw = out
		return nil
	}, resilience.DefaultClassifier)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRerank, "llm rerank", err)
	}

	scores, err := parseLLMRerankScores(raw)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRerank, "parse llm rerank", err)
	}

	out := make([]domain.Chunk, len(chunks))
	copy(out, chunks)
	original := retrievalScores(out)
	for i := range out {
		if score, ok := scores[out[i].ID]; ok {
			out[i].Score = score
		} else {
			out[i].Score = 0
		}
	}
	return sortReranked(out, original), nil
}

func parseLLMRerankScores(raw string) (map[string]float64, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var entries []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &entries); err != nil {
		return nil, fmt.Errorf("decode rerank scores: %w", err)
	}

	out := make(map[string]float64, len(entries))
	for _, entry := range entries {
		out[entry.ID] = clamp01(entry.Score)
	}
	return out, nil
}

// parseRelevanceScore reads the first number out of a model reply and maps
// the conventional 0-10 scale onto [0,1]. Unparseable replies score zero.
func parseRelevanceScore(raw string) float64 {
	fields := strings.FieldsFunc(strings.TrimSpace(raw), func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	for _, field := range fields {
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			continue
		}
		if value > 1 {
			value = value / 10
		}
		return clamp01(value)
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func retrievalScores(chunks []domain.Chunk) map[string]float64 {
	out := make(map[string]float64, len(chunks))
	for _, chunk := range chunks {
		out[chunk.ID] = chunk.Score
	}
	return out
}

// sortReranked orders by the new score descending; ties break on the
// original retrieval score, then on ascending chunk ID.
func sortReranked(chunks []domain.Chunk, original map[string]float64) []domain.Chunk {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		if original[chunks[i].ID] != original[chunks[j].ID] {
			return original[chunks[i].ID] > original[chunks[j].ID]
		}
		return chunks[i].ID < chunks[j].ID
	})
	return chunks
}
