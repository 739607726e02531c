package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/resilience"
)

// Enhancer rewrites the raw question before retrieval. Failure here is never
// fatal; callers fall back to the original question.
type Enhancer struct {
	generators ports.GeneratorFactory
	exec       *resilience.Executor
}

func NewEnhancer(generators ports.GeneratorFactory, exec *resilience.Executor) *Enhancer {
	return &Enhancer{generators: generators, exec: exec}
}

func (e *Enhancer) Enhance(ctx context.Context, question string, cfg domain.PipelineConfig) (string, error) {
	switch cfg.EnhancerKind {
	case domain.EnhancerPassthrough, "":
		return question, nil
	case domain.EnhancerRewrite:
		return rewriteQuestion(question), nil
	case domain.EnhancerLLM:
		return e.enhanceLLM(ctx, question, cfg)
	default:
		return question, fmt.Errorf("unknown enhancer kind %q", cfg.EnhancerKind)
	}
}

func (e *Enhancer) enhanceLLM(ctx context.Context, question string, cfg domain.PipelineConfig) (string, error) {
	generator, err := e.generators.Generator(cfg.GenerationBackend)
	if err != nil {
		return question, err
	}

	enhanceCtx, cancel := context.WithTimeout(ctx, cfg.EnhanceTimeout)
	defer cancel()

	var rewritten string
	err = e.exec.Execute(enhanceCtx, "llm:"+string(cfg.GenerationBackend), "enhance", func(callCtx context.Context) error {
		out, genErr := generator.Generate(callCtx, buildRewritePrompt(question), domain.GenerationOptions{
			Temperature: 0,
			MaxTokens:   256,
		})
		if genErr != nil {
			return genErr
		}
		rewritten = strings.TrimSpace(out)
		return nil
	}, resilience.DefaultClassifier)
	if err != nil {
		return question, err
	}
	if rewritten == "" {
		return question, nil
	}
	return rewritten, nil
}

// Deterministic rewrite: whitespace normalization plus expansion of common
// shorthand that embedding models tend to miss.
var rewriteExpansions = map[string]string{
	"vs":   "versus",
	"w/":   "with",
	"w/o":  "without",
	"db":   "database",
	"cfg":  "configuration",
	"docs": "documents",
	"info": "information",
}

func rewriteQuestion(question string) string {
	fields := strings.Fields(question)
	if len(fields) == 0 {
		return question
	}
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.ToLower(strings.TrimRight(field, "?.,!"))
		if expanded, ok := rewriteExpansions[trimmed]; ok {
			out = append(out, expanded+field[len(trimmed):])
			continue
		}
		out = append(out, field)
	}
	return strings.Join(out, " ")
}
