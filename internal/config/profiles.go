package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

// Profile is the YAML shape of a named pipeline default. Durations are
// spelled as Go duration strings ("5s", "2m").
type Profile struct {
	VectorBackend         string `yaml:"vector_backend"`
	FallbackVectorBackend string `yaml:"fallback_vector_backend"`
	GenerationBackend     string `yaml:"generation_backend"`
	FallbackGeneration    string `yaml:"fallback_generation_backend"`

	EnhancerKind string `yaml:"enhancer_kind"`
	RerankerKind string `yaml:"reranker_kind"`

	TopK                int     `yaml:"top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	HybridSearch        bool    `yaml:"hybrid_search"`
	HybridAlpha         float64 `yaml:"hybrid_alpha"`

	EnableChainOfThought bool `yaml:"enable_chain_of_thought"`
	MaxReasoningDepth    int  `yaml:"max_reasoning_depth"`
	MaxReasoningBreadth  int  `yaml:"max_reasoning_breadth"`

	Temperature        float64 `yaml:"temperature"`
	MaxTokens          int     `yaml:"max_tokens"`
	ContextTokenBudget int     `yaml:"context_token_budget"`

	RerankConcurrency    int `yaml:"rerank_concurrency"`
	ReasoningConcurrency int `yaml:"reasoning_concurrency"`

	EnhanceTimeout    string `yaml:"enhance_timeout"`
	RetrievalTimeout  string `yaml:"retrieval_timeout"`
	RerankTimeout     string `yaml:"rerank_timeout"`
	GenerationTimeout string `yaml:"generation_timeout"`
	RequestTimeout    string `yaml:"request_timeout"`
}

type profileFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads the named pipeline profiles from a YAML file. An empty
// path returns an empty map so callers fall back to the built-in defaults.
func LoadProfiles(path string) (map[string]domain.PipelineConfig, error) {
	if path == "" {
		return map[string]domain.PipelineConfig{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}

	var file profileFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse profiles file: %w", err)
	}

	out := make(map[string]domain.PipelineConfig, len(file.Profiles))
	for name, profile := range file.Profiles {
		cfg, err := profile.toPipelineConfig()
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		out[name] = cfg.Normalize()
	}
	return out, nil
}

func (p Profile) toPipelineConfig() (domain.PipelineConfig, error) {
	cfg := domain.PipelineConfig{
		VectorBackend:         domain.VectorBackend(p.VectorBackend),
		FallbackVectorBackend: domain.VectorBackend(p.FallbackVectorBackend),
		GenerationBackend:     domain.GenerationBackend(p.GenerationBackend),
		FallbackGeneration:    domain.GenerationBackend(p.FallbackGeneration),
		EnhancerKind:          domain.EnhancerKind(p.EnhancerKind),
		RerankerKind:          domain.RerankerKind(p.RerankerKind),
		TopK:                  p.TopK,
		SimilarityThreshold:   p.SimilarityThreshold,
		HybridSearch:          p.HybridSearch,
		HybridAlpha:           p.HybridAlpha,
		EnableChainOfThought:  p.EnableChainOfThought,
		MaxReasoningDepth:     p.MaxReasoningDepth,
		MaxReasoningBreadth:   p.MaxReasoningBreadth,
		Temperature:           p.Temperature,
		MaxTokens:             p.MaxTokens,
		ContextTokenBudget:    p.ContextTokenBudget,
		RerankConcurrency:     p.RerankConcurrency,
		ReasoningConcurrency:  p.ReasoningConcurrency,
	}

	durations := []struct {
		raw  string
		dest *time.Duration
		name string
	}{
		{p.EnhanceTimeout, &cfg.EnhanceTimeout, "enhance_timeout"},
		{p.RetrievalTimeout, &cfg.RetrievalTimeout, "retrieval_timeout"},
		{p.RerankTimeout, &cfg.RerankTimeout, "rerank_timeout"},
		{p.GenerationTimeout, &cfg.GenerationTimeout, "generation_timeout"},
		{p.RequestTimeout, &cfg.RequestTimeout, "request_timeout"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return domain.PipelineConfig{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dest = parsed
	}
	return cfg, nil
}
