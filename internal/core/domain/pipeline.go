package domain

import "time"

type VectorBackend string

const (
	VectorBackendQdrant   VectorBackend = "qdrant"
	VectorBackendPgvector VectorBackend = "pgvector"
	VectorBackendChroma   VectorBackend = "chroma"
	VectorBackendSQLite   VectorBackend = "sqlite"
	VectorBackendNeo4j    VectorBackend = "neo4j"
)

type GenerationBackend string

const (
	GenerationBackendOllama    GenerationBackend = "ollama"
	GenerationBackendOpenAI    GenerationBackend = "openai"
	GenerationBackendAnthropic GenerationBackend = "anthropic"
)

type EnhancerKind string

const (
	EnhancerPassthrough EnhancerKind = "passthrough"
	EnhancerRewrite     EnhancerKind = "rewrite"
	EnhancerLLM         EnhancerKind = "llm"
)

type RerankerKind string

const (
	RerankerSimple       RerankerKind = "simple"
	RerankerCrossEncoder RerankerKind = "crossencoder"
	RerankerLLM          RerankerKind = "llm"
)

// PipelineConfig is resolved once per request and read-only afterwards.
type PipelineConfig struct {
	VectorBackend         VectorBackend     `json:"vector_backend" yaml:"vector_backend"`
	FallbackVectorBackend VectorBackend     `json:"fallback_vector_backend,omitempty" yaml:"fallback_vector_backend"`
	GenerationBackend     GenerationBackend `json:"generation_backend" yaml:"generation_backend"`
	FallbackGeneration    GenerationBackend `json:"fallback_generation_backend,omitempty" yaml:"fallback_generation_backend"`

	EnhancerKind EnhancerKind `json:"enhancer_kind" yaml:"enhancer_kind"`
	RerankerKind RerankerKind `json:"reranker_kind" yaml:"reranker_kind"`

	TopK                int     `json:"top_k" yaml:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
	HybridSearch        bool    `json:"hybrid_search" yaml:"hybrid_search"`
	HybridAlpha         float64 `json:"hybrid_alpha" yaml:"hybrid_alpha"`

	EnableChainOfThought bool `json:"enable_chain_of_thought" yaml:"enable_chain_of_thought"`
	MaxReasoningDepth    int  `json:"max_reasoning_depth" yaml:"max_reasoning_depth"`
	MaxReasoningBreadth  int  `json:"max_reasoning_breadth" yaml:"max_reasoning_breadth"`

	Temperature        float64 `json:"temperature" yaml:"temperature"`
	MaxTokens          int     `json:"max_tokens" yaml:"max_tokens"`
	ContextTokenBudget int     `json:"context_token_budget" yaml:"context_token_budget"`

	RerankConcurrency    int `json:"rerank_concurrency" yaml:"rerank_concurrency"`
	ReasoningConcurrency int `json:"reasoning_concurrency" yaml:"reasoning_concurrency"`

	EnhanceTimeout    time.Duration `json:"enhance_timeout" yaml:"enhance_timeout"`
	RetrievalTimeout  time.Duration `json:"retrieval_timeout" yaml:"retrieval_timeout"`
	RerankTimeout     time.Duration `json:"rerank_timeout" yaml:"rerank_timeout"`
	GenerationTimeout time.Duration `json:"generation_timeout" yaml:"generation_timeout"`
	RequestTimeout    time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

// DefaultPipelineConfig is the system fallback used when neither the
// configuration store nor the profile file has an entry for the collection.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		VectorBackend:        VectorBackendQdrant,
		GenerationBackend:    GenerationBackendOllama,
		EnhancerKind:         EnhancerPassthrough,
		RerankerKind:         RerankerSimple,
		TopK:                 5,
		SimilarityThreshold:  0.3,
		HybridAlpha:          0.7,
		MaxReasoningDepth:    2,
		MaxReasoningBreadth:  3,
		Temperature:          0.2,
		MaxTokens:            1024,
		ContextTokenBudget:   3000,
		RerankConcurrency:    4,
		ReasoningConcurrency: 4,
		EnhanceTimeout:       5 * time.Second,
		RetrievalTimeout:     10 * time.Second,
		RerankTimeout:        20 * time.Second,
		GenerationTimeout:    60 * time.Second,
		RequestTimeout:       120 * time.Second,
	}
}

// Normalize fills zero values from the system defaults and clamps bounds that
// must hold structurally (depth, breadth, concurrency).
func (c PipelineConfig) Normalize() PipelineConfig {
	def := DefaultPipelineConfig()
	out := c

	if out.VectorBackend == "" {
		out.VectorBackend = def.VectorBackend
	}
	if out.GenerationBackend == "" {
		out.GenerationBackend = def.GenerationBackend
	}
	if out.EnhancerKind == "" {
		out.EnhancerKind = def.EnhancerKind
	}
	if out.RerankerKind == "" {
		out.RerankerKind = def.RerankerKind
	}
	if out.TopK <= 0 {
		out.TopK = def.TopK
	}
	if out.SimilarityThreshold < 0 {
		out.SimilarityThreshold = 0
	}
	if out.HybridAlpha <= 0 || out.HybridAlpha > 1 {
		out.HybridAlpha = def.HybridAlpha
	}
	if out.MaxReasoningDepth <= 0 {
		out.MaxReasoningDepth = def.MaxReasoningDepth
	}
	if out.MaxReasoningBreadth <= 0 {
		out.MaxReasoningBreadth = def.MaxReasoningBreadth
	}
	if out.Temperature < 0 {
		out.Temperature = def.Temperature
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = def.MaxTokens
	}
	if out.ContextTokenBudget <= 0 {
		out.ContextTokenBudget = def.ContextTokenBudget
	}
	if out.RerankConcurrency <= 0 {
		out.RerankConcurrency = def.RerankConcurrency
	}
	if out.ReasoningConcurrency <= 0 {
		out.ReasoningConcurrency = def.ReasoningConcurrency
	}
	if out.EnhanceTimeout <= 0 {
		out.EnhanceTimeout = def.EnhanceTimeout
	}
	if out.RetrievalTimeout <= 0 {
		out.RetrievalTimeout = def.RetrievalTimeout
	}
	if out.RerankTimeout <= 0 {
		out.RerankTimeout = def.RerankTimeout
	}
	if out.GenerationTimeout <= 0 {
		out.GenerationTimeout = def.GenerationTimeout
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = def.RequestTimeout
	}
	return out
}

// ConfigOverride carries the optional per-request parameter overrides accepted
// by ExecuteQuery. Nil fields keep the resolved value.
type ConfigOverride struct {
	TopK                 *int     `json:"top_k,omitempty"`
	SimilarityThreshold  *float64 `json:"similarity_threshold,omitempty"`
	RerankerKind         *string  `json:"reranker_kind,omitempty"`
	EnableChainOfThought *bool    `json:"enable_chain_of_thought,omitempty"`
	Temperature          *float64 `json:"temperature,omitempty"`
	MaxTokens            *int     `json:"max_tokens,omitempty"`
}

// Apply merges the override into a resolved config.
func (o *ConfigOverride) Apply(cfg PipelineConfig) PipelineConfig {
	if o == nil {
		return cfg
	}
	if o.TopK != nil {
		cfg.TopK = *o.TopK
	}
	if o.SimilarityThreshold != nil {
		cfg.SimilarityThreshold = *o.SimilarityThreshold
	}
	if o.RerankerKind != nil {
		cfg.RerankerKind = RerankerKind(*o.RerankerKind)
	}
	if o.EnableChainOfThought != nil {
		cfg.EnableChainOfThought = *o.EnableChainOfThought
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		cfg.MaxTokens = *o.MaxTokens
	}
	return cfg
}

// GenerationOptions are passed per call to a generation backend.
type GenerationOptions struct {
	Temperature float64
	MaxTokens   int
}
