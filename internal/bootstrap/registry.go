package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirillkom/rag-query-engine/internal/config"
	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/llm/anthropic"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/llm/openai"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/llm/throttle"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/vector/chroma"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/vector/neo4j"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/vector/pgvector"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/vector/sqlitevec"
)

// backendRegistry builds vector stores and generators on first use and
// shares the instances across requests. Unknown identifiers are config
// errors so a bad profile fails the request at resolve time, not mid-stage.
type backendRegistry struct {
	cfg config.Config

	mu      sync.Mutex
	stores  map[domain.VectorBackend]ports.VectorStore
	gens    map[domain.GenerationBackend]ports.Generator
	closers []func(context.Context) error
}

func newBackendRegistry(cfg config.Config) *backendRegistry {
	return &backendRegistry{
		cfg:    cfg,
		stores: make(map[domain.VectorBackend]ports.VectorStore),
		gens:   make(map[domain.GenerationBackend]ports.Generator),
	}
}

func (r *backendRegistry) VectorStore(backend domain.VectorBackend) (ports.VectorStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if store, ok := r.stores[backend]; ok {
		return store, nil
	}
	store, err := r.buildVectorStore(backend)
	if err != nil {
		return nil, err
	}
	r.stores[backend] = store
	return store, nil
}

func (r *backendRegistry) buildVectorStore(backend domain.VectorBackend) (ports.VectorStore, error) {
	switch backend {
	case domain.VectorBackendQdrant:
		store, err := qdrant.New(qdrant.Config{
			URL:        r.cfg.QdrantURL,
			Collection: r.cfg.QdrantCollection,
			APIKey:     r.cfg.QdrantAPIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init qdrant: %w", err)
		}
		r.closers = append(r.closers, func(context.Context) error { return store.Close() })
		return store, nil

	case domain.VectorBackendPgvector:
		db, err := pgvector.OpenDB(r.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open pgvector db: %w", err)
		}
		store := pgvector.New(db)
		if err := store.EnsureSchema(context.Background()); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure pgvector schema: %w", err)
		}
		r.closers = append(r.closers, func(context.Context) error { return db.Close() })
		return store, nil

	case domain.VectorBackendChroma:
		return chroma.New(r.cfg.ChromaURL, r.cfg.ChromaCollection), nil

	case domain.VectorBackendSQLite:
		db, err := sqlitevec.OpenDB(r.cfg.SQLiteVecPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite db: %w", err)
		}
		store := sqlitevec.New(db)
		if err := store.EnsureSchema(context.Background()); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure sqlite schema: %w", err)
		}
		r.closers = append(r.closers, func(context.Context) error { return db.Close() })
		return store, nil

	case domain.VectorBackendNeo4j:
		store, err := neo4j.New(neo4j.Config{
			URI:      r.cfg.Neo4jURI,
			Username: r.cfg.Neo4jUsername,
			Password: r.cfg.Neo4jPassword,
			Database: r.cfg.Neo4jDatabase,
		})
		if err != nil {
			return nil, fmt.Errorf("init neo4j: %w", err)
		}
		r.closers = append(r.closers, store.Close)
		return store, nil

	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "resolve vector backend",
			fmt.Errorf("unknown vector backend %q", backend))
	}
}

func (r *backendRegistry) Generator(backend domain.GenerationBackend) (ports.Generator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen, ok := r.gens[backend]; ok {
		return gen, nil
	}

	var inner ports.Generator
	switch backend {
	case domain.GenerationBackendOllama:
		inner = ollama.New(r.cfg.OllamaURL, r.cfg.OllamaGenModel, r.cfg.OllamaEmbedModel)
	case domain.GenerationBackendOpenAI:
		inner = openai.New(r.cfg.OpenAIBaseURL, r.cfg.OpenAIAPIKey, r.cfg.OpenAIGenModel, r.cfg.OpenAIEmbedModel)
	case domain.GenerationBackendAnthropic:
		inner = anthropic.New(r.cfg.AnthropicBaseURL, r.cfg.AnthropicAPIKey, r.cfg.AnthropicModel)
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "resolve generation backend",
			fmt.Errorf("unknown generation backend %q", backend))
	}

	gen := ports.Generator(inner)
	if r.cfg.GenerationRPS > 0 {
		gen = throttle.NewGenerator(inner, r.cfg.GenerationRPS, r.cfg.GenerationBurst)
	}
	r.gens[backend] = gen
	return gen, nil
}

// Embedder returns the query embedder. The embedding backend is a deployment
// decision, not a per-collection one: the query vector must live in the same
// space the collection was indexed in.
func (r *backendRegistry) Embedder() (ports.Embedder, error) {
	var inner ports.Embedder
	switch r.cfg.EmbedBackend {
	case "ollama", "":
		inner = ollama.New(r.cfg.OllamaURL, r.cfg.OllamaGenModel, r.cfg.OllamaEmbedModel)
	case "openai":
		inner = openai.New(r.cfg.OpenAIBaseURL, r.cfg.OpenAIAPIKey, r.cfg.OpenAIGenModel, r.cfg.OpenAIEmbedModel)
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "resolve embed backend",
			fmt.Errorf("unknown embed backend %q", r.cfg.EmbedBackend))
	}

	if r.cfg.GenerationRPS > 0 {
		return throttle.NewEmbedder(inner, r.cfg.GenerationRPS, r.cfg.GenerationBurst), nil
	}
	return inner, nil
}

func (r *backendRegistry) Close(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, closer := range r.closers {
		_ = closer(ctx)
	}
	r.closers = nil
}
