package ports

import (
	"context"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

// VectorStore performs similarity search over an indexed collection.
// Implementations must be safe for concurrent use; one shared instance
// serves all in-flight requests.
type VectorStore interface {
	Search(ctx context.Context, vector []float32, topK int, filter domain.SearchFilter) ([]domain.Chunk, error)
}

// KeywordSearcher is an optional capability. Backends that do not implement
// it disable hybrid retrieval for collections configured to use them.
type KeywordSearcher interface {
	KeywordSearch(ctx context.Context, query string, topK int, filter domain.SearchFilter) ([]domain.Chunk, error)
}

// Embedder builds the query vector. Batch embedding for ingestion lives with
// the ingestion service, not here.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator is the uniform contract over a language-model provider.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts domain.GenerationOptions) (string, error)
}

// VectorStoreFactory resolves a shared VectorStore by backend identifier.
type VectorStoreFactory interface {
	VectorStore(backend domain.VectorBackend) (VectorStore, error)
}

// GeneratorFactory resolves a shared Generator by backend identifier.
type GeneratorFactory interface {
	Generator(backend domain.GenerationBackend) (Generator, error)
}

// ConfigurationStore provides the persisted per-collection pipeline
// configuration backing PipelineConfig resolution.
type ConfigurationStore interface {
	GetPipelineConfig(ctx context.Context, userID, collectionID string) (*domain.PipelineConfig, error)
	CollectionExists(ctx context.Context, collectionID string) (bool, error)
}

// EventPublisher emits query lifecycle events. Publishing is best effort and
// never blocks or fails a response.
type EventPublisher interface {
	PublishQueryCompleted(ctx context.Context, event domain.QueryCompletedEvent) error
}
