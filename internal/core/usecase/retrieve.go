package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/resilience"
)

// Retriever executes similarity (and optionally hybrid keyword) search. Each
// backend call runs under the resilience executor; when the primary backend
// exhausts its retry budget and a fallback backend is configured, the whole
// retrieval is repeated once against the fallback.
type Retriever struct {
	embedder ports.Embedder
	stores   ports.VectorStoreFactory
	exec     *resilience.Executor
}

// RetrievalResult carries the candidates plus any keyword-search failures the
// stage absorbed while degrading hybrid retrieval to dense-only results.
type RetrievalResult struct {
	Chunks      []domain.Chunk
	KeywordErrs []error
}

func NewRetriever(embedder ports.Embedder, stores ports.VectorStoreFactory, exec *resilience.Executor) *Retriever {
	return &Retriever{
		embedder: embedder,
		stores:   stores,
		exec:     exec,
	}
}

func (r *Retriever) Retrieve(
	ctx context.Context,
	question string,
	collectionID string,
	cfg domain.PipelineConfig,
) (RetrievalResult, error) {
	vector, err := r.embedQuery(ctx, question, cfg)
	if err != nil {
		return RetrievalResult{}, domain.WrapError(domain.ErrRetrieval, "embed query", err)
	}

	result, err := r.retrieveFromBackend(ctx, cfg.VectorBackend, vector, question, collectionID, cfg)
	if err == nil {
		return result, nil
	}

	fallback := cfg.FallbackVectorBackend
	if fallback == "" || fallback == cfg.VectorBackend {
		return RetrievalResult{}, domain.WrapError(domain.ErrRetrieval, "search "+string(cfg.VectorBackend), err)
	}

	slog.Warn("retrieval_fallback_backend",
		"primary", cfg.VectorBackend,
		"fallback", fallback,
		"error", err,
	)
	result, fbErr := r.retrieveFromBackend(ctx, fallback, vector, question, collectionID, cfg)
	if fbErr != nil {
		return RetrievalResult{}, domain.WrapError(domain.ErrRetrieval, "search fallback "+string(fallback), fbErr)
	}
	return result, nil
}

func (r *Retriever) embedQuery(ctx context.Context, question string, cfg domain.PipelineConfig) ([]float32, error) {
	var vector []float32
	err := r.exec.Execute(ctx, "embedder:"+string(cfg.GenerationBackend), "embed", func(callCtx context.Context) error {
		out, embedErr := r.embedder.Embed(callCtx, question)
		if embedErr != nil {
			return embedErr
		}
		vector = out
		return nil
	}, resilience.DefaultClassifier)
	return vector, err
}

func (r *Retriever) retrieveFromBackend(
	ctx context.Context,
	backend domain.VectorBackend,
	vector []float32,
	question string,
	collectionID string,
	cfg domain.PipelineConfig,
) (RetrievalResult, error) {
	store, err := r.stores.VectorStore(backend)
	if err != nil {
		return RetrievalResult{}, err
	}

	filter := domain.SearchFilter{CollectionID: collectionID}
	keywordStore, hybridCapable := store.(ports.KeywordSearcher)
	hybrid := cfg.HybridSearch && hybridCapable

	var dense, keyword []domain.Chunk
	var keywordErr error
	if hybrid {
		// Vector and keyword search run concurrently. Keyword results are
		// additive: losing them after the retry budget degrades the stage
		// to dense-only instead of failing the retrieval.
		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			out, searchErr := r.search(groupCtx, backend, store, vector, cfg.TopK, filter, cfg)
			if searchErr != nil {
				return searchErr
			}
			dense = out
			return nil
		})
		group.Go(func() error {
			out, searchErr := r.keywordSearch(groupCtx, backend, keywordStore, question, cfg.TopK, filter, cfg)
			if searchErr != nil {
				keywordErr = searchErr
				return nil
			}
			keyword = out
			return nil
		})
		if err := group.Wait(); err != nil {
			return RetrievalResult{}, err
		}
	} else {
		dense, err = r.search(ctx, backend, store, vector, cfg.TopK, filter, cfg)
		if err != nil {
			return RetrievalResult{}, err
		}
	}

	var result RetrievalResult
	fused := dense
	if hybrid && keywordErr == nil {
		fused = fuseWeighted(dense, keyword, cfg.HybridAlpha)
	} else {
		fused = sortChunks(fused)
	}
	if keywordErr != nil {
		slog.Warn("retrieval_keyword_degraded", "backend", backend, "error", keywordErr)
		result.KeywordErrs = append(result.KeywordErrs,
			fmt.Errorf("keyword search %s: %w", backend, keywordErr))
	}

	fused = filterByThreshold(fused, cfg.SimilarityThreshold)
	result.Chunks = trimCandidates(fused, cfg.TopK)
	return result, nil
}

func (r *Retriever) search(
	ctx context.Context,
	backend domain.VectorBackend,
	store ports.VectorStore,
	vector []float32,
	topK int,
	filter domain.SearchFilter,
	cfg domain.PipelineConfig,
) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := r.exec.Execute(ctx, "vector:"+string(backend), "search", func(callCtx context.Context) error {
		searchCtx, cancel := context.WithTimeout(callCtx, cfg.RetrievalTimeout)
		defer cancel()
		out, searchErr := store.Search(searchCtx, vector, topK, filter)
		if searchErr != nil {
			return searchErr
		}
		chunks = out
		return nil
	}, resilience.DefaultClassifier)
	return chunks, err
}

func (r *Retriever) keywordSearch(
	ctx context.Context,
	backend domain.VectorBackend,
	store ports.KeywordSearcher,
	question string,
	topK int,
	filter domain.SearchFilter,
	cfg domain.PipelineConfig,
) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := r.exec.Execute(ctx, "vector:"+string(backend), "keyword_search", func(callCtx context.Context) error {
		searchCtx, cancel := context.WithTimeout(callCtx, cfg.RetrievalTimeout)
		defer cancel()
		out, searchErr := store.KeywordSearch(searchCtx, question, topK, filter)
		if searchErr != nil {
			return searchErr
		}
		chunks = out
		return nil
	}, resilience.DefaultClassifier)
	return chunks, err
}
