package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/resilience"
)

func newTestResilience(maxAttempts int) *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    maxAttempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeVectorStore struct {
	mu     sync.Mutex
	calls  int
	chunks []domain.Chunk
	err    error
}

func (f *fakeVectorStore) Search(_ context.Context, _ []float32, topK int, _ domain.SearchFilter) ([]domain.Chunk, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Chunk, len(f.chunks))
	copy(out, f.chunks)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeVectorStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHybridStore struct {
	fakeVectorStore
	keyword    []domain.Chunk
	keywordErr error
}

func (f *fakeHybridStore) KeywordSearch(_ context.Context, _ string, topK int, _ domain.SearchFilter) ([]domain.Chunk, error) {
	if f.keywordErr != nil {
		return nil, f.keywordErr
	}
	out := make([]domain.Chunk, len(f.keyword))
	copy(out, f.keyword)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

type storeFactory map[domain.VectorBackend]ports.VectorStore

func (f storeFactory) VectorStore(backend domain.VectorBackend) (ports.VectorStore, error) {
	store, ok := f[backend]
	if !ok {
		return nil, fmt.Errorf("unknown vector backend %q", backend)
	}
	return store, nil
}

// fakeGenerator dispatches on the prompt so one fake can serve decomposition,
// sub-answer, rerank, and synthesis calls deterministically.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	respond func(prompt string) (string, error)
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, _ domain.GenerationOptions) (string, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return "", errors.New("no responder configured")
	}
	return respond(prompt)
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type generatorFactory map[domain.GenerationBackend]ports.Generator

func (f generatorFactory) Generator(backend domain.GenerationBackend) (ports.Generator, error) {
	generator, ok := f[backend]
	if !ok {
		return nil, fmt.Errorf("unknown generation backend %q", backend)
	}
	return generator, nil
}

type fakeConfigStore struct {
	cfg       *domain.PipelineConfig
	cfgErr    error
	exists    bool
	existsErr error
}

func (f *fakeConfigStore) GetPipelineConfig(_ context.Context, _, _ string) (*domain.PipelineConfig, error) {
	if f.cfgErr != nil {
		return nil, f.cfgErr
	}
	if f.cfg == nil {
		return nil, domain.WrapError(domain.ErrNotFound, "get pipeline config", errors.New("no config"))
	}
	out := *f.cfg
	return &out, nil
}

func (f *fakeConfigStore) CollectionExists(_ context.Context, _ string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.exists, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.QueryCompletedEvent
}

func (f *fakePublisher) PublishQueryCompleted(_ context.Context, event domain.QueryCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func testChunks() []domain.Chunk {
	return []domain.Chunk{
		{ID: "c1", Text: "Alpha systems use a columnar storage engine.", SourceDocumentID: "d1", Score: 0.9},
		{ID: "c2", Text: "Beta systems use a row oriented storage engine.", SourceDocumentID: "d1", Score: 0.7},
		{ID: "c3", Text: "Alpha and Beta both support replication.", SourceDocumentID: "d2", Score: 0.5},
		{ID: "c4", Text: "Pricing details for enterprise plans.", SourceDocumentID: "d3", Score: 0.2},
		{ID: "c5", Text: "Unrelated release notes.", SourceDocumentID: "d3", Score: 0.1},
	}
}
