package throttle

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
)

// Generator wraps a generation backend with a token-bucket limiter so
// reasoning fan-out cannot exceed the provider's request budget. Wait blocks
// until a slot frees or the context expires.
type Generator struct {
	inner   ports.Generator
	limiter *rate.Limiter
}

func NewGenerator(inner ports.Generator, requestsPerSecond float64, burst int) *Generator {
	if burst <= 0 {
		burst = 1
	}
	return &Generator{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (g *Generator) Generate(ctx context.Context, prompt string, opts domain.GenerationOptions) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return g.inner.Generate(ctx, prompt, opts)
}

// Embedder applies the same request budget to embedding calls.
type Embedder struct {
	inner   ports.Embedder
	limiter *rate.Limiter
}

func NewEmbedder(inner ports.Embedder, requestsPerSecond float64, burst int) *Embedder {
	if burst <= 0 {
		burst = 1
	}
	return &Embedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.inner.Embed(ctx, text)
}
