package ports

import (
	"context"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

// QueryPipeline is the inbound contract exposed to the HTTP and MCP surfaces.
// The returned SearchContext is non-nil whenever any stage ran, including on
// fatal failure, so callers can inspect partial state.
type QueryPipeline interface {
	ExecuteQuery(ctx context.Context, req domain.QueryRequest) (*domain.SearchContext, error)
}
