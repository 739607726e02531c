package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
)

// ConfigResolver turns a (user, collection) pair into the immutable
// PipelineConfig used for the rest of the request. Resolution failures are
// fatal for the request and never retried.
type ConfigResolver struct {
	store    ports.ConfigurationStore
	defaults domain.PipelineConfig
}

func NewConfigResolver(store ports.ConfigurationStore, defaults domain.PipelineConfig) *ConfigResolver {
	return &ConfigResolver{
		store:    store,
		defaults: defaults.Normalize(),
	}
}

func (r *ConfigResolver) Resolve(
	ctx context.Context,
	userID, collectionID string,
	override *domain.ConfigOverride,
) (domain.PipelineConfig, error) {
	exists, err := r.store.CollectionExists(ctx, collectionID)
	if err != nil {
		return domain.PipelineConfig{}, domain.WrapError(domain.ErrConfiguration, "check collection", err)
	}
	if !exists {
		return domain.PipelineConfig{}, domain.WrapError(
			domain.ErrConfiguration, "resolve pipeline",
			fmt.Errorf("collection %q does not exist", collectionID),
		)
	}

	cfg, err := r.store.GetPipelineConfig(ctx, userID, collectionID)
	switch {
	case err == nil:
		return override.Apply(cfg.Normalize()), nil
	case domain.IsKind(err, domain.ErrNotFound):
		return override.Apply(r.defaults), nil
	default:
		return domain.PipelineConfig{}, domain.WrapError(domain.ErrConfiguration, "load pipeline config", err)
	}
}
