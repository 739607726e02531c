package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

// Config holds the Qdrant connection settings. The URL scheme selects TLS;
// the port defaults to the gRPC port when absent.
type Config struct {
	URL        string
	Collection string
	APIKey     string
}

// Store serves dense search through the Qdrant gRPC API and keyword search
// through a full-text filtered scroll scored lexically on the client.
type Store struct {
	client     *qdrant.Client
	collection string
}

func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}

	raw := cfg.URL
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}

	port := 6334
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	return &Store{client: client, collection: cfg.Collection}, nil
}

func (s *Store) Search(
	ctx context.Context,
	queryVector []float32,
	topK int,
	filter domain.SearchFilter,
) ([]domain.Chunk, error) {
	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          &limit,
		Filter:         buildFilter(filter, ""),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, wrapQdrantError("qdrant search", err)
	}

	out := make([]domain.Chunk, 0, len(points))
	for _, point := range points {
		chunk := chunkFromPayload(point.Payload)
		chunk.ID = pointID(point.Id)
		chunk.Score = float64(point.Score)
		out = append(out, chunk)
	}
	return out, nil
}

// KeywordSearch narrows candidates with a server-side full-text match and
// ranks them with the lexical scorer, since scrolled points carry no score.
func (s *Store) KeywordSearch(
	ctx context.Context,
	query string,
	topK int,
	filter domain.SearchFilter,
) ([]domain.Chunk, error) {
	scrollLimit := uint32(topK * 4)
	if scrollLimit > 256 {
		scrollLimit = 256
	}
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         buildFilter(filter, query),
		Limit:          &scrollLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, wrapQdrantError("qdrant keyword search", err)
	}

	out := make([]domain.Chunk, 0, len(points))
	for _, point := range points {
		chunk := chunkFromPayload(point.Payload)
		chunk.ID = pointID(point.Id)
		out = append(out, chunk)
	}
	return rankByLexicalScore(query, out, topK), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func buildFilter(filter domain.SearchFilter, fullTextQuery string) *qdrant.Filter {
	var conditions []*qdrant.Condition
	if filter.CollectionID != "" {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "collection_id",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: filter.CollectionID}},
				},
			},
		})
	}
	if fullTextQuery != "" {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "text",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Text{Text: fullTextQuery}},
				},
			},
		})
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func chunkFromPayload(payload map[string]*qdrant.Value) domain.Chunk {
	chunk := domain.Chunk{}
	for key, value := range payload {
		switch key {
		case "text":
			chunk.Text = value.GetStringValue()
		case "source_document_id":
			chunk.SourceDocumentID = value.GetStringValue()
		case "collection_id":
			// Carried in the filter, not on the chunk.
		default:
			if str := value.GetStringValue(); str != "" {
				if chunk.Metadata == nil {
					chunk.Metadata = make(map[string]string, 4)
				}
				chunk.Metadata[key] = str
			}
		}
	}
	return chunk
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func wrapQdrantError(op string, err error) error {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return domain.WrapError(domain.ErrBackendTimeout, op, err)
	case codes.Unavailable, codes.Aborted:
		return domain.WrapError(domain.ErrBackendUnavailable, op, err)
	case codes.ResourceExhausted:
		return domain.WrapError(domain.ErrRateLimited, op, err)
	case codes.NotFound:
		return domain.WrapError(domain.ErrNotFound, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
