package neo4j

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

// Config holds the Neo4j connection and index settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string

	// VectorIndex and FulltextIndex are the names of the indexes over chunk
	// nodes created at ingestion time.
	VectorIndex   string
	FulltextIndex string
}

// Store serves dense search through db.index.vector.queryNodes and keyword
// search through the full-text index over the same chunk nodes.
type Store struct {
	driver neo4j.DriverWithContext
	cfg    Config
}

func New(cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}
	if cfg.VectorIndex == "" {
		cfg.VectorIndex = "chunk_embeddings"
	}
	if cfg.FulltextIndex == "" {
		cfg.FulltextIndex = "chunk_text"
	}
	return &Store{driver: driver, cfg: cfg}, nil
}

func (s *Store) Search(
	ctx context.Context,
	queryVector []float32,
	topK int,
	filter domain.SearchFilter,
) ([]domain.Chunk, error) {
	vector := make([]float64, len(queryVector))
	for i, v := range queryVector {
		vector[i] = float64(v)
	}

	// Oversample before the collection filter so the post-filtered result can
	// still fill topK.
	const query = `
CALL db.index.vector.queryNodes($index, $k, $vector)
YIELD node, score
WHERE node.collection_id = $collection
RETURN node.id AS id, node.text AS text, node.source_document_id AS source_document_id, score
ORDER BY score DESC, id
LIMIT $limit`
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, map[string]any{
		"index":      s.cfg.VectorIndex,
		"k":          topK * 4,
		"vector":     vector,
		"collection": filter.CollectionID,
		"limit":      topK,
	}, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(s.cfg.Database))
	if err != nil {
		return nil, wrapNeo4jError("neo4j vector search", err)
	}
	return chunksFromRecords(result.Records), nil
}

func (s *Store) KeywordSearch(
	ctx context.Context,
	query string,
	topK int,
	filter domain.SearchFilter,
) ([]domain.Chunk, error) {
	const cypher = `
CALL db.index.fulltext.queryNodes($index, $query)
YIELD node, score
WHERE node.collection_id = $collection
RETURN node.id AS id, node.text AS text, node.source_document_id AS source_document_id, score
ORDER BY score DESC, id
LIMIT $limit`
	result, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, map[string]any{
		"index":      s.cfg.FulltextIndex,
		"query":      query,
		"collection": filter.CollectionID,
		"limit":      topK,
	}, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(s.cfg.Database))
	if err != nil {
		return nil, wrapNeo4jError("neo4j keyword search", err)
	}
	return chunksFromRecords(result.Records), nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func chunksFromRecords(records []*neo4j.Record) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(records))
	for _, record := range records {
		out = append(out, domain.Chunk{
			ID:               recordString(record, "id"),
			Text:             recordString(record, "text"),
			SourceDocumentID: recordString(record, "source_document_id"),
			Score:            recordFloat(record, "score"),
		})
	}
	return out
}

func recordString(record *neo4j.Record, key string) string {
	value, ok := record.Get(key)
	if !ok || value == nil {
		return ""
	}
	s, ok := value.(string)
	if !ok {
		return fmt.Sprintf("%v", value)
	}
	return s
}

func recordFloat(record *neo4j.Record, key string) float64 {
	value, ok := record.Get(key)
	if !ok || value == nil {
		return 0
	}
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func wrapNeo4jError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrBackendTimeout, op, err)
	case neo4j.IsConnectivityError(err):
		return domain.WrapError(domain.ErrBackendUnavailable, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
