package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

// Client talks to the Chroma HTTP API. Chroma returns cosine distance, so
// scores are reported as 1 - distance to match the other backends.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	topK int,
	filter domain.SearchFilter,
) ([]domain.Chunk, error) {
	reqBody := map[string]any{
		"query_embeddings": [][]float32{queryVector},
		"n_results":        topK,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if filter.CollectionID != "" {
		reqBody["where"] = map[string]any{"collection_id": filter.CollectionID}
	}

	var queryResp struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	path := fmt.Sprintf("/api/v1/collections/%s/query", c.collection)
	if err := c.postJSON(ctx, path, reqBody, &queryResp, "query"); err != nil {
		return nil, err
	}

	if len(queryResp.IDs) == 0 {
		return nil, nil
	}

	ids := queryResp.IDs[0]
	out := make([]domain.Chunk, 0, len(ids))
	for i, id := range ids {
		chunk := domain.Chunk{ID: id}
		if len(queryResp.Documents) > 0 && i < len(queryResp.Documents[0]) {
			chunk.Text = queryResp.Documents[0][i]
		}
		if len(queryResp.Distances) > 0 && i < len(queryResp.Distances[0]) {
			chunk.Score = 1 - queryResp.Distances[0][i]
		}
		if len(queryResp.Metadatas) > 0 && i < len(queryResp.Metadatas[0]) {
			chunk.SourceDocumentID = getStringMeta(queryResp.Metadatas[0][i], "source_document_id")
		}
		out = append(out, chunk)
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.TransportErrorKind(err), "chroma "+operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return wrapChromaStatus(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func wrapChromaStatus(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	err := fmt.Errorf("chroma %s status: %s", operation, resp.Status)
	if msg != "" {
		err = fmt.Errorf("chroma %s status: %s: %s", operation, resp.Status, msg)
	}

	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return domain.WrapError(domain.ErrBackendTimeout, "chroma "+operation, err)
	case http.StatusTooManyRequests:
		return domain.WrapError(domain.ErrRateLimited, "chroma "+operation, err)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return domain.WrapError(domain.ErrBackendUnavailable, "chroma "+operation, err)
	case http.StatusNotFound:
		return domain.WrapError(domain.ErrNotFound, "chroma "+operation, err)
	default:
		return err
	}
}

func getStringMeta(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
