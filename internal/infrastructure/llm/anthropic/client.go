package anthropic

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

const apiVersion = "2023-06-01"

// Client talks to the Anthropic Messages API. Generation only: embedding
// requests stay on the backend configured for them.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func New(baseURL, apiKey, model string) *Client {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *Client) Generate(ctx context.Context, prompt string, opts domain.GenerationOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	reqBody := map[string]any{
		"model":       c.model,
		"max_tokens":  maxTokens,
		"temperature": opts.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	var response struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := c.postJSON(ctx, "/v1/messages", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	if len(response.Content) == 0 {
		return "", fmt.Errorf("empty message result")
	}
	return strings.TrimSpace(response.Content[0].Text), nil
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
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.TransportErrorKind(err), "anthropic "+operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return wrapAnthropicStatus(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func wrapAnthropicStatus(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	err := fmt.Errorf("anthropic %s status: %s", operation, resp.Status)
	if msg != "" {
		err = fmt.Errorf("anthropic %s status: %s: %s", operation, resp.Status, msg)
	}

	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return domain.WrapError(domain.ErrBackendTimeout, "anthropic "+operation, err)
	case http.StatusTooManyRequests:
		return domain.WrapError(domain.ErrRateLimited, "anthropic "+operation, err)
	case 529, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return domain.WrapError(domain.ErrBackendUnavailable, "anthropic "+operation, err)
	default:
		return err
	}
}
