package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

func TestGenerateSendsAPIHeadersAndReadsContent(t *testing.T) {
	var apiKey, version string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		apiKey = r.Header.Get("x-api-key")
		version = r.Header.Get("anthropic-version")
		_, _ = w.Write([]byte(`{"content":[{"text":" the answer "}]}`))
	}))
	defer server.Close()

	client := New(server.URL, "key-test", "model-test")
	answer, err := client.Generate(context.Background(), "q", domain.GenerationOptions{MaxTokens: 64})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if answer != "the answer" {
		t.Fatalf("expected trimmed answer, got %q", answer)
	}
	if apiKey != "key-test" || version != apiVersion {
		t.Fatalf("missing api headers: key=%q version=%q", apiKey, version)
	}
}

func TestGenerateMapsOverloadedToBackendUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", 529)
	}))
	defer server.Close()

	client := New(server.URL, "key-test", "model-test")
	_, err := client.Generate(context.Background(), "q", domain.GenerationOptions{})
	if !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable kind, got %v", err)
	}
}
