package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoadContractValidates(t *testing.T) {
	contract, err := LoadContract(context.Background())
	if err != nil {
		t.Fatalf("LoadContract() error = %v", err)
	}
	if contract.doc.Paths.Find("/v1/rag/query") == nil {
		t.Fatalf("expected /v1/rag/query in the contract")
	}
}

func TestContractServedAsJSON(t *testing.T) {
	contract, err := LoadContract(context.Background())
	if err != nil {
		t.Fatalf("LoadContract() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil)
	res := httptest.NewRecorder()
	contract.ServeJSON(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &doc); err != nil {
		t.Fatalf("served contract is not valid json: %v", err)
	}
	if doc["openapi"] != "3.0.3" {
		t.Fatalf("unexpected openapi version: %v", doc["openapi"])
	}
}
