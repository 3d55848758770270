package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPRetriever_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req searchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "método kumon" || req.Limit != 2 {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(searchResponse{Snippets: []Snippet{
			{Text: "O método Kumon é individualizado.", Source: "kb/metodo.md", Score: 0.91},
			{Text: "Cada aluno avança no próprio ritmo.", Source: "kb/metodo.md", Score: 0.85},
		}})
	}))
	defer server.Close()

	retriever := NewHTTPRetriever(server.URL, nil)
	result, err := retriever.Retrieve(context.Background(), "método kumon", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if result.Degraded {
		t.Error("healthy backend marked degraded")
	}
	if len(result.Snippets) != 2 || result.Snippets[0].Source != "kb/metodo.md" {
		t.Errorf("snippets = %+v", result.Snippets)
	}
}

func TestHTTPRetriever_BackendDownIsDegradedNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	server.Close() // connection refused from here on

	retriever := NewHTTPRetriever(server.URL, nil)
	result, err := retriever.Retrieve(context.Background(), "valores", 4)
	if err != nil {
		t.Fatalf("fail-soft contract broken: %v", err)
	}
	if !result.Degraded || len(result.Snippets) != 0 {
		t.Errorf("result = %+v, want empty degraded", result)
	}
}

func TestHTTPRetriever_Non200IsDegraded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	retriever := NewHTTPRetriever(server.URL, nil)
	result, err := retriever.Retrieve(context.Background(), "valores", 4)
	if err != nil || !result.Degraded {
		t.Errorf("result = %+v err = %v, want degraded nil", result, err)
	}
}

func TestHTTPRetriever_TruncatesToLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse{Snippets: []Snippet{
			{Text: "a"}, {Text: "b"}, {Text: "c"},
		}})
	}))
	defer server.Close()

	retriever := NewHTTPRetriever(server.URL, nil)
	result, _ := retriever.Retrieve(context.Background(), "q", 2)
	if len(result.Snippets) != 2 {
		t.Errorf("snippets = %d, want 2", len(result.Snippets))
	}
}

func TestNullRetriever(t *testing.T) {
	result, err := NullRetriever{}.Retrieve(context.Background(), "q", 4)
	if err != nil || result.Degraded || len(result.Snippets) != 0 {
		t.Errorf("result = %+v err = %v", result, err)
	}
}
