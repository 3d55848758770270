// Package rag retrieves knowledge-base snippets used to ground
// information answers. Retrieval is strictly fail-soft: when the backend
// is down or slow the caller gets an empty, degraded result and answers
// from the static catalog instead.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Snippet is one retrieved passage.
type Snippet struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Result is a retrieval outcome. Degraded marks results produced while
// the backend was unreachable, so downstream answers can hedge.
type Result struct {
	Snippets []Snippet
	Degraded bool
}

// Retriever fetches snippets relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) (Result, error)
}

// NullRetriever always returns an empty, non-degraded result. Used when
// no knowledge base is configured.
type NullRetriever struct{}

// Retrieve implements Retriever.
func (NullRetriever) Retrieve(context.Context, string, int) (Result, error) {
	return Result{}, nil
}

// HTTPRetriever queries a JSON search endpoint.
type HTTPRetriever struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPRetriever creates a retriever against baseURL's /search endpoint
// with a short timeout so a slow backend cannot stall a turn.
func NewHTTPRetriever(baseURL string, logger *slog.Logger) *HTTPRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRetriever{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 3 * time.Second},
		logger:  logger,
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Snippets []Snippet `json:"snippets"`
}

// Retrieve implements Retriever. Errors never propagate: any failure
// returns an empty degraded result.
func (r *HTTPRetriever) Retrieve(ctx context.Context, query string, limit int) (Result, error) {
	if limit <= 0 {
		limit = 4
	}
	body, err := json.Marshal(searchRequest{Query: query, Limit: limit})
	if err != nil {
		return Result{Degraded: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return Result{Degraded: true}, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("rag retrieval failed", "error", err)
		return Result{Degraded: true}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("rag retrieval failed", "status", resp.StatusCode)
		return Result{Degraded: true}, nil
	}

	var decoded searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		r.logger.Warn("rag response malformed", "error", fmt.Errorf("decode: %w", err))
		return Result{Degraded: true}, nil
	}
	if len(decoded.Snippets) > limit {
		decoded.Snippets = decoded.Snippets[:limit]
	}
	return Result{Snippets: decoded.Snippets}, nil
}
