package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/capsulehq/capsule/engine/core"
)

// RerankerConfig wires the optional reranker endpoint.
type RerankerConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Reranker re-scores a candidate list against the query.
type Reranker struct {
	cfg    RerankerConfig
	client *http.Client
}

// RerankCandidate is one scored entry on the reranker wire.
type RerankCandidate struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type rerankRequest struct {
	Prompt     string            `json:"prompt,omitempty"`
	Query      string            `json:"query"`
	Candidates []RerankCandidate `json:"candidates"`
}

type rerankResponse struct {
	Ranked []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"ranked"`
}

func NewReranker(cfg RerankerConfig) *Reranker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1200 * time.Millisecond
	}
	return &Reranker{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Configured reports whether an endpoint is wired.
func (r *Reranker) Configured() bool {
	return r != nil && r.cfg.URL != ""
}

// Rerank returns new scores keyed by candidate id.
func (r *Reranker) Rerank(
	ctx context.Context,
	prompt, query string,
	candidates []RerankCandidate,
) (map[string]float64, error) {
	payload, err := json.Marshal(rerankRequest{Prompt: prompt, Query: query, Candidates: candidates})
	if err != nil {
		return nil, fmt.Errorf("reranker: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("reranker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, core.Upstream(fmt.Errorf("reranker: call failed: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, core.Upstream(fmt.Errorf("reranker: status %d: %s", resp.StatusCode, body))
	}
	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, core.Upstream(fmt.Errorf("reranker: decode response: %w", err))
	}
	scores := make(map[string]float64, len(out.Ranked))
	for _, entry := range out.Ranked {
		scores[entry.ID] = entry.Score
	}
	return scores, nil
}
