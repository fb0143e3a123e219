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

// RewriterConfig wires the optional query-rewriter endpoint.
type RewriterConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Rewriter calls the rewrite service to sharpen a query before embedding.
type Rewriter struct {
	cfg    RewriterConfig
	client *http.Client
}

type rewriteRequest struct {
	Prompt string `json:"prompt,omitempty"`
	Query  string `json:"query"`
}

type rewriteResponse struct {
	Rewritten string `json:"rewritten,omitempty"`
	Context   string `json:"context,omitempty"`
}

func NewRewriter(cfg RewriterConfig) *Rewriter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1200 * time.Millisecond
	}
	return &Rewriter{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Configured reports whether an endpoint is wired.
func (r *Rewriter) Configured() bool {
	return r != nil && r.cfg.URL != ""
}

// Rewrite returns the rewritten query, or the original when the service
// returns nothing usable.
func (r *Rewriter) Rewrite(ctx context.Context, prompt, query string) (string, error) {
	payload, err := json.Marshal(rewriteRequest{Prompt: prompt, Query: query})
	if err != nil {
		return "", fmt.Errorf("rewriter: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("rewriter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", core.Upstream(fmt.Errorf("rewriter: call failed: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", core.Upstream(fmt.Errorf("rewriter: status %d: %s", resp.StatusCode, body))
	}
	var out rewriteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", core.Upstream(fmt.Errorf("rewriter: decode response: %w", err))
	}
	if out.Rewritten == "" {
		return query, nil
	}
	return out.Rewritten, nil
}
