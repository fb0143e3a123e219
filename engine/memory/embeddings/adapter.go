package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/pkg/logger"
)

// InputType distinguishes document and query embeddings on the wire.
type InputType string

const (
	InputDocument InputType = "document"
	InputQuery    InputType = "query"
)

// DefaultTimeout bounds each provider call.
const DefaultTimeout = 1200 * time.Millisecond

// DefaultModel is reported for fallback vectors.
const DefaultModel = "capsule-embed-v1"

// Config wires the provider endpoint; an empty URL selects the
// deterministic local fallback.
type Config struct {
	URL             string
	APIKey          string
	Model           string
	Timeout         time.Duration
	FallbackEnabled bool
}

// Adapter calls the embedding provider and degrades to a deterministic
// local embedding when unconfigured (or on failure, if enabled).
type Adapter struct {
	cfg          Config
	client       *http.Client
	fallbackOnce sync.Once
}

type embedRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"inputType"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Result carries the raw vector plus the model that produced it.
type Result struct {
	Vector []float32
	Model  string
}

func NewAdapter(cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether a remote provider endpoint is wired.
func (a *Adapter) Configured() bool {
	return strings.TrimSpace(a.cfg.URL) != ""
}

// Embed produces an embedding for the given text. Unconfigured adapters use
// the deterministic fallback; configured ones call the provider and only
// degrade when the fallback is explicitly enabled.
func (a *Adapter) Embed(ctx context.Context, text string, inputType InputType) (*Result, error) {
	if !a.Configured() {
		return a.fallback(ctx, text), nil
	}
	vec, err := a.callProvider(ctx, text, inputType)
	if err != nil {
		if a.cfg.FallbackEnabled {
			a.warnFallback(ctx, err)
			return a.fallback(ctx, text), nil
		}
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	return &Result{Vector: vec, Model: a.cfg.Model}, nil
}

func (a *Adapter) callProvider(ctx context.Context, text string, inputType InputType) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	payload, err := json.Marshal(embedRequest{
		Input:     []string{text},
		Model:     a.cfg.Model,
		InputType: string(inputType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	var vector []float32
	backoff := retry.WithMaxRetries(1, retry.NewConstant(50*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		vec, callErr := a.doCall(ctx, payload)
		if callErr != nil {
			return callErr
		}
		vector = vec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}

func (a *Adapter) doCall(ctx context.Context, payload []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		io.Copy(io.Discard, resp.Body)
		return nil, retry.RetryableError(fmt.Errorf("provider returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}
	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("provider returned no embedding")
	}
	return decoded.Data[0].Embedding, nil
}

func (a *Adapter) warnFallback(ctx context.Context, err error) {
	a.fallbackOnce.Do(func() {
		logger.FromContext(ctx).Warn("embedding provider unavailable, using deterministic fallback",
			"error", err,
		)
	})
}

// fallback derives a stable pseudo-random vector from the text so that
// identical content embeds identically across restarts.
func (a *Adapter) fallback(_ context.Context, text string) *Result {
	h := fnv.New64a()
	h.Write([]byte(text))
	state := h.Sum64()
	if state == 0 {
		state = 0x9e3779b97f4a7c15
	}
	vec := make([]float32, memcore.EmbeddingDim)
	for i := range vec {
		// xorshift64 keeps the sequence cheap and reproducible.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		vec[i] = float32(int64(state%2000)-1000) / 1000
	}
	return &Result{Vector: vec, Model: DefaultModel}
}
