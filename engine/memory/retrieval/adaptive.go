package retrieval

import (
	"encoding/json"
	"fmt"
	"os"
)

// RewriteConfig governs the adaptive rewrite decision.
type RewriteConfig struct {
	Enabled         bool `json:"enabled"`
	MinQueryLength  int  `json:"minQueryLength"`
	LatencyBudgetMs int  `json:"latencyBudgetMs"`
}

// RerankConfig governs the adaptive rerank decision.
type RerankConfig struct {
	Enabled         bool `json:"enabled"`
	MaxResults      int  `json:"maxResults"`
	LatencyBudgetMs int  `json:"latencyBudgetMs"`
}

// AdaptiveConfig tunes the optional optimization steps of the search
// pipeline. Values of zero fall back to defaults at load time.
type AdaptiveConfig struct {
	Rewrite RewriteConfig `json:"rewrite"`
	Rerank  RerankConfig  `json:"rerank"`
}

// DefaultAdaptiveConfig enables both optimizations with conservative
// budgets.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Rewrite: RewriteConfig{Enabled: true, MinQueryLength: 12, LatencyBudgetMs: 800},
		Rerank:  RerankConfig{Enabled: true, MaxResults: 20, LatencyBudgetMs: 1000},
	}
}

// LoadAdaptiveConfig reads an overrides file and merges it over the
// defaults. An empty path returns the defaults.
func LoadAdaptiveConfig(path string) (AdaptiveConfig, error) {
	cfg := DefaultAdaptiveConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("adaptive config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("adaptive config: parse %s: %w", path, err)
	}
	if cfg.Rewrite.MinQueryLength <= 0 {
		cfg.Rewrite.MinQueryLength = DefaultAdaptiveConfig().Rewrite.MinQueryLength
	}
	if cfg.Rerank.MaxResults <= 0 {
		cfg.Rerank.MaxResults = DefaultAdaptiveConfig().Rerank.MaxResults
	}
	return cfg, nil
}
