package server

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/capsulehq/capsule/engine/memory/capture"
	"github.com/capsulehq/capsule/engine/memory/embeddings"
	"github.com/capsulehq/capsule/engine/memory/graph"
	"github.com/capsulehq/capsule/engine/memory/privacy"
	"github.com/capsulehq/capsule/engine/memory/retrieval"
	"github.com/capsulehq/capsule/engine/memory/service"
	"github.com/capsulehq/capsule/engine/memory/store"
	"github.com/capsulehq/capsule/pkg/config"
)

// Dependencies is the assembled object graph behind the HTTP surface.
type Dependencies struct {
	Store       store.Store
	Service     *service.Service
	Capture     *capture.Queue
	GraphWorker *graph.Worker
	redisClient *redis.Client
}

func buildDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	backing, err := store.New(ctx, store.Config{Driver: cfg.VectorStore, PGDSN: cfg.PGDSN})
	if err != nil {
		return nil, fmt.Errorf("failed to build store: %w", err)
	}

	embedder := embeddings.NewAdapter(embeddings.Config{
		URL:             cfg.EmbedderURL,
		APIKey:          cfg.EmbedderKey,
		Model:           cfg.EmbedderModel,
		Timeout:         cfg.OutboundTimeout,
		FallbackEnabled: cfg.EmbedFallback,
	})

	adaptive := retrieval.DefaultAdaptiveConfig()
	if cfg.AdaptiveConfigPath != "" {
		adaptive, err = retrieval.LoadAdaptiveConfig(cfg.AdaptiveConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load adaptive config: %w", err)
		}
	}

	deps := &Dependencies{Store: backing}
	rewriteCache, err := deps.buildRewriteCache(cfg)
	if err != nil {
		return nil, err
	}

	search := retrieval.NewEngine(retrieval.Options{
		Store:    backing,
		Embedder: embedder,
		Rewriter: retrieval.NewRewriter(retrieval.RewriterConfig{
			URL:     cfg.RewriterURL,
			APIKey:  cfg.RewriterKey,
			Timeout: cfg.OutboundTimeout,
		}),
		Reranker: retrieval.NewReranker(retrieval.RerankerConfig{
			URL:     cfg.RerankerURL,
			APIKey:  cfg.RerankerKey,
			Timeout: cfg.OutboundTimeout,
		}),
		HotSet:       retrieval.NewHotSetCache(cfg.HotSetSize, cfg.HotSetTTL),
		RewriteCache: rewriteCache,
		Adaptive:     adaptive,
	})

	var cipher *privacy.Cipher
	if cfg.MetaEncryptionKey != "" {
		cipher, err = privacy.NewCipher(cfg.MetaEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid CAPSULE_META_ENCRYPTION_KEY: %w", err)
		}
	}

	deps.Service = service.New(service.Options{
		Store:       backing,
		Embedder:    embedder,
		Search:      search,
		Cipher:      cipher,
		MaxMemories: cfg.MaxMemories,
	})
	deps.Capture = capture.NewQueue(backing, deps.Service, cfg.CaptureThreshold)
	deps.GraphWorker = graph.NewWorker(backing, cfg.GraphWorkerInterval)
	return deps, nil
}

// buildRewriteCache wires the redis rewrite cache when configured, falling
// back to the in-process cache.
func (d *Dependencies) buildRewriteCache(cfg *config.Config) (retrieval.RewriteCache, error) {
	if cfg.RewriterCache != "redis" {
		return retrieval.NewLocalRewriteCache(retrieval.CacheSize, cfg.RewriterTTL), nil
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("CAPSULE_REWRITER_CACHE=redis requires CAPSULE_REDIS_URL")
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid CAPSULE_REDIS_URL: %w", err)
	}
	d.redisClient = redis.NewClient(opts)
	return retrieval.NewRedisRewriteCache(d.redisClient, cfg.RewriterTTL), nil
}

// Close releases backing connections.
func (d *Dependencies) Close(ctx context.Context) error {
	var firstErr error
	if closer, ok := d.Store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			firstErr = err
		}
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
