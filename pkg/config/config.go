package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// EnvPrefix namespaces every configuration variable.
const EnvPrefix = "CAPSULE_"

// Config is the process configuration, loaded from defaults and CAPSULE_*
// environment variables.
type Config struct {
	HTTPAddr string `koanf:"http_addr" validate:"required"`

	// APIKeys is the comma-separated list of accepted API keys. An empty
	// list allows anonymous access.
	APIKeys []string `koanf:"api_keys"`

	MaxMemories      int     `koanf:"max_memories" validate:"min=1"`
	CaptureThreshold float64 `koanf:"capture_threshold" validate:"gte=0,lte=1"`

	HotSetSize int           `koanf:"hotset_size" validate:"min=1"`
	HotSetTTL  time.Duration `koanf:"hotset_ttl" validate:"min=1s"`

	VectorStore string `koanf:"vector_store" validate:"omitempty,oneof=memory pgvector qdrant"`
	PGDSN       string `koanf:"pg_dsn"`

	EmbedderURL   string `koanf:"embedder_url" validate:"omitempty,url"`
	EmbedderKey   string `koanf:"embedder_key"`
	EmbedderModel string `koanf:"embedder_model"`
	EmbedFallback bool   `koanf:"embed_fallback"`

	RewriterURL   string        `koanf:"rewriter_url" validate:"omitempty,url"`
	RewriterKey   string        `koanf:"rewriter_key"`
	RewriterTTL   time.Duration `koanf:"rewriter_ttl" validate:"min=1s"`
	RewriterCache string        `koanf:"rewriter_cache" validate:"omitempty,oneof=local redis"`
	RedisURL      string        `koanf:"redis_url"`

	RerankerURL string `koanf:"reranker_url" validate:"omitempty,url"`
	RerankerKey string `koanf:"reranker_key"`

	// MetaEncryptionKey is the process-wide PII key: 32 raw bytes or their
	// base64 encoding. Empty disables encryption at rest.
	MetaEncryptionKey string `koanf:"meta_encryption_key"`

	GraphWorkerInterval time.Duration `koanf:"graph_worker_interval" validate:"min=100ms"`
	AdaptiveConfigPath  string        `koanf:"adaptive_config"`
	OutboundTimeout     time.Duration `koanf:"outbound_timeout" validate:"min=50ms"`

	LogLevel string `koanf:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogJSON  bool   `koanf:"log_json"`
}

// Default returns the configuration used when no environment overrides are
// present.
func Default() *Config {
	return &Config{
		HTTPAddr:            ":8080",
		MaxMemories:         100,
		CaptureThreshold:    0.5,
		HotSetSize:          50,
		HotSetTTL:           30 * time.Second,
		VectorStore:         "memory",
		EmbedderModel:       "capsule-embed-v1",
		RewriterTTL:         30 * time.Second,
		RewriterCache:       "local",
		GraphWorkerInterval: 5 * time.Second,
		OutboundTimeout:     1200 * time.Millisecond,
		LogLevel:            "info",
	}
}

var validate = validator.New()

// Load builds the configuration from defaults overlaid with CAPSULE_*
// environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key string, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				durationDecodeHook,
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.APIKeys = trimKeys(cfg.APIKeys)
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// durationDecodeHook parses durations from the environment. Bare numbers are
// treated as milliseconds; otherwise the extended syntax applies (2h, 1d).
func durationDecodeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	raw := strings.TrimSpace(data.(string))
	if raw == "" {
		return time.Duration(0), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	return str2duration.ParseDuration(raw)
}

func trimKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
