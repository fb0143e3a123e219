package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Should apply defaults without environment overrides", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.HTTPAddr)
		assert.Equal(t, 100, cfg.MaxMemories)
		assert.Equal(t, 0.5, cfg.CaptureThreshold)
		assert.Equal(t, "memory", cfg.VectorStore)
		assert.Equal(t, 30*time.Second, cfg.HotSetTTL)
		assert.Equal(t, 5*time.Second, cfg.GraphWorkerInterval)
		assert.Equal(t, 1200*time.Millisecond, cfg.OutboundTimeout)
		assert.Empty(t, cfg.APIKeys)
	})
	t.Run("Should override defaults from the environment", func(t *testing.T) {
		t.Setenv("CAPSULE_HTTP_ADDR", ":9090")
		t.Setenv("CAPSULE_MAX_MEMORIES", "7")
		t.Setenv("CAPSULE_CAPTURE_THRESHOLD", "0.6")
		t.Setenv("CAPSULE_VECTOR_STORE", "pgvector")
		t.Setenv("CAPSULE_PG_DSN", "postgres://localhost/capsule")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ":9090", cfg.HTTPAddr)
		assert.Equal(t, 7, cfg.MaxMemories)
		assert.Equal(t, 0.6, cfg.CaptureThreshold)
		assert.Equal(t, "pgvector", cfg.VectorStore)
		assert.Equal(t, "postgres://localhost/capsule", cfg.PGDSN)
	})
	t.Run("Should split and trim the API key list", func(t *testing.T) {
		t.Setenv("CAPSULE_API_KEYS", " k1, k2 ,,k3")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"k1", "k2", "k3"}, cfg.APIKeys)
	})
	t.Run("Should parse bare numbers as milliseconds", func(t *testing.T) {
		t.Setenv("CAPSULE_GRAPH_WORKER_INTERVAL", "2500")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 2500*time.Millisecond, cfg.GraphWorkerInterval)
	})
	t.Run("Should parse extended duration syntax", func(t *testing.T) {
		t.Setenv("CAPSULE_HOTSET_TTL", "1m")
		t.Setenv("CAPSULE_REWRITER_TTL", "1d")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, time.Minute, cfg.HotSetTTL)
		assert.Equal(t, 24*time.Hour, cfg.RewriterTTL)
	})
	t.Run("Should reject an unknown vector store", func(t *testing.T) {
		t.Setenv("CAPSULE_VECTOR_STORE", "mongo")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "VectorStore")
	})
	t.Run("Should reject an out-of-range capture threshold", func(t *testing.T) {
		t.Setenv("CAPSULE_CAPTURE_THRESHOLD", "1.5")
		_, err := Load()
		require.Error(t, err)
	})
}
