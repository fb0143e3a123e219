package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsulehq/capsule/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := NewServer(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.shutdown(t.Context()) })
	return srv
}

func TestBuildDependencies(t *testing.T) {
	t.Run("Should assemble the embedded stack from defaults", func(t *testing.T) {
		srv := newTestServer(t, config.Default())
		assert.NotNil(t, srv.deps.Service)
		assert.NotNil(t, srv.deps.Capture)
		assert.NotNil(t, srv.deps.GraphWorker)
	})
	t.Run("Should reject a redis rewrite cache without a redis url", func(t *testing.T) {
		cfg := config.Default()
		cfg.RewriterCache = "redis"
		_, err := NewServer(t.Context(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CAPSULE_REDIS_URL")
	})
	t.Run("Should reject pgvector without a dsn", func(t *testing.T) {
		cfg := config.Default()
		cfg.VectorStore = "pgvector"
		_, err := NewServer(t.Context(), cfg)
		require.Error(t, err)
	})
}

func TestHealthz(t *testing.T) {
	t.Run("Should report ok without auth or tenancy headers", func(t *testing.T) {
		srv := newTestServer(t, config.Default())
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		srv.httpServer.Handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Contains(t, body, "version")
		assert.Contains(t, body, "commit")
	})
}

func TestRouteProtection(t *testing.T) {
	t.Run("Should enforce configured API keys on memory routes", func(t *testing.T) {
		cfg := config.Default()
		cfg.APIKeys = []string{"secret"}
		srv := newTestServer(t, cfg)

		req := httptest.NewRequest(http.MethodGet, "/v1/memories", nil)
		req.Header.Set("X-Capsule-Org", "org-1")
		req.Header.Set("X-Capsule-Project", "proj-1")
		req.Header.Set("X-Capsule-Subject", "subject-1")
		w := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		req.Header.Set("X-Capsule-Key", "secret")
		w = httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
