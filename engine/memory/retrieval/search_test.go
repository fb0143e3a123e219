package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/engine/memory/embeddings"
	"github.com/capsulehq/capsule/engine/memory/recipe"
	"github.com/capsulehq/capsule/engine/memory/store"
)

type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(
	_ context.Context,
	text string,
	_ embeddings.InputType,
) (*embeddings.Result, error) {
	if vec, ok := s.vectors[text]; ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return &embeddings.Result{Vector: out, Model: "stub"}, nil
	}
	return &embeddings.Result{Vector: []float32{1, 0, 0}, Model: "stub"}, nil
}

func testTenancy() memcore.Tenancy {
	return memcore.Tenancy{OrgID: "org-1", ProjectID: "proj-1", SubjectID: "subject-1"}
}

func seedMemory(t *testing.T, s store.Store, id, content string, vec []float32) *memcore.Memory {
	t.Helper()
	norm := embeddings.Normalize(vec)
	m := &memcore.Memory{
		ID:            core.ID(id),
		Tenancy:       testTenancy(),
		Content:       content,
		Embedding:     vec,
		EmbeddingNorm: norm,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
		Importance:    1.0,
		Recency:       1.0,
		ACL:           memcore.ACL{Visibility: memcore.VisibilityPrivate},
		Storage:       memcore.StorageState{Store: memcore.StoreLongTerm},
		Retention:     memcore.RetentionReplaceable,
	}
	require.NoError(t, s.Insert(context.Background(), m))
	return m
}

func basicRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Name:           "test",
		Label:          "Test retrieval",
		Limit:          10,
		CandidateLimit: 50,
		Scoring:        recipe.Scoring{SemanticWeight: 1.0},
	}
}

func newTestEngine(s store.Store, opts Options) *Engine {
	opts.Store = s
	if opts.Embedder == nil {
		opts.Embedder = &stubEmbedder{}
	}
	if opts.Adaptive == (AdaptiveConfig{}) {
		opts.Adaptive = DefaultAdaptiveConfig()
	}
	return NewEngine(opts)
}

func TestSearch_Scoring(t *testing.T) {
	ctx := context.Background()
	t.Run("Should rank the semantically closest memory first", func(t *testing.T) {
		s := store.NewMemoryStore()
		seedMemory(t, s, "mem-standups", "Lex prefers morning standups", []float32{1, 0.1, 0})
		seedMemory(t, s, "mem-notes", "meeting notes q3", []float32{0.3, 1, 0})
		seedMemory(t, s, "mem-chatter", "random chatter", []float32{0, 0, 1})
		engine := newTestEngine(s, Options{
			Embedder: &stubEmbedder{vectors: map[string][]float32{
				"when does Lex like meetings?": {1, 0.2, 0},
			}},
		})
		resp, err := engine.Search(ctx, &Request{
			Tenancy: testTenancy(),
			Query:   "when does Lex like meetings?",
			Recipe:  basicRecipe(),
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 3)
		assert.Equal(t, core.ID("mem-standups"), resp.Results[0].Memory.ID)
		assert.Greater(t, resp.Results[0].RecipeScore, resp.Results[1].RecipeScore)
	})
	t.Run("Should return empty results with the recipe label on empty store", func(t *testing.T) {
		s := store.NewMemoryStore()
		engine := newTestEngine(s, Options{})
		resp, err := engine.Search(ctx, &Request{
			Tenancy: testTenancy(),
			Query:   "anything at all",
			Recipe:  basicRecipe(),
		})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
		assert.Contains(t, resp.Explanation, "Test retrieval")
	})
	t.Run("Should drop candidates the subject cannot access", func(t *testing.T) {
		s := store.NewMemoryStore()
		m := seedMemory(t, s, "mem-private", "someone else's note", []float32{1, 0, 0})
		m.Tenancy.SubjectID = "subject-other"
		require.NoError(t, s.Update(ctx, m))
		engine := newTestEngine(s, Options{})
		resp, err := engine.Search(ctx, &Request{
			Tenancy: testTenancy(),
			Query:   "note",
			Recipe:  basicRecipe(),
		})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
	})
	t.Run("Should honor the request limit", func(t *testing.T) {
		s := store.NewMemoryStore()
		seedMemory(t, s, "mem-1", "first", []float32{1, 0, 0})
		seedMemory(t, s, "mem-2", "second", []float32{0.9, 0.1, 0})
		seedMemory(t, s, "mem-3", "third", []float32{0.8, 0.2, 0})
		engine := newTestEngine(s, Options{})
		resp, err := engine.Search(ctx, &Request{
			Tenancy: testTenancy(),
			Query:   "anything longer",
			Limit:   2,
			Recipe:  basicRecipe(),
		})
		require.NoError(t, err)
		assert.Len(t, resp.Results, 2)
	})
	t.Run("Should boost pinned memories per the recipe", func(t *testing.T) {
		s := store.NewMemoryStore()
		seedMemory(t, s, "mem-close", "closest", []float32{1, 0, 0})
		pinned := seedMemory(t, s, "mem-pinned", "pinned but further", []float32{0.7, 0.7, 0})
		pinned.Pinned = true
		require.NoError(t, s.Update(ctx, pinned))
		rec := basicRecipe()
		rec.Scoring.PinnedBoost = 2.0
		engine := newTestEngine(s, Options{})
		resp, err := engine.Search(ctx, &Request{
			Tenancy: testTenancy(),
			Query:   "anything longer",
			Recipe:  rec,
		})
		require.NoError(t, err)
		require.NotEmpty(t, resp.Results)
		assert.Equal(t, core.ID("mem-pinned"), resp.Results[0].Memory.ID)
	})
}

func TestSearch_Rewrite(t *testing.T) {
	ctx := context.Background()
	t.Run("Should rewrite the query through the configured service", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "when does Lex like meetings?", req["query"])
			json.NewEncoder(w).Encode(map[string]string{"rewritten": "Lex preferred meeting time"})
		}))
		defer srv.Close()
		s := store.NewMemoryStore()
		engine := newTestEngine(s, Options{
			Rewriter: NewRewriter(RewriterConfig{URL: srv.URL}),
		})
		resp, err := engine.Search(ctx, &Request{
			Tenancy: testTenancy(),
			Query:   "when does Lex like meetings?",
			Recipe:  basicRecipe(),
		})
		require.NoError(t, err)
		assert.True(t, resp.Metrics.RewriteApplied)
		assert.Equal(t, "Lex preferred meeting time", resp.Query)
	})
	t.Run("Should skip rewrite when the budget is exhausted", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"rewritten": "never used"})
		}))
		defer srv.Close()
		adaptive := DefaultAdaptiveConfig()
		adaptive.Rewrite.LatencyBudgetMs = 0
		engine := newTestEngine(store.NewMemoryStore(), Options{
			Rewriter: NewRewriter(RewriterConfig{URL: srv.URL}),
			Adaptive: adaptive,
		})
		resp, err := engine.Search(ctx, &Request{
			Tenancy: testTenancy(),
			Query:   "a query long enough to rewrite",
			Recipe:  basicRecipe(),
		})
		require.NoError(t, err)
		assert.False(t, resp.Metrics.RewriteApplied)
		assert.Equal(t, "a query long enough to rewrite", resp.Query)
	})
	t.Run("Should skip rewrite below the minimum query length", func(t *testing.T) {
		called := false
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			called = true
			json.NewEncoder(w).Encode(map[string]string{"rewritten": "never used"})
		}))
		defer srv.Close()
		engine := newTestEngine(store.NewMemoryStore(), Options{
			Rewriter: NewRewriter(RewriterConfig{URL: srv.URL}),
		})
		resp, err := engine.Search(ctx, &Request{
			Tenancy: testTenancy(),
			Query:   "short",
			Recipe:  basicRecipe(),
		})
		require.NoError(t, err)
		assert.False(t, resp.Metrics.RewriteApplied)
		assert.False(t, called)
	})
	t.Run("Should keep the original query when the rewriter fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()
		engine := newTestEngine(store.NewMemoryStore(), Options{
			Rewriter: NewRewriter(RewriterConfig{URL: srv.URL}),
		})
		resp, err := engine.Search(ctx, &Request{
			Tenancy: testTenancy(),
			Query:   "a query long enough to rewrite",
			Recipe:  basicRecipe(),
		})
		require.NoError(t, err)
		assert.False(t, resp.Metrics.RewriteApplied)
		assert.Equal(t, "a query long enough to rewrite", resp.Query)
	})
	t.Run("Should serve repeated rewrites from the cache", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			json.NewEncoder(w).Encode(map[string]string{"rewritten": "cached rewrite"})
		}))
		defer srv.Close()
		engine := newTestEngine(store.NewMemoryStore(), Options{
			Rewriter: NewRewriter(RewriterConfig{URL: srv.URL}),
		})
		req := &Request{
			Tenancy: testTenancy(),
			Query:   "a query long enough to rewrite",
			Recipe:  basicRecipe(),
		}
		_, err := engine.Search(ctx, req)
		require.NoError(t, err)
		resp, err := engine.Search(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.True(t, resp.Metrics.RewriteApplied)
		assert.Equal(t, "cached rewrite", resp.Query)
	})
}

func TestSearch_Rerank(t *testing.T) {
	ctx := context.Background()
	t.Run("Should replace scores and re-sort from the reranker", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Candidates []RerankCandidate `json:"candidates"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Candidates, 2)
			json.NewEncoder(w).Encode(map[string]any{
				"ranked": []map[string]any{
					{"id": "mem-2", "score": 0.99},
					{"id": "mem-1", "score": 0.01},
				},
			})
		}))
		defer srv.Close()
		s := store.NewMemoryStore()
		seedMemory(t, s, "mem-1", "first", []float32{1, 0, 0})
		seedMemory(t, s, "mem-2", "second", []float32{0.5, 0.5, 0})
		engine := newTestEngine(s, Options{
			Reranker: NewReranker(RerankerConfig{URL: srv.URL}),
		})
		resp, err := engine.Search(ctx, &Request{
			Tenancy: testTenancy(),
			Query:   "anything longer",
			Recipe:  basicRecipe(),
		})
		require.NoError(t, err)
		assert.True(t, resp.Metrics.RerankApplied)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, core.ID("mem-2"), resp.Results[0].Memory.ID)
		assert.InDelta(t, 0.99, resp.Results[0].RecipeScore, 1e-9)
	})
	t.Run("Should keep the prior order when the reranker fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		s := store.NewMemoryStore()
		seedMemory(t, s, "mem-1", "first", []float32{1, 0, 0})
		seedMemory(t, s, "mem-2", "second", []float32{0.5, 0.5, 0})
		engine := newTestEngine(s, Options{
			Reranker: NewReranker(RerankerConfig{URL: srv.URL}),
		})
		resp, err := engine.Search(ctx, &Request{
			Tenancy: testTenancy(),
			Query:   "anything longer",
			Recipe:  basicRecipe(),
		})
		require.NoError(t, err)
		assert.False(t, resp.Metrics.RerankApplied)
		assert.Equal(t, core.ID("mem-1"), resp.Results[0].Memory.ID)
	})
	t.Run("Should skip rerank above maxResults", func(t *testing.T) {
		called := false
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			called = true
		}))
		defer srv.Close()
		s := store.NewMemoryStore()
		seedMemory(t, s, "mem-1", "first", []float32{1, 0, 0})
		seedMemory(t, s, "mem-2", "second", []float32{0.5, 0.5, 0})
		adaptive := DefaultAdaptiveConfig()
		adaptive.Rerank.MaxResults = 1
		engine := newTestEngine(s, Options{
			Reranker: NewReranker(RerankerConfig{URL: srv.URL}),
			Adaptive: adaptive,
		})
		resp, err := engine.Search(ctx, &Request{
			Tenancy: testTenancy(),
			Query:   "anything longer",
			Recipe:  basicRecipe(),
		})
		require.NoError(t, err)
		assert.False(t, resp.Metrics.RerankApplied)
		assert.False(t, called)
	})
}

func TestSearch_GraphExpansion(t *testing.T) {
	ctx := context.Background()
	t.Run("Should append co-occurring memories as graph hits", func(t *testing.T) {
		s := store.NewMemoryStore()
		seedMemory(t, s, "mem-base", "Acme Corp launch notes", []float32{1, 0, 0})
		seedMemory(t, s, "mem-linked", "Acme Corp renewal date", []float32{0, 1, 0})
		now := time.Now()
		require.NoError(t, s.UpsertGraphEntity(ctx, "org-1", "proj-1", "Acme Corp", "mem-base", now))
		require.NoError(t, s.UpsertGraphEntity(ctx, "org-1", "proj-1", "Acme Corp", "mem-linked", now))
		rec := basicRecipe()
		rec.Limit = 1
		rec.GraphExpand = &recipe.GraphExpand{Limit: 5}
		engine := newTestEngine(s, Options{
			Embedder: &stubEmbedder{vectors: map[string][]float32{
				"acme launch": {1, 0.1, 0},
			}},
		})
		resp, err := engine.Search(ctx, &Request{
			Tenancy: testTenancy(),
			Query:   "acme launch",
			Recipe:  rec,
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, core.ID("mem-base"), resp.Results[0].Memory.ID)
		assert.True(t, resp.Results[1].GraphHit)
		assert.Zero(t, resp.Results[1].RecipeScore)
	})
}

func TestSearch_HotSetCache(t *testing.T) {
	ctx := context.Background()
	t.Run("Should serve the second fetch from the hot-set cache", func(t *testing.T) {
		s := store.NewMemoryStore()
		seedMemory(t, s, "mem-1", "cached content", []float32{1, 0, 0})
		engine := newTestEngine(s, Options{HotSet: NewHotSetCache(CacheSize, CacheTTL)})
		req := &Request{Tenancy: testTenancy(), Query: "cached content?", Recipe: basicRecipe()}
		first, err := engine.Search(ctx, req)
		require.NoError(t, err)
		require.Len(t, first.Results, 1)
		require.NoError(t, s.Delete(ctx, "org-1", "proj-1", "mem-1"))
		second, err := engine.Search(ctx, req)
		require.NoError(t, err)
		assert.Len(t, second.Results, 1, "cache should still hold the deleted memory")
	})
}
