package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/engine/memory/embeddings"
	"github.com/capsulehq/capsule/engine/memory/recipe"
	"github.com/capsulehq/capsule/engine/memory/store"
	"github.com/capsulehq/capsule/pkg/logger"
)

// graphEntityScanLimit bounds the entity lookup during expansion.
const graphEntityScanLimit = 50

// Embedder is the slice of the embedding adapter the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, text string, inputType embeddings.InputType) (*embeddings.Result, error)
}

// Request is one search invocation, already resolved to a concrete recipe.
type Request struct {
	Tenancy memcore.Tenancy
	Query   string
	Limit   int
	Prompt  string
	Recipe  *recipe.Recipe
	// Rewrite and Rerank force the optimization on or off for this request;
	// nil defers to the adaptive configuration.
	Rewrite *bool
	Rerank  *bool
}

// Result is one ranked memory. Graph hits are appended after scoring with
// zeroed scores.
type Result struct {
	Memory      *memcore.Memory `json:"memory"`
	Score       float64         `json:"score"`
	RecipeScore float64         `json:"recipeScore"`
	GraphHit    bool            `json:"graphHit,omitempty"`
}

// SearchMetrics reports which optimizations ran and their cost.
type SearchMetrics struct {
	RewriteApplied   bool  `json:"rewriteApplied"`
	RewriteLatencyMs int64 `json:"rewriteLatencyMs"`
	RerankApplied    bool  `json:"rerankApplied"`
	RerankLatencyMs  int64 `json:"rerankLatencyMs"`
}

// Response is the search payload returned to callers.
type Response struct {
	Query       string        `json:"query"`
	Recipe      string        `json:"recipe"`
	Results     []Result      `json:"results"`
	Explanation string        `json:"explanation"`
	Metrics     SearchMetrics `json:"metrics"`
}

// Engine runs the adaptive retrieval pipeline: rewrite, embed, fetch,
// score, expand, rerank.
type Engine struct {
	store        store.Store
	embedder     Embedder
	rewriter     *Rewriter
	reranker     *Reranker
	hotSet       *HotSetCache
	rewriteCache RewriteCache
	adaptive     AdaptiveConfig
	metrics      *Metrics
}

// Options assembles an Engine. HotSet may be nil to bypass candidate
// caching (non-default backends).
type Options struct {
	Store        store.Store
	Embedder     Embedder
	Rewriter     *Rewriter
	Reranker     *Reranker
	HotSet       *HotSetCache
	RewriteCache RewriteCache
	Adaptive     AdaptiveConfig
	Metrics      *Metrics
}

func NewEngine(opts Options) *Engine {
	if opts.RewriteCache == nil {
		opts.RewriteCache = NewLocalRewriteCache(CacheSize, CacheTTL)
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	return &Engine{
		store:        opts.Store,
		embedder:     opts.Embedder,
		rewriter:     opts.Rewriter,
		reranker:     opts.Reranker,
		hotSet:       opts.HotSet,
		rewriteCache: opts.RewriteCache,
		adaptive:     opts.Adaptive,
		metrics:      opts.Metrics,
	}
}

// Search executes the pipeline for one request.
func (e *Engine) Search(ctx context.Context, req *Request) (*Response, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	e.metrics.RecordSearch(ctx)
	rec := req.Recipe
	limit := req.Limit
	if limit <= 0 || limit > recipe.MaxResultLimit {
		limit = rec.Limit
	}

	query, searchMetrics := e.maybeRewrite(ctx, req, start)

	embedded, err := e.embedder.Embed(ctx, query, embeddings.InputQuery)
	if err != nil {
		return nil, core.Upstream(fmt.Errorf("query embedding failed: %w", err))
	}
	queryVec := embedded.Vector
	embeddings.Normalize(queryVec)

	candidates, cacheHit, err := e.fetchCandidates(ctx, req, rec, limit)
	if err != nil {
		if errors.Is(err, store.ErrNotProvisioned) {
			return &Response{
				Query:       query,
				Recipe:      rec.Name,
				Results:     []Result{},
				Explanation: rec.Label + ": " + store.ProvisioningHint,
				Metrics:     searchMetrics,
			}, nil
		}
		return nil, err
	}

	scored := make([]Result, 0, len(candidates))
	for _, m := range candidates {
		if !m.AccessibleBy(req.Tenancy.SubjectID) {
			continue
		}
		semantic := embeddings.Cosine(queryVec, m.Embedding)
		scored = append(scored, Result{
			Memory:      m,
			Score:       semantic,
			RecipeScore: rec.Score(semantic, m),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RecipeScore > scored[j].RecipeScore
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	scored = e.maybeExpandGraph(ctx, req, rec, scored)
	scored = e.maybeRerank(ctx, req, query, scored, start, &searchMetrics)

	elapsed := time.Since(start)
	log.Info("recipe usage",
		"recipe", rec.Name,
		"results", len(scored),
		"candidates", len(candidates),
		"cacheHit", cacheHit,
		"elapsedMs", elapsed.Milliseconds())
	log.Debug("vector metrics",
		"rewriteApplied", searchMetrics.RewriteApplied,
		"rewriteLatencyMs", searchMetrics.RewriteLatencyMs,
		"rerankApplied", searchMetrics.RerankApplied,
		"rerankLatencyMs", searchMetrics.RerankLatencyMs)

	return &Response{
		Query:   query,
		Recipe:  rec.Name,
		Results: scored,
		Explanation: fmt.Sprintf("%s: ranked %d of %d candidates",
			rec.Label, len(scored), len(candidates)),
		Metrics: searchMetrics,
	}, nil
}

func (e *Engine) maybeRewrite(ctx context.Context, req *Request, start time.Time) (string, SearchMetrics) {
	var m SearchMetrics
	query := req.Query
	if !e.rewriter.Configured() {
		return query, m
	}
	enabled := e.adaptive.Rewrite.Enabled
	if req.Rewrite != nil {
		enabled = *req.Rewrite
	}
	if !enabled {
		return query, m
	}
	if req.Rewrite == nil && len(query) < e.adaptive.Rewrite.MinQueryLength {
		return query, m
	}
	budget := time.Duration(e.adaptive.Rewrite.LatencyBudgetMs) * time.Millisecond
	if time.Since(start) > budget {
		return query, m
	}
	if cached, ok := e.rewriteCache.Get(ctx, req.Prompt, query); ok {
		m.RewriteApplied = true
		e.metrics.RecordRewrite(ctx)
		return cached, m
	}
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	callStart := time.Now()
	rewritten, err := e.rewriter.Rewrite(callCtx, req.Prompt, query)
	if err != nil {
		logger.FromContext(ctx).Debug("query rewrite skipped", "error", err)
		return query, m
	}
	m.RewriteApplied = true
	m.RewriteLatencyMs = time.Since(callStart).Milliseconds()
	e.metrics.RecordRewrite(ctx)
	e.rewriteCache.Set(ctx, req.Prompt, query, rewritten)
	return rewritten, m
}

func (e *Engine) fetchCandidates(
	ctx context.Context,
	req *Request,
	rec *recipe.Recipe,
	limit int,
) ([]*memcore.Memory, bool, error) {
	filter := store.Filter{
		OrgID:     req.Tenancy.OrgID,
		ProjectID: req.Tenancy.ProjectID,
	}
	if rec.Filters != nil {
		filter.Pinned = rec.Filters.PinnedOnly
		filter.GraphEnrich = rec.Filters.GraphEnrich
		filter.Types = rec.Filters.Types
	}
	candidateLimit := rec.CandidateLimit
	if n := limit * 5; n > candidateLimit {
		candidateLimit = n
	}
	var key string
	if e.hotSet != nil {
		key = e.hotSet.Key(req.Tenancy.OrgID, req.Tenancy.ProjectID, filter.Signature(), candidateLimit)
		if cached, ok := e.hotSet.Get(key); ok {
			e.metrics.RecordCacheHit(ctx)
			return cached, true, nil
		}
	}
	candidates, err := e.store.Recent(ctx, filter, candidateLimit)
	if err != nil {
		return nil, false, err
	}
	if e.hotSet != nil {
		e.hotSet.Set(key, candidates)
	}
	return candidates, false, nil
}

func (e *Engine) maybeExpandGraph(
	ctx context.Context,
	req *Request,
	rec *recipe.Recipe,
	results []Result,
) []Result {
	if rec.GraphExpand == nil || len(results) == 0 {
		return results
	}
	base := make(map[core.ID]bool, len(results))
	ids := make([]core.ID, 0, len(results))
	for _, r := range results {
		base[r.Memory.ID] = true
		ids = append(ids, r.Memory.ID)
	}
	entities, err := e.store.EntitiesForMemories(
		ctx, req.Tenancy.OrgID, req.Tenancy.ProjectID, ids, graphEntityScanLimit)
	if err != nil {
		logger.FromContext(ctx).Debug("graph expansion skipped", "error", err)
		return results
	}
	var expansion []core.ID
	seen := make(map[core.ID]bool)
	for _, entity := range entities {
		for _, id := range entity.MemoryIDs {
			if base[id] || seen[id] {
				continue
			}
			seen[id] = true
			expansion = append(expansion, id)
			if len(expansion) >= rec.GraphExpand.Limit {
				break
			}
		}
		if len(expansion) >= rec.GraphExpand.Limit {
			break
		}
	}
	if len(expansion) == 0 {
		return results
	}
	memories, err := e.store.GetMany(ctx, req.Tenancy.OrgID, req.Tenancy.ProjectID, expansion)
	if err != nil {
		logger.FromContext(ctx).Debug("graph expansion fetch failed", "error", err)
		return results
	}
	appended := false
	for _, m := range memories {
		if !m.AccessibleBy(req.Tenancy.SubjectID) {
			continue
		}
		results = append(results, Result{Memory: m, GraphHit: true})
		appended = true
	}
	if appended {
		e.metrics.RecordGraphHit(ctx)
	}
	return results
}

func (e *Engine) maybeRerank(
	ctx context.Context,
	req *Request,
	query string,
	results []Result,
	start time.Time,
	searchMetrics *SearchMetrics,
) []Result {
	if !e.reranker.Configured() || len(results) == 0 {
		return results
	}
	enabled := e.adaptive.Rerank.Enabled
	if req.Rerank != nil {
		enabled = *req.Rerank
	}
	if !enabled {
		return results
	}
	if len(results) > e.adaptive.Rerank.MaxResults {
		return results
	}
	budget := time.Duration(e.adaptive.Rerank.LatencyBudgetMs) * time.Millisecond
	if time.Since(start) > budget {
		return results
	}
	candidates := make([]RerankCandidate, len(results))
	for i, r := range results {
		candidates[i] = RerankCandidate{
			ID:      r.Memory.ID.String(),
			Content: r.Memory.Content,
			Score:   r.RecipeScore,
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	callStart := time.Now()
	scores, err := e.reranker.Rerank(callCtx, req.Prompt, query, candidates)
	if err != nil {
		logger.FromContext(ctx).Debug("rerank skipped", "error", err)
		return results
	}
	for i := range results {
		if score, ok := scores[results[i].Memory.ID.String()]; ok {
			results[i].RecipeScore = score
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RecipeScore > results[j].RecipeScore
	})
	searchMetrics.RerankApplied = true
	searchMetrics.RerankLatencyMs = time.Since(callStart).Milliseconds()
	e.metrics.RecordRerank(ctx)
	return results
}
