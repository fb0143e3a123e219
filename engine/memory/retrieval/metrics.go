package retrieval

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts search pipeline activity through the global OTel meter
// provider. The no-op provider keeps this free when no exporter is wired.
type Metrics struct {
	searches  metric.Int64Counter
	cacheHits metric.Int64Counter
	rewrites  metric.Int64Counter
	reranks   metric.Int64Counter
	graph     metric.Int64Counter
}

func NewMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter("capsule/memory/retrieval")
	searches, _ := meter.Int64Counter("capsule_searches_total",
		metric.WithDescription("Search requests processed"))
	cacheHits, _ := meter.Int64Counter("capsule_hotset_cache_hits_total",
		metric.WithDescription("Candidate windows served from the hot-set cache"))
	rewrites, _ := meter.Int64Counter("capsule_rewrites_total",
		metric.WithDescription("Queries rewritten before embedding"))
	reranks, _ := meter.Int64Counter("capsule_reranks_total",
		metric.WithDescription("Result sets reranked"))
	graph, _ := meter.Int64Counter("capsule_graph_expansions_total",
		metric.WithDescription("Result sets expanded through the entity graph"))
	return &Metrics{
		searches:  searches,
		cacheHits: cacheHits,
		rewrites:  rewrites,
		reranks:   reranks,
		graph:     graph,
	}
}

func (m *Metrics) RecordSearch(ctx context.Context)   { m.searches.Add(ctx, 1) }
func (m *Metrics) RecordCacheHit(ctx context.Context) { m.cacheHits.Add(ctx, 1) }
func (m *Metrics) RecordRewrite(ctx context.Context)  { m.rewrites.Add(ctx, 1) }
func (m *Metrics) RecordRerank(ctx context.Context)   { m.reranks.Add(ctx, 1) }
func (m *Metrics) RecordGraphHit(ctx context.Context) { m.graph.Add(ctx, 1) }
