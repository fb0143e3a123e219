package policy

import (
	"context"

	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/pkg/logger"
)

// ManualOverridePolicy is appended to applied policies when the caller
// supplies a storage override on write.
const ManualOverridePolicy = "manual-override"

// Context is the slice of memory metadata storage policies match on.
type Context struct {
	Type   string
	Source memcore.Source
	Tags   []string
	Pinned bool
}

// Effect is a partial storage decision; nil fields leave the running
// aggregate untouched (last-writer-wins across the ordered policy list).
type Effect struct {
	Store           memcore.StoreKind
	TTLSeconds      *int64
	InfiniteTTL     bool
	GraphEnrich     *bool
	DedupeThreshold *float64
	Importance      *float64
}

// Policy is one declarative storage rule.
type Policy struct {
	Name    string
	Summary string
	Match   func(Context) bool
	Apply   func(Context) Effect
}

// Decision is the aggregated outcome of evaluating the policy list.
type Decision struct {
	Store           memcore.StoreKind `json:"store"`
	TTLSeconds      *int64            `json:"ttlSeconds,omitempty"`
	GraphEnrich     *bool             `json:"graphEnrich,omitempty"`
	DedupeThreshold *float64          `json:"dedupeThreshold,omitempty"`
	Importance      *float64          `json:"importanceScore,omitempty"`
	AppliedPolicies []string          `json:"appliedPolicies"`
}

// Summary is the caller-visible description of one rule.
type Summary struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// Engine evaluates an ordered, process-wide policy list.
type Engine struct {
	policies []Policy
}

func ptrBool(v bool) *bool        { return &v }
func ptrInt64(v int64) *int64     { return &v }
func ptrFloat(v float64) *float64 { return &v }

// BuiltinPolicies returns the static rule set shipped with the engine.
func BuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:    "preferences-long-term",
			Summary: "Preferences are kept long-term without expiry and deduplicated aggressively.",
			Match:   func(c Context) bool { return c.Type == "preference" },
			Apply: func(Context) Effect {
				return Effect{
					Store:           memcore.StoreLongTerm,
					InfiniteTTL:     true,
					DedupeThreshold: ptrFloat(0.9),
					Importance:      ptrFloat(1.5),
				}
			},
		},
		{
			Name:    "operational-logs-short-term",
			Summary: "Operational logs stay short-term for 14 days and skip graph enrichment.",
			Match:   func(c Context) bool { return c.Type == "log" },
			Apply: func(Context) Effect {
				return Effect{
					Store:       memcore.StoreShortTerm,
					TTLSeconds:  ptrInt64(14 * 86400),
					GraphEnrich: ptrBool(false),
				}
			},
		},
		{
			Name:    "knowledge-connectors-long-term",
			Summary: "Knowledge connector imports are kept long-term and graph enriched.",
			Match: func(c Context) bool {
				return c.Source.Connector == "notion" || c.Source.Connector == "drive"
			},
			Apply: func(Context) Effect {
				return Effect{Store: memcore.StoreLongTerm, GraphEnrich: ptrBool(true)}
			},
		},
	}
}

// NewEngine builds an engine over the built-in rule set.
func NewEngine() *Engine {
	return &Engine{policies: BuiltinPolicies()}
}

// NewEngineWithPolicies builds an engine over a custom ordered rule set.
func NewEngineWithPolicies(policies []Policy) *Engine {
	return &Engine{policies: policies}
}

// Summaries lists the rules for the policy listing endpoint.
func (e *Engine) Summaries() []Summary {
	out := make([]Summary, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, Summary{Name: p.Name, Summary: p.Summary})
	}
	return out
}

// Evaluate folds every matching rule over the default decision.
func (e *Engine) Evaluate(pctx Context) Decision {
	decision := Decision{
		Store:           memcore.StoreLongTerm,
		GraphEnrich:     ptrBool(false),
		AppliedPolicies: []string{},
	}
	for i := range e.policies {
		p := &e.policies[i]
		if p.Match == nil || !p.Match(pctx) {
			continue
		}
		effect := p.Apply(pctx)
		if effect.Store != "" {
			decision.Store = effect.Store
		}
		if effect.InfiniteTTL {
			decision.TTLSeconds = nil
		} else if effect.TTLSeconds != nil {
			decision.TTLSeconds = effect.TTLSeconds
		}
		if effect.GraphEnrich != nil {
			decision.GraphEnrich = effect.GraphEnrich
		}
		if effect.DedupeThreshold != nil {
			decision.DedupeThreshold = effect.DedupeThreshold
		}
		if effect.Importance != nil {
			decision.Importance = effect.Importance
		}
		decision.AppliedPolicies = append(decision.AppliedPolicies, p.Name)
	}
	return decision
}

// Override is a caller-supplied storage override merged on top of the
// evaluated decision.
type Override struct {
	Store           memcore.StoreKind `json:"store,omitempty"`
	TTLSeconds      *int64            `json:"ttlSeconds,omitempty"`
	GraphEnrich     *bool             `json:"graphEnrich,omitempty"`
	DedupeThreshold *float64          `json:"dedupeThreshold,omitempty"`
}

// Merge applies a manual override and records it in the applied list.
func (d Decision) Merge(override *Override) Decision {
	if override == nil {
		return d
	}
	if override.Store != "" {
		d.Store = override.Store
	}
	if override.TTLSeconds != nil {
		d.TTLSeconds = override.TTLSeconds
	}
	if override.GraphEnrich != nil {
		d.GraphEnrich = override.GraphEnrich
	}
	if override.DedupeThreshold != nil {
		d.DedupeThreshold = override.DedupeThreshold
	}
	d.AppliedPolicies = append(append([]string{}, d.AppliedPolicies...), ManualOverridePolicy)
	return d
}

// Preview evaluates without mutating state and logs a preview event.
func (e *Engine) Preview(ctx context.Context, pctx Context) Decision {
	decision := e.Evaluate(pctx)
	logger.FromContext(ctx).Info("storage policy preview",
		"type", pctx.Type,
		"connector", pctx.Source.Connector,
		"pinned", pctx.Pinned,
		"store", decision.Store,
		"applied_policies", decision.AppliedPolicies,
	)
	return decision
}
