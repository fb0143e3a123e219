package recipe

import (
	"fmt"
	"sort"
)

// Registry holds the named recipes available to search requests. It is
// immutable after construction and safe for concurrent use.
type Registry struct {
	recipes map[string]*Recipe
}

func ptr[T any](v T) *T { return &v }

func builtinRecipes() []*Recipe {
	return []*Recipe{
		{
			Name:           "balanced-default",
			Label:          "Balanced retrieval",
			Description:    "General-purpose semantic retrieval with mild importance and recency weighting.",
			Limit:          10,
			CandidateLimit: 50,
			Scoring: Scoring{
				SemanticWeight:   1.0,
				ImportanceWeight: 0.2,
				RecencyWeight:    0.1,
				PinnedBoost:      0.15,
			},
		},
		{
			Name:           "conversation-memory",
			Label:          "Conversation memory",
			Description:    "Recall preferences and facts mentioned in conversation, favoring recent context.",
			Limit:          8,
			CandidateLimit: 80,
			Filters: &Filters{
				Types: []string{"preference", "fact", "context"},
			},
			Scoring: Scoring{
				SemanticWeight:   1.0,
				ImportanceWeight: 0.3,
				RecencyWeight:    0.25,
				PinnedBoost:      0.3,
			},
		},
		{
			Name:           "pinned-critical",
			Label:          "Pinned and critical",
			Description:    "Surface pinned and highly retained memories first.",
			Limit:          10,
			CandidateLimit: 50,
			Filters: &Filters{
				PinnedOnly: ptr(true),
			},
			Scoring: Scoring{
				SemanticWeight: 1.0,
				PinnedBoost:    1.0,
				RetentionBoosts: map[string]float64{
					"irreplaceable": 0.5,
					"permanent":     0.25,
				},
			},
		},
		{
			Name:           "knowledge-graph",
			Label:          "Knowledge graph",
			Description:    "Graph-enriched memories expanded through co-occurring entities.",
			Limit:          10,
			CandidateLimit: 100,
			Filters: &Filters{
				GraphEnrich: ptr(true),
			},
			Scoring: Scoring{
				SemanticWeight:   1.0,
				ImportanceWeight: 0.15,
			},
			GraphExpand: &GraphExpand{Limit: 10, Depth: 1},
		},
	}
}

// NewRegistry builds the registry of built-in recipes. It panics if a
// built-in fails validation, which only happens on a programming error.
func NewRegistry() *Registry {
	r := &Registry{recipes: make(map[string]*Recipe)}
	for _, rec := range builtinRecipes() {
		if err := Validate(rec); err != nil {
			panic(fmt.Sprintf("built-in recipe %q is invalid: %v", rec.Name, err))
		}
		r.recipes[rec.Name] = rec
	}
	return r
}

// Get returns the named recipe, or false when unknown.
func (r *Registry) Get(name string) (*Recipe, bool) {
	rec, ok := r.recipes[name]
	return rec, ok
}

// Default returns the balanced-default recipe.
func (r *Registry) Default() *Recipe {
	return r.recipes[DefaultName]
}

// List returns all recipes sorted by name.
func (r *Registry) List() []*Recipe {
	out := make([]*Recipe, 0, len(r.recipes))
	for _, rec := range r.recipes {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
