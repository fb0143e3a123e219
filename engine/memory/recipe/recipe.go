package recipe

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
)

// DefaultName is the recipe used when a search names none.
const DefaultName = "balanced-default"

// MaxResultLimit caps both recipe limits and per-request limits.
const MaxResultLimit = 50

// Filters narrows the candidate window before scoring.
type Filters struct {
	PinnedOnly  *bool    `json:"pinnedOnly,omitempty"`
	GraphEnrich *bool    `json:"graphEnrich,omitempty"`
	Types       []string `json:"types,omitempty" validate:"omitempty,max=10,dive,min=1,max=64"`
}

// Scoring holds the weighted-sum parameters. RetentionBoosts keys must be
// valid retention classes.
type Scoring struct {
	SemanticWeight   float64            `json:"semanticWeight" validate:"gt=0,lte=10"`
	ImportanceWeight float64            `json:"importanceWeight,omitempty" validate:"gte=0,lte=10"`
	RecencyWeight    float64            `json:"recencyWeight,omitempty" validate:"gte=0,lte=10"`
	PinnedBoost      float64            `json:"pinnedBoost,omitempty" validate:"gte=0,lte=10"`
	RetentionBoosts  map[string]float64 `json:"retentionBoosts,omitempty" validate:"omitempty,max=4"`
}

// GraphExpand enables co-occurrence expansion of the scored result set.
type GraphExpand struct {
	Limit int `json:"limit" validate:"min=1,max=50"`
	Depth int `json:"depth,omitempty" validate:"omitempty,min=1,max=2"`
}

// Recipe is a declarative retrieval configuration: filters, candidate
// window, scoring weights, and optional graph expansion.
type Recipe struct {
	Name           string       `json:"name" validate:"required,min=1,max=64"`
	Label          string       `json:"label" validate:"required,min=1,max=128"`
	Description    string       `json:"description,omitempty" validate:"max=512"`
	Limit          int          `json:"limit" validate:"min=1,max=50"`
	CandidateLimit int          `json:"candidateLimit" validate:"min=1,max=500"`
	Filters        *Filters     `json:"filters,omitempty"`
	Scoring        Scoring      `json:"scoring"`
	GraphExpand    *GraphExpand `json:"graphExpand,omitempty"`
}

// Score computes the weighted recipe score for one candidate given its
// semantic similarity against the query.
func (r *Recipe) Score(semantic float64, m *memcore.Memory) float64 {
	score := semantic*r.Scoring.SemanticWeight +
		m.Importance*r.Scoring.ImportanceWeight +
		m.Recency*r.Scoring.RecencyWeight
	if m.Pinned {
		score += r.Scoring.PinnedBoost
	}
	if boost, ok := r.Scoring.RetentionBoosts[string(m.Retention)]; ok {
		score += boost
	}
	return score
}

var validate = validator.New()

// Validate checks a caller-supplied recipe before evaluation. Built-in
// recipes are validated once at registry construction.
func Validate(r *Recipe) error {
	if err := validate.Struct(r); err != nil {
		return core.InvalidArgument("invalid recipe: %w", err)
	}
	for class := range r.Scoring.RetentionBoosts {
		if !memcore.Retention(class).Valid() {
			return core.InvalidArgument(
				"invalid recipe: unknown retention class %q in retentionBoosts", class)
		}
	}
	if r.Filters != nil {
		for _, t := range r.Filters.Types {
			if strings.TrimSpace(t) == "" {
				return core.InvalidArgument("invalid recipe: blank entry in filters.types")
			}
		}
	}
	return nil
}
