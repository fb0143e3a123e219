package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
)

func TestRegistry(t *testing.T) {
	t.Run("Should ship the named recipes", func(t *testing.T) {
		r := NewRegistry()
		for _, name := range []string{
			"balanced-default", "conversation-memory", "pinned-critical", "knowledge-graph",
		} {
			_, ok := r.Get(name)
			assert.True(t, ok, "missing recipe %s", name)
		}
	})
	t.Run("Should return the default recipe", func(t *testing.T) {
		r := NewRegistry()
		def := r.Default()
		require.NotNil(t, def)
		assert.Equal(t, DefaultName, def.Name)
	})
	t.Run("Should list recipes sorted by name", func(t *testing.T) {
		r := NewRegistry()
		list := r.List()
		require.Len(t, list, 4)
		for i := 1; i < len(list); i++ {
			assert.Less(t, list[i-1].Name, list[i].Name)
		}
	})
}

func TestRecipeScore(t *testing.T) {
	t.Run("Should apply weights, pinned boost, and retention boost", func(t *testing.T) {
		rec := &Recipe{
			Name:           "test",
			Label:          "Test",
			Limit:          5,
			CandidateLimit: 20,
			Scoring: Scoring{
				SemanticWeight:   1.0,
				ImportanceWeight: 0.5,
				RecencyWeight:    0.25,
				PinnedBoost:      0.3,
				RetentionBoosts:  map[string]float64{"permanent": 0.2},
			},
		}
		m := &memcore.Memory{
			Importance: 2.0,
			Recency:    1.0,
			Pinned:     true,
			Retention:  memcore.RetentionPermanent,
		}
		got := rec.Score(0.8, m)
		assert.InDelta(t, 0.8+1.0+0.25+0.3+0.2, got, 1e-9)
	})
	t.Run("Should not boost unlisted retention classes", func(t *testing.T) {
		rec := &Recipe{
			Scoring: Scoring{
				SemanticWeight:  1.0,
				RetentionBoosts: map[string]float64{"permanent": 0.2},
			},
		}
		m := &memcore.Memory{Retention: memcore.RetentionReplaceable}
		assert.InDelta(t, 0.5, rec.Score(0.5, m), 1e-9)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Recipe {
		return &Recipe{
			Name:           "custom",
			Label:          "Custom",
			Limit:          5,
			CandidateLimit: 25,
			Scoring:        Scoring{SemanticWeight: 1.0},
		}
	}
	t.Run("Should accept a minimal valid recipe", func(t *testing.T) {
		assert.NoError(t, Validate(valid()))
	})
	t.Run("Should reject a zero semantic weight", func(t *testing.T) {
		r := valid()
		r.Scoring.SemanticWeight = 0
		err := Validate(r)
		require.Error(t, err)
		assert.Equal(t, core.ErrCodeInvalidArgument, core.CodeOf(err))
	})
	t.Run("Should reject a limit above the cap", func(t *testing.T) {
		r := valid()
		r.Limit = MaxResultLimit + 1
		assert.Error(t, Validate(r))
	})
	t.Run("Should reject unknown retention boost classes", func(t *testing.T) {
		r := valid()
		r.Scoring.RetentionBoosts = map[string]float64{"forever": 1.0}
		err := Validate(r)
		require.Error(t, err)
		assert.Equal(t, core.ErrCodeInvalidArgument, core.CodeOf(err))
	})
	t.Run("Should reject blank filter types", func(t *testing.T) {
		r := valid()
		r.Filters = &Filters{Types: []string{"  "}}
		assert.Error(t, Validate(r))
	})
	t.Run("Should reject graph expansion beyond the cap", func(t *testing.T) {
		r := valid()
		r.GraphExpand = &GraphExpand{Limit: 51}
		assert.Error(t, Validate(r))
	})
}
