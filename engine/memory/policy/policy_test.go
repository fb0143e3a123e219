package policy

import (
	"testing"

	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Evaluate(t *testing.T) {
	engine := NewEngine()

	t.Run("Should route preferences long-term with dedupe and boost", func(t *testing.T) {
		d := engine.Evaluate(Context{Type: "preference"})

		assert.Equal(t, memcore.StoreLongTerm, d.Store)
		assert.Nil(t, d.TTLSeconds)
		require.NotNil(t, d.DedupeThreshold)
		assert.Equal(t, 0.9, *d.DedupeThreshold)
		require.NotNil(t, d.Importance)
		assert.Equal(t, 1.5, *d.Importance)
		assert.Equal(t, []string{"preferences-long-term"}, d.AppliedPolicies)
	})

	t.Run("Should route logs short-term with a 14 day TTL", func(t *testing.T) {
		d := engine.Evaluate(Context{Type: "log"})

		assert.Equal(t, memcore.StoreShortTerm, d.Store)
		require.NotNil(t, d.TTLSeconds)
		assert.Equal(t, int64(14*86400), *d.TTLSeconds)
		require.NotNil(t, d.GraphEnrich)
		assert.False(t, *d.GraphEnrich)
	})

	t.Run("Should enrich knowledge connector imports", func(t *testing.T) {
		d := engine.Evaluate(Context{Source: memcore.Source{Connector: "notion"}})

		assert.Equal(t, memcore.StoreLongTerm, d.Store)
		require.NotNil(t, d.GraphEnrich)
		assert.True(t, *d.GraphEnrich)
		assert.Equal(t, []string{"knowledge-connectors-long-term"}, d.AppliedPolicies)
	})

	t.Run("Should fall back to the default decision", func(t *testing.T) {
		d := engine.Evaluate(Context{Type: "note"})

		assert.Equal(t, memcore.StoreLongTerm, d.Store)
		assert.Nil(t, d.TTLSeconds)
		require.NotNil(t, d.GraphEnrich)
		assert.False(t, *d.GraphEnrich)
		assert.Empty(t, d.AppliedPolicies)
	})

	t.Run("Should apply later matching rules last", func(t *testing.T) {
		d := engine.Evaluate(Context{Type: "log", Source: memcore.Source{Connector: "drive"}})

		// knowledge-connectors wins the store; the log TTL survives.
		assert.Equal(t, memcore.StoreLongTerm, d.Store)
		require.NotNil(t, d.TTLSeconds)
		require.NotNil(t, d.GraphEnrich)
		assert.True(t, *d.GraphEnrich)
		assert.Equal(t,
			[]string{"operational-logs-short-term", "knowledge-connectors-long-term"},
			d.AppliedPolicies,
		)
	})
}

func TestDecision_Merge(t *testing.T) {
	engine := NewEngine()

	t.Run("Should apply manual overrides and record them", func(t *testing.T) {
		graph := true
		d := engine.Evaluate(Context{Type: "note"}).Merge(&Override{
			Store:       memcore.StoreCapsuleGraph,
			GraphEnrich: &graph,
		})

		assert.Equal(t, memcore.StoreCapsuleGraph, d.Store)
		require.NotNil(t, d.GraphEnrich)
		assert.True(t, *d.GraphEnrich)
		assert.Contains(t, d.AppliedPolicies, ManualOverridePolicy)
	})

	t.Run("Should be a no-op for nil overrides", func(t *testing.T) {
		d := engine.Evaluate(Context{Type: "note"})
		assert.Equal(t, d, d.Merge(nil))
	})
}
