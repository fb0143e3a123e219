package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/engine/memory/store"
)

func TestExtractEntities(t *testing.T) {
	t.Run("Should extract capitalized token runs", func(t *testing.T) {
		m := &memcore.Memory{Content: "Met with Jane Doe from Acme Corp about the renewal"}
		entities := ExtractEntities(m)
		assert.Contains(t, entities, "Jane Doe")
		assert.Contains(t, entities, "Acme Corp")
	})
	t.Run("Should drop short runs and all-caps acronyms", func(t *testing.T) {
		m := &memcore.Memory{Content: "Sent the NASA report to Al on Friday"}
		entities := ExtractEntities(m)
		assert.NotContains(t, entities, "NASA")
		assert.NotContains(t, entities, "Al")
		assert.Contains(t, entities, "Friday")
	})
	t.Run("Should add one entity per tag", func(t *testing.T) {
		m := &memcore.Memory{Content: "nothing capitalized here", Tags: []string{"project-x", "billing"}}
		entities := ExtractEntities(m)
		assert.ElementsMatch(t, []string{"#project-x", "#billing"}, entities)
	})
	t.Run("Should deduplicate and cap the result", func(t *testing.T) {
		content := ""
		for i := 0; i < 40; i++ {
			content += "Entity" + string(rune('A'+i%26)) + string(rune('a'+i/26)) + " and "
		}
		m := &memcore.Memory{Content: content + " Acme Acme Acme"}
		entities := ExtractEntities(m)
		assert.LessOrEqual(t, len(entities), MaxEntitiesPerMemory)
		seen := make(map[string]bool)
		for _, e := range entities {
			assert.False(t, seen[e], "duplicate entity %s", e)
			seen[e] = true
		}
	})
}

func seedMemory(t *testing.T, s store.Store, id, content string, tags []string) *memcore.Memory {
	t.Helper()
	m := &memcore.Memory{
		ID:        core.ID(id),
		Tenancy:   memcore.Tenancy{OrgID: "org-1", ProjectID: "proj-1", SubjectID: "subject-1"},
		Content:   content,
		Tags:      tags,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		ACL:       memcore.ACL{Visibility: memcore.VisibilityPrivate},
		Storage:   memcore.StorageState{Store: memcore.StoreLongTerm},
		Retention: memcore.RetentionReplaceable,
	}
	require.NoError(t, s.Insert(context.Background(), m))
	return m
}

func TestWorker_ProcessOne(t *testing.T) {
	ctx := context.Background()
	t.Run("Should enrich a memory and mark the job done", func(t *testing.T) {
		s := store.NewMemoryStore()
		m := seedMemory(t, s, "mem-1", "Lunch with Jane Doe at Blue Bottle", []string{"social"})
		require.NoError(t, s.EnqueueGraphJob(ctx, "org-1", "proj-1", m.ID))
		w := NewWorker(s, DefaultInterval)
		assert.True(t, w.ProcessOne(ctx))
		entities, err := s.EntitiesForMemories(ctx, "org-1", "proj-1", []core.ID{m.ID}, 50)
		require.NoError(t, err)
		names := make([]string, len(entities))
		for i, e := range entities {
			names[i] = e.Entity
		}
		assert.Contains(t, names, "Jane Doe")
		assert.Contains(t, names, "#social")
		claimed, err := s.ClaimNextGraphJob(ctx, memcore.GraphMaxAttempts)
		require.NoError(t, err)
		assert.Nil(t, claimed, "job should be finished, not claimable")
	})
	t.Run("Should mark jobs for missing memories as errored", func(t *testing.T) {
		s := store.NewMemoryStore()
		require.NoError(t, s.EnqueueGraphJob(ctx, "org-1", "proj-1", core.ID("mem-gone")))
		w := NewWorker(s, DefaultInterval)
		assert.True(t, w.ProcessOne(ctx))
		// Errored jobs stay claimable until the attempt cap.
		for i := 0; i < memcore.GraphMaxAttempts-1; i++ {
			assert.True(t, w.ProcessOne(ctx))
		}
		assert.False(t, w.ProcessOne(ctx))
	})
	t.Run("Should report false on an empty queue", func(t *testing.T) {
		s := store.NewMemoryStore()
		w := NewWorker(s, DefaultInterval)
		assert.False(t, w.ProcessOne(ctx))
	})
}

func TestWorker_StartStop(t *testing.T) {
	t.Run("Should ignore duplicate starts and stop cleanly", func(t *testing.T) {
		s := store.NewMemoryStore()
		w := NewWorker(s, 10*time.Millisecond)
		ctx := context.Background()
		w.Start(ctx)
		w.Start(ctx)
		time.Sleep(30 * time.Millisecond)
		w.Stop()
		w.Stop()
	})
}
