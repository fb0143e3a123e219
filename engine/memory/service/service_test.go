package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/engine/memory/embeddings"
	"github.com/capsulehq/capsule/engine/memory/policy"
	"github.com/capsulehq/capsule/engine/memory/retrieval"
	"github.com/capsulehq/capsule/engine/memory/store"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(
	_ context.Context,
	text string,
	_ embeddings.InputType,
) (*embeddings.Result, error) {
	vec := []float32{float32(len(text)%7) + 1, 1, 0.5}
	return &embeddings.Result{Vector: vec, Model: "stub"}, nil
}

func testTenancy() memcore.Tenancy {
	return memcore.Tenancy{OrgID: "org-1", ProjectID: "proj-1", SubjectID: "subject-1"}
}

func newTestService(maxMemories int) (*Service, store.Store) {
	backing := store.NewMemoryStore()
	embedder := stubEmbedder{}
	engine := retrieval.NewEngine(retrieval.Options{
		Store:    backing,
		Embedder: embedder,
		Adaptive: retrieval.DefaultAdaptiveConfig(),
	})
	svc := New(Options{
		Store:       backing,
		Embedder:    embedder,
		Search:      engine,
		MaxMemories: maxMemories,
	})
	return svc, backing
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	t.Run("Should create a memory with defaults", func(t *testing.T) {
		svc, _ := newTestService(100)
		out, err := svc.Create(ctx, testTenancy(), &CreateInput{Content: "team retro is on fridays"})
		require.NoError(t, err)
		m := out.Memory
		assert.False(t, m.ID.IsZero())
		assert.Equal(t, memcore.StoreLongTerm, m.Storage.Store)
		assert.Equal(t, memcore.VisibilityPrivate, m.ACL.Visibility)
		assert.Equal(t, memcore.RetentionReplaceable, m.Retention)
		assert.True(t, m.RetentionAuto)
		assert.Equal(t, 1.0, m.Importance)
		assert.Equal(t, "en", m.Lang)
		assert.Equal(t, DefaultApp, m.Source.App)
		assert.InDelta(t, 1.0, vectorSquaredLength(m.Embedding), 1e-6)
		assert.Greater(t, m.EmbeddingNorm, 0.0)
		require.Len(t, m.Provenance, 1)
		assert.Equal(t, "created", m.Provenance[0].Event)
		assert.Equal(t, "subject-1", m.Provenance[0].Actor)
	})
	t.Run("Should reject empty content", func(t *testing.T) {
		svc, _ := newTestService(100)
		_, err := svc.Create(ctx, testTenancy(), &CreateInput{Content: "   "})
		require.Error(t, err)
		assert.Equal(t, core.ErrCodeInvalidArgument, core.CodeOf(err))
	})
	t.Run("Should replay an idempotent request", func(t *testing.T) {
		svc, _ := newTestService(100)
		first, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content:        "remember the door code",
			IdempotencyKey: "idem-1",
		})
		require.NoError(t, err)
		second, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content:        "remember the door code",
			IdempotencyKey: "idem-1",
		})
		require.NoError(t, err)
		assert.Equal(t, first.Memory.ID, second.Memory.ID)
		assert.Equal(t, ReplayExplanation, second.Explanation)
	})
	t.Run("Should apply the preference policy", func(t *testing.T) {
		svc, _ := newTestService(100)
		out, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content: "prefers dark mode",
			Type:    "preference",
		})
		require.NoError(t, err)
		m := out.Memory
		assert.Equal(t, memcore.StoreLongTerm, m.Storage.Store)
		assert.Contains(t, m.Storage.Policies, "preferences-long-term")
		assert.Equal(t, 1.5, m.Importance)
		assert.Nil(t, m.TTLSeconds)
	})
	t.Run("Should record a manual storage override and enqueue enrichment", func(t *testing.T) {
		svc, backing := newTestService(100)
		enrich := true
		out, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content: "connector sync notes",
			Storage: &policy.Override{Store: memcore.StoreShortTerm, GraphEnrich: &enrich},
		})
		require.NoError(t, err)
		m := out.Memory
		assert.Equal(t, memcore.StoreShortTerm, m.Storage.Store)
		assert.Contains(t, m.Storage.Policies, policy.ManualOverridePolicy)
		job, err := backing.ClaimNextGraphJob(ctx, memcore.GraphMaxAttempts)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, m.ID, job.MemoryID)
	})
	t.Run("Should classify pinned memories as irreplaceable and drop TTL", func(t *testing.T) {
		svc, _ := newTestService(100)
		ttl := int64(3600)
		out, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content:    "never lose this",
			Pinned:     true,
			TTLSeconds: &ttl,
		})
		require.NoError(t, err)
		m := out.Memory
		assert.Equal(t, memcore.RetentionIrreplaceable, m.Retention)
		assert.True(t, m.RetentionAuto)
		assert.Nil(t, m.TTLSeconds)
		assert.Nil(t, m.ExpiresAt)
		assert.Equal(t, 1.5, m.Importance)
	})
	t.Run("Should classify short TTLs as ephemeral", func(t *testing.T) {
		svc, _ := newTestService(100)
		ttl := int64(3600)
		out, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content:    "temporary scratchpad",
			TTLSeconds: &ttl,
		})
		require.NoError(t, err)
		m := out.Memory
		assert.Equal(t, memcore.RetentionEphemeral, m.Retention)
		require.NotNil(t, m.ExpiresAt)
		assert.WithinDuration(t, m.CreatedAt.Add(time.Hour), *m.ExpiresAt, time.Second)
	})
	t.Run("Should default explicit ephemeral retention to a seven day TTL", func(t *testing.T) {
		svc, _ := newTestService(100)
		out, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content:   "short lived note",
			Retention: memcore.RetentionEphemeral,
		})
		require.NoError(t, err)
		m := out.Memory
		require.NotNil(t, m.TTLSeconds)
		assert.Equal(t, int64(memcore.DefaultEphemeralTTL/time.Second), *m.TTLSeconds)
		assert.False(t, m.RetentionAuto)
	})
	t.Run("Should cap an explicit ephemeral TTL at seven days", func(t *testing.T) {
		svc, _ := newTestService(100)
		ttl := int64(30 * 24 * 3600)
		out, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content:    "expires soon regardless",
			Retention:  memcore.RetentionEphemeral,
			TTLSeconds: &ttl,
		})
		require.NoError(t, err)
		m := out.Memory
		require.NotNil(t, m.TTLSeconds)
		assert.Equal(t, int64(memcore.DefaultEphemeralTTL/time.Second), *m.TTLSeconds)
		require.NotNil(t, m.ExpiresAt)
		assert.WithinDuration(t, m.CreatedAt.Add(memcore.DefaultEphemeralTTL), *m.ExpiresAt, time.Second)
	})
	t.Run("Should reject TTLs beyond one year", func(t *testing.T) {
		svc, _ := newTestService(100)
		ttl := int64(366 * 24 * 3600)
		_, err := svc.Create(ctx, testTenancy(), &CreateInput{Content: "x", TTLSeconds: &ttl})
		require.Error(t, err)
		assert.Equal(t, core.ErrCodeInvalidArgument, core.CodeOf(err))
	})
	t.Run("Should reject raised PII with non-private visibility", func(t *testing.T) {
		svc, _ := newTestService(100)
		_, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content:  "john's email is j@example.com",
			PIIFlags: map[string]bool{"email": true},
			ACL:      &memcore.ACL{Visibility: memcore.VisibilityPublic},
		})
		require.Error(t, err)
		assert.Equal(t, core.ErrCodeInvalidArgument, core.CodeOf(err))
	})
	t.Run("Should store plaintext flags without a cipher", func(t *testing.T) {
		svc, _ := newTestService(100)
		out, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content:  "contact info",
			PIIFlags: map[string]bool{"email": true},
		})
		require.NoError(t, err)
		assert.Nil(t, out.Memory.PIIEnvelope)
		assert.True(t, out.Memory.PIIFlags["email"])
	})
	t.Run("Should encrypt flags with a BYOK key", func(t *testing.T) {
		svc, _ := newTestService(100)
		out, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content:       "contact info",
			PIIFlags:      map[string]bool{"email": true},
			EncryptionKey: "0123456789abcdef0123456789abcdef",
		})
		require.NoError(t, err)
		require.NotNil(t, out.Memory.PIIEnvelope)
		assert.Nil(t, out.Memory.PIIFlags)
		assert.Equal(t, 1, out.Memory.PIIEnvelope.Version)
	})
	t.Run("Should reject a malformed BYOK key", func(t *testing.T) {
		svc, _ := newTestService(100)
		_, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content:       "contact info",
			PIIFlags:      map[string]bool{"email": true},
			EncryptionKey: "too-short",
		})
		require.Error(t, err)
		assert.Equal(t, core.ErrCodeInvalidArgument, core.CodeOf(err))
	})
}

func TestCreate_Eviction(t *testing.T) {
	ctx := context.Background()
	t.Run("Should evict the lowest-priority oldest memory over the cap", func(t *testing.T) {
		svc, _ := newTestService(2)
		first, err := svc.Create(ctx, testTenancy(), &CreateInput{Content: "oldest replaceable"})
		require.NoError(t, err)
		_, err = svc.Create(ctx, testTenancy(), &CreateInput{Content: "second replaceable"})
		require.NoError(t, err)
		out, err := svc.Create(ctx, testTenancy(), &CreateInput{Content: "third memory"})
		require.NoError(t, err)
		assert.Equal(t, first.Memory.ID, out.ForgottenMemoryID)
	})
	t.Run("Should report no candidate when everything is protected", func(t *testing.T) {
		svc, _ := newTestService(1)
		_, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content:   "keep forever",
			Retention: memcore.RetentionPermanent,
		})
		require.NoError(t, err)
		out, err := svc.Create(ctx, testTenancy(), &CreateInput{
			Content:   "also keep forever",
			Retention: memcore.RetentionPermanent,
		})
		require.NoError(t, err)
		assert.Empty(t, out.ForgottenMemoryID)
		assert.Contains(t, out.Explanation, "no eviction candidate found")
	})
}

func vectorSquaredLength(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return sum
}
