package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/engine/memory/embeddings"
	"github.com/capsulehq/capsule/engine/memory/metadata"
	"github.com/capsulehq/capsule/engine/memory/policy"
	"github.com/capsulehq/capsule/engine/memory/privacy"
	"github.com/capsulehq/capsule/engine/memory/retention"
	"github.com/capsulehq/capsule/engine/memory/store"
	"github.com/capsulehq/capsule/pkg/logger"
)

// ReplayExplanation marks responses served from an earlier idempotent
// write.
const ReplayExplanation = "Replayed idempotent request."

// CreateInput is the write schema. IdempotencyKey and EncryptionKey arrive
// via headers, not the body.
type CreateInput struct {
	Content        string            `json:"content"`
	Pinned         bool              `json:"pinned,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	TTLSeconds     *int64            `json:"ttlSeconds,omitempty"`
	Type           string            `json:"type,omitempty"`
	Lang           string            `json:"lang,omitempty"`
	Importance     *float64          `json:"importanceScore,omitempty"`
	Recency        *float64          `json:"recencyScore,omitempty"`
	Source         *memcore.Source   `json:"source,omitempty"`
	ACL            *memcore.ACL      `json:"acl,omitempty"`
	PIIFlags       map[string]bool   `json:"piiFlags,omitempty"`
	Storage        *policy.Override  `json:"storage,omitempty"`
	Retention      memcore.Retention `json:"retention,omitempty"`
	IdempotencyKey string            `json:"-"`
	EncryptionKey  string            `json:"-"`
}

// CreateOutput returns the materialized memory plus pipeline context.
type CreateOutput struct {
	Memory            *memcore.Memory `json:"memory"`
	Explanation       string          `json:"explanation"`
	ForgottenMemoryID core.ID         `json:"forgottenMemoryId,omitempty"`
}

func (in *CreateInput) validate() error {
	if strings.TrimSpace(in.Content) == "" {
		return core.InvalidArgument("content must not be empty")
	}
	if in.TTLSeconds != nil {
		ttl := time.Duration(*in.TTLSeconds) * time.Second
		if *in.TTLSeconds <= 0 || ttl > memcore.MaxTTL {
			return core.InvalidArgument(
				"ttlSeconds must be positive and at most %d", int64(memcore.MaxTTL/time.Second))
		}
	}
	if in.Importance != nil && (*in.Importance < 0 || *in.Importance > 5) {
		return core.InvalidArgument("importanceScore must be within [0,5]")
	}
	if in.Recency != nil && (*in.Recency < 0 || *in.Recency > 5) {
		return core.InvalidArgument("recencyScore must be within [0,5]")
	}
	if in.Retention != "" && !in.Retention.Valid() {
		return core.InvalidArgument("unknown retention class %q", in.Retention)
	}
	return nil
}

// Create runs the write pipeline.
func (s *Service) Create(
	ctx context.Context,
	tenancy memcore.Tenancy,
	input *CreateInput,
) (*CreateOutput, error) {
	log := logger.FromContext(ctx)
	if err := input.validate(); err != nil {
		return nil, err
	}

	if input.IdempotencyKey != "" {
		existing, err := s.store.FindByIdempotencyKey(ctx, tenancy, input.IdempotencyKey)
		if err == nil {
			return &CreateOutput{Memory: existing, Explanation: ReplayExplanation}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	embedded, err := s.embedder.Embed(ctx, input.Content, embeddings.InputDocument)
	if err != nil {
		return nil, core.Upstream(fmt.Errorf("embedding failed: %w", err))
	}
	vector := embedded.Vector
	norm := embeddings.Normalize(vector)

	tags := metadata.NormalizeTags(input.Tags)
	lang := metadata.ResolveLanguage(input.Lang, input.Content)
	source := metadata.ResolveSource(input.Source, DefaultApp)
	acl, err := metadata.ResolveACL(input.ACL)
	if err != nil {
		return nil, err
	}
	flags := privacy.SanitizeFlags(input.PIIFlags)
	if privacy.AnyRaised(flags) && acl.Visibility != memcore.VisibilityPrivate {
		return nil, core.InvalidArgument("memories with raised PII flags must stay private")
	}

	decision := s.policies.Evaluate(policy.Context{
		Type:   input.Type,
		Source: source,
		Tags:   tags,
		Pinned: input.Pinned,
	})
	decision = decision.Merge(input.Storage)

	effectiveTTL := decision.TTLSeconds
	if input.TTLSeconds != nil {
		effectiveTTL = input.TTLSeconds
	}
	resolution := retention.Resolve(input.Retention, input.Pinned, effectiveTTL)
	effectiveTTL = retention.NormalizeTTL(resolution.Class, effectiveTTL)

	now := s.now().UTC()
	var expiresAt *time.Time
	if effectiveTTL != nil {
		t := now.Add(time.Duration(*effectiveTTL) * time.Second)
		expiresAt = &t
	}

	m := &memcore.Memory{
		ID:             core.MustNewID(),
		Tenancy:        tenancy,
		Content:        input.Content,
		Embedding:      vector,
		EmbeddingNorm:  norm,
		EmbeddingModel: embedded.Model,
		CreatedAt:      now,
		UpdatedAt:      now,
		Pinned:         input.Pinned,
		Tags:           tags,
		Type:           input.Type,
		Lang:           lang,
		Importance:     metadata.ResolveImportance(input.Importance, decision.Importance, input.Pinned),
		Recency:        metadata.ResolveRecency(input.Recency),
		ACL:            acl,
		Source:         source,
		TTLSeconds:     effectiveTTL,
		ExpiresAt:      expiresAt,
		IdempotencyKey: input.IdempotencyKey,
		Provenance: []memcore.ProvenanceEvent{
			{Event: "created", At: now, Actor: tenancy.SubjectID},
		},
		Storage: memcore.StorageState{
			Store:           decision.Store,
			Policies:        decision.AppliedPolicies,
			GraphEnrich:     decision.GraphEnrich,
			DedupeThreshold: decision.DedupeThreshold,
		},
		Retention:     resolution.Class,
		RetentionAuto: resolution.Auto,
	}

	if len(flags) > 0 {
		cipher, err := s.requestCipher(input.EncryptionKey)
		if err != nil {
			return nil, core.InvalidArgument("invalid encryption key: %w", err)
		}
		if cipher != nil {
			envelope, err := cipher.Encrypt(flags)
			if err != nil {
				return nil, fmt.Errorf("pii encryption failed: %w", err)
			}
			m.PIIEnvelope = envelope
		} else {
			m.PIIFlags = flags
		}
	}

	log.Info("storage policy decision",
		"memory_id", m.ID,
		"store", decision.Store,
		"applied_policies", decision.AppliedPolicies,
		"retention", m.Retention,
		"graph_enrich", m.Storage.GraphEnrichEnabled(),
		"ttl_seconds", ptrOrNil(effectiveTTL))

	if err := s.store.Insert(ctx, m); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) && input.IdempotencyKey != "" {
			existing, ferr := s.store.FindByIdempotencyKey(ctx, tenancy, input.IdempotencyKey)
			if ferr == nil {
				return &CreateOutput{Memory: existing, Explanation: ReplayExplanation}, nil
			}
		}
		return nil, err
	}

	out := &CreateOutput{
		Memory:      m,
		Explanation: fmt.Sprintf("Stored in %s.", decision.Store),
	}
	s.enforceCapacity(ctx, tenancy, out)

	if m.Storage.GraphEnrichEnabled() {
		if err := s.store.EnqueueGraphJob(ctx, tenancy.OrgID, tenancy.ProjectID, m.ID); err != nil {
			log.Warn("graph job enqueue failed", "memory_id", m.ID, "error", err)
		}
	}
	return out, nil
}

// enforceCapacity deletes one eviction candidate when the tenancy exceeds
// its memory cap. Failures are logged, never fatal to the write.
func (s *Service) enforceCapacity(ctx context.Context, tenancy memcore.Tenancy, out *CreateOutput) {
	log := logger.FromContext(ctx)
	count, err := s.store.CountByTenancy(ctx, tenancy)
	if err != nil {
		log.Warn("retention enforcement skipped", "error", err)
		return
	}
	if count <= s.maxMemories {
		return
	}
	oldest, err := s.store.OldestUnpinned(ctx, tenancy, retention.EvictionScanLimit)
	if err != nil {
		log.Warn("eviction scan failed", "error", err)
		return
	}
	candidate := retention.SelectEvictionCandidate(oldest)
	if candidate == nil {
		out.Explanation += " no eviction candidate found."
		log.Warn("memory cap exceeded with no eviction candidate",
			"count", count, "max", s.maxMemories)
		return
	}
	if err := s.store.Delete(ctx, tenancy.OrgID, tenancy.ProjectID, candidate.ID); err != nil {
		log.Warn("eviction delete failed", "memory_id", candidate.ID, "error", err)
		return
	}
	out.ForgottenMemoryID = candidate.ID
	out.Explanation += fmt.Sprintf(" Evicted %s to stay within the memory cap.", candidate.ID)
	log.Info("memory evicted",
		"memory_id", candidate.ID,
		"retention", candidate.Retention,
		"created_at", candidate.CreatedAt)
}

func ptrOrNil(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
