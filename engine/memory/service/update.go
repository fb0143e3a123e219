package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
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

// NoChangesExplanation marks updates that mutated nothing.
const NoChangesExplanation = "No changes applied."

// UpdateInput is the partial-update schema: nil fields are untouched, an
// empty Tags slice clears tags, a non-positive TTL clears the TTL.
type UpdateInput struct {
	Content       *string           `json:"content,omitempty"`
	Pinned        *bool             `json:"pinned,omitempty"`
	Tags          *[]string         `json:"tags,omitempty"`
	TTLSeconds    *int64            `json:"ttlSeconds,omitempty"`
	Type          *string           `json:"type,omitempty"`
	Lang          *string           `json:"lang,omitempty"`
	Importance    *float64          `json:"importanceScore,omitempty"`
	Recency       *float64          `json:"recencyScore,omitempty"`
	ACL           *memcore.ACL      `json:"acl,omitempty"`
	PIIFlags      map[string]bool   `json:"piiFlags,omitempty"`
	Storage       *policy.Override  `json:"storage,omitempty"`
	Retention     memcore.Retention `json:"retention,omitempty"`
	EncryptionKey string            `json:"-"`
}

// UpdateOutput echoes the mutated memory with an explanation.
type UpdateOutput struct {
	Memory      *memcore.Memory `json:"memory"`
	Explanation string          `json:"explanation"`
}

func (in *UpdateInput) empty() bool {
	return in.Content == nil && in.Pinned == nil && in.Tags == nil &&
		in.TTLSeconds == nil && in.Type == nil && in.Lang == nil &&
		in.Importance == nil && in.Recency == nil && in.ACL == nil &&
		in.PIIFlags == nil && in.Storage == nil && in.Retention == ""
}

// sensitivePII reports whether the memory's PII is sensitive, decrypting
// the envelope with the given cipher when possible. An undecryptable
// envelope counts as sensitive.
func sensitivePII(m *memcore.Memory, cipher *privacy.Cipher) bool {
	if m.PIIEnvelope == nil {
		return privacy.AnyRaised(m.PIIFlags)
	}
	if cipher == nil {
		return true
	}
	flags, err := cipher.Decrypt(m.PIIEnvelope)
	if err != nil {
		return true
	}
	return privacy.AnyRaised(flags)
}

// Update applies a partial update within the caller's tenancy.
func (s *Service) Update(
	ctx context.Context,
	tenancy memcore.Tenancy,
	id core.ID,
	input *UpdateInput,
) (*UpdateOutput, error) {
	log := logger.FromContext(ctx)
	m, err := s.store.Get(ctx, tenancy.OrgID, tenancy.ProjectID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound("memory %s not found", id)
		}
		return nil, err
	}
	if !m.AccessibleBy(tenancy.SubjectID) {
		return nil, core.NotFound("memory %s not found", id)
	}
	if input.empty() {
		return &UpdateOutput{Memory: m, Explanation: NoChangesExplanation}, nil
	}
	if input.Retention != "" && !input.Retention.Valid() {
		return nil, core.InvalidArgument("unknown retention class %q", input.Retention)
	}
	cipher, err := s.requestCipher(input.EncryptionKey)
	if err != nil {
		return nil, core.InvalidArgument("invalid encryption key: %w", err)
	}

	var changed []string

	if input.ACL != nil {
		acl, err := metadata.ResolveACL(input.ACL)
		if err != nil {
			return nil, err
		}
		if acl.Visibility != memcore.VisibilityPrivate && input.PIIFlags == nil && sensitivePII(m, cipher) {
			return nil, core.InvalidArgument("cannot widen visibility while PII is sensitive")
		}
		m.ACL = acl
		changed = append(changed, "acl")
	}
	if input.PIIFlags != nil {
		flags := privacy.SanitizeFlags(input.PIIFlags)
		if privacy.AnyRaised(flags) && m.ACL.Visibility != memcore.VisibilityPrivate {
			return nil, core.InvalidArgument("memories with raised PII flags must stay private")
		}
		m.PIIFlags = nil
		m.PIIEnvelope = nil
		if len(flags) > 0 {
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
		changed = append(changed, "piiFlags")
	}
	if input.Content != nil && *input.Content != m.Content {
		if *input.Content == "" {
			return nil, core.InvalidArgument("content must not be empty")
		}
		embedded, err := s.embedder.Embed(ctx, *input.Content, embeddings.InputDocument)
		if err != nil {
			return nil, core.Upstream(fmt.Errorf("embedding failed: %w", err))
		}
		m.Content = *input.Content
		m.Embedding = embedded.Vector
		m.EmbeddingNorm = embeddings.Normalize(m.Embedding)
		m.EmbeddingModel = embedded.Model
		m.Lang = metadata.ResolveLanguage(valueOr(input.Lang, ""), m.Content)
		changed = append(changed, "content")
	} else if input.Lang != nil {
		m.Lang = metadata.ResolveLanguage(*input.Lang, m.Content)
		changed = append(changed, "lang")
	}
	if input.Pinned != nil && *input.Pinned != m.Pinned {
		m.Pinned = *input.Pinned
		if m.Pinned && m.Importance < 1.5 && input.Importance == nil {
			m.Importance = 1.5
		}
		changed = append(changed, "pinned")
	}
	if input.Tags != nil {
		m.Tags = metadata.NormalizeTags(*input.Tags)
		changed = append(changed, "tags")
	}
	if input.Type != nil {
		m.Type = *input.Type
		changed = append(changed, "type")
	}
	if input.Importance != nil {
		if *input.Importance < 0 || *input.Importance > 5 {
			return nil, core.InvalidArgument("importanceScore must be within [0,5]")
		}
		m.Importance = *input.Importance
		changed = append(changed, "importanceScore")
	}
	if input.Recency != nil {
		if *input.Recency < 0 || *input.Recency > 5 {
			return nil, core.InvalidArgument("recencyScore must be within [0,5]")
		}
		m.Recency = *input.Recency
		changed = append(changed, "recencyScore")
	}

	wasEnriched := m.Storage.GraphEnrichEnabled()
	if input.Storage != nil {
		if input.Storage.Store != "" {
			m.Storage.Store = input.Storage.Store
		}
		if input.Storage.GraphEnrich != nil {
			m.Storage.GraphEnrich = input.Storage.GraphEnrich
		}
		if input.Storage.DedupeThreshold != nil {
			m.Storage.DedupeThreshold = input.Storage.DedupeThreshold
		}
		if input.Storage.TTLSeconds != nil && input.TTLSeconds == nil {
			input.TTLSeconds = input.Storage.TTLSeconds
		}
		if !slices.Contains(m.Storage.Policies, policy.ManualOverridePolicy) {
			m.Storage.Policies = append(m.Storage.Policies, policy.ManualOverridePolicy)
		}
		changed = append(changed, "storage")
	}

	if input.TTLSeconds != nil {
		if *input.TTLSeconds <= 0 {
			m.TTLSeconds = nil
		} else {
			if time.Duration(*input.TTLSeconds)*time.Second > memcore.MaxTTL {
				return nil, core.InvalidArgument(
					"ttlSeconds must be at most %d", int64(memcore.MaxTTL/time.Second))
			}
			ttl := *input.TTLSeconds
			m.TTLSeconds = &ttl
		}
		changed = append(changed, "ttlSeconds")
	}
	if input.Retention != "" {
		changed = append(changed, "retention")
	}

	if len(changed) == 0 {
		return &UpdateOutput{Memory: m, Explanation: NoChangesExplanation}, nil
	}

	// Retention stays consistent with the mutated pinned/TTL state even
	// when the caller touched neither.
	provided := input.Retention
	if provided == "" && !m.RetentionAuto {
		provided = m.Retention
	}
	resolution := retention.Resolve(provided, m.Pinned, m.TTLSeconds)
	m.Retention = resolution.Class
	m.RetentionAuto = resolution.Auto
	m.TTLSeconds = retention.NormalizeTTL(m.Retention, m.TTLSeconds)
	if m.TTLSeconds != nil {
		t := m.CreatedAt.Add(time.Duration(*m.TTLSeconds) * time.Second)
		m.ExpiresAt = &t
	} else {
		m.ExpiresAt = nil
	}

	now := s.now().UTC()
	m.UpdatedAt = now
	m.Provenance = append(m.Provenance, memcore.ProvenanceEvent{
		Event:       "updated",
		At:          now,
		Actor:       tenancy.SubjectID,
		Description: fmt.Sprintf("changed: %v", changed),
	})

	if err := s.store.Update(ctx, m); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound("memory %s not found", id)
		}
		return nil, err
	}
	if !wasEnriched && m.Storage.GraphEnrichEnabled() {
		if err := s.store.EnqueueGraphJob(ctx, tenancy.OrgID, tenancy.ProjectID, m.ID); err != nil {
			log.Warn("graph job enqueue failed", "memory_id", m.ID, "error", err)
		}
	}
	log.Info("memory updated", "memory_id", m.ID, "fields", changed)
	return &UpdateOutput{
		Memory:      m,
		Explanation: fmt.Sprintf("Updated %v.", changed),
	}, nil
}

func valueOr[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}
