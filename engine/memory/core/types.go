package core

import (
	"time"

	"github.com/capsulehq/capsule/engine/core"
)

// EmbeddingDim is the fixed dimension of stored embedding vectors. Legacy
// rows with a different length are scored through a truncated dot-product.
const EmbeddingDim = 1024

// DefaultMaxMemories caps the number of memories per tenancy triple.
const DefaultMaxMemories = 100

// DefaultEphemeralTTL is applied when a memory resolves ephemeral without
// an explicit TTL.
const DefaultEphemeralTTL = 7 * 24 * time.Hour

// MaxTTL bounds caller-supplied TTLs to one year.
const MaxTTL = 365 * 24 * time.Hour

// Tenancy is the ownership scope of a memory.
type Tenancy struct {
	OrgID     string `json:"orgId"`
	ProjectID string `json:"projectId"`
	SubjectID string `json:"subjectId"`
}

// Visibility enumerates ACL visibility levels.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityPublic  Visibility = "public"
)

// StoreKind enumerates storage destinations.
type StoreKind string

const (
	StoreShortTerm    StoreKind = "short_term"
	StoreLongTerm     StoreKind = "long_term"
	StoreCapsuleGraph StoreKind = "capsule_graph"
)

// Retention classifies how replaceable a memory is; protected classes are
// exempt from TTLs and eviction.
type Retention string

const (
	RetentionIrreplaceable Retention = "irreplaceable"
	RetentionPermanent     Retention = "permanent"
	RetentionReplaceable   Retention = "replaceable"
	RetentionEphemeral     Retention = "ephemeral"
)

// Valid reports whether r is a known retention class.
func (r Retention) Valid() bool {
	switch r {
	case RetentionIrreplaceable, RetentionPermanent, RetentionReplaceable, RetentionEphemeral:
		return true
	}
	return false
}

// Protected reports whether the class forbids TTL and eviction.
func (r Retention) Protected() bool {
	return r == RetentionIrreplaceable || r == RetentionPermanent
}

// Priority orders retention classes for eviction (low evicts first).
func (r Retention) Priority() int {
	switch r {
	case RetentionEphemeral:
		return 0
	case RetentionReplaceable:
		return 1
	case RetentionPermanent:
		return 3
	case RetentionIrreplaceable:
		return 4
	default:
		return 1
	}
}

// ACL controls which subjects may read a memory.
type ACL struct {
	Visibility Visibility `json:"visibility"`
	Subjects   []string   `json:"subjects,omitempty"`
}

// Source records where a memory came from; at least one field is populated.
type Source struct {
	App       string `json:"app,omitempty"`
	Connector string `json:"connector,omitempty"`
	URL       string `json:"url,omitempty"`
	FileID    string `json:"fileId,omitempty"`
	SpanID    string `json:"spanId,omitempty"`
}

// Empty reports whether no source field is populated.
func (s Source) Empty() bool {
	return s.App == "" && s.Connector == "" && s.URL == "" && s.FileID == "" && s.SpanID == ""
}

// ProvenanceEvent is one entry in a memory's append-only history.
type ProvenanceEvent struct {
	Event       string    `json:"event"`
	At          time.Time `json:"at"`
	Actor       string    `json:"actor,omitempty"`
	Description string    `json:"description,omitempty"`
	ReferenceID string    `json:"referenceId,omitempty"`
}

// PIIEnvelope holds AES-256-GCM encrypted PII flags. A memory carries either
// the envelope or the plaintext flag map, never both.
type PIIEnvelope struct {
	Version int    `json:"version"`
	IV      string `json:"iv"`
	Tag     string `json:"tag"`
	Data    string `json:"data"`
}

// StorageState is the resolved storage decision for a memory.
type StorageState struct {
	Store           StoreKind `json:"store"`
	Policies        []string  `json:"policies"`
	GraphEnrich     *bool     `json:"graphEnrich,omitempty"`
	DedupeThreshold *float64  `json:"dedupeThreshold,omitempty"`
}

// GraphEnrichEnabled reports the effective graph-enrichment flag.
func (s StorageState) GraphEnrichEnabled() bool {
	return s.GraphEnrich != nil && *s.GraphEnrich
}

// Memory is the persisted unit of long-term agent memory.
type Memory struct {
	ID             core.ID           `json:"id"`
	Tenancy        Tenancy           `json:"tenancy"`
	Content        string            `json:"content"`
	Embedding      []float32         `json:"embedding,omitempty"`
	EmbeddingNorm  float64           `json:"embeddingNorm"`
	EmbeddingModel string            `json:"embeddingModel,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	Pinned         bool              `json:"pinned"`
	Tags           []string          `json:"tags,omitempty"`
	Type           string            `json:"type,omitempty"`
	Lang           string            `json:"lang,omitempty"`
	Importance     float64           `json:"importanceScore"`
	Recency        float64           `json:"recencyScore"`
	ACL            ACL               `json:"acl"`
	Source         Source            `json:"source"`
	TTLSeconds     *int64            `json:"ttlSeconds,omitempty"`
	ExpiresAt      *time.Time        `json:"expiresAt,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Provenance     []ProvenanceEvent `json:"provenance"`
	PIIFlags       map[string]bool   `json:"piiFlags,omitempty"`
	PIIEnvelope    *PIIEnvelope      `json:"piiEnvelope,omitempty"`
	Storage        StorageState      `json:"storage"`
	Retention      Retention         `json:"retention"`
	RetentionAuto  bool              `json:"retentionAuto"`
}

// HasSensitivePII reports whether any plaintext PII flag is raised. Encrypted
// envelopes are considered sensitive until decrypted and proven otherwise.
func (m *Memory) HasSensitivePII() bool {
	if m.PIIEnvelope != nil {
		return true
	}
	for _, raised := range m.PIIFlags {
		if raised {
			return true
		}
	}
	return false
}

// AccessibleBy implements the access gate: owner, public, or shared with the
// caller (an empty share list means every subject of the project).
func (m *Memory) AccessibleBy(subjectID string) bool {
	if m.Tenancy.SubjectID == subjectID {
		return true
	}
	switch m.ACL.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityShared:
		if len(m.ACL.Subjects) == 0 {
			return true
		}
		for _, s := range m.ACL.Subjects {
			if s == subjectID {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy so cache readers cannot mutate stored rows.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Embedding = append([]float32(nil), m.Embedding...)
	cp.Tags = append([]string(nil), m.Tags...)
	cp.Provenance = append([]ProvenanceEvent(nil), m.Provenance...)
	cp.ACL.Subjects = append([]string(nil), m.ACL.Subjects...)
	cp.Storage.Policies = append([]string(nil), m.Storage.Policies...)
	if m.Storage.GraphEnrich != nil {
		v := *m.Storage.GraphEnrich
		cp.Storage.GraphEnrich = &v
	}
	if m.Storage.DedupeThreshold != nil {
		v := *m.Storage.DedupeThreshold
		cp.Storage.DedupeThreshold = &v
	}
	if m.TTLSeconds != nil {
		v := *m.TTLSeconds
		cp.TTLSeconds = &v
	}
	if m.ExpiresAt != nil {
		v := *m.ExpiresAt
		cp.ExpiresAt = &v
	}
	if m.PIIFlags != nil {
		cp.PIIFlags = make(map[string]bool, len(m.PIIFlags))
		for k, v := range m.PIIFlags {
			cp.PIIFlags[k] = v
		}
	}
	if m.PIIEnvelope != nil {
		env := *m.PIIEnvelope
		cp.PIIEnvelope = &env
	}
	return &cp
}
