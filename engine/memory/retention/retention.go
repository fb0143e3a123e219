package retention

import (
	"time"

	memcore "github.com/capsulehq/capsule/engine/memory/core"
)

// ephemeralCutoff is the TTL at or below which a memory auto-classifies
// as ephemeral.
const ephemeralCutoff = 3 * 24 * time.Hour

// EvictionScanLimit bounds how many of the oldest unpinned memories are
// considered when selecting an eviction candidate.
const EvictionScanLimit = 200

// Resolution is the outcome of classifying a memory's retention.
type Resolution struct {
	Class memcore.Retention
	// Auto marks classes derived from pinning or TTL rather than an
	// explicit caller choice.
	Auto bool
}

// Resolve classifies retention from the provided class, pinned flag, and
// effective TTL.
func Resolve(provided memcore.Retention, pinned bool, ttl *int64) Resolution {
	if provided.Valid() {
		return Resolution{Class: provided, Auto: false}
	}
	if pinned {
		return Resolution{Class: memcore.RetentionIrreplaceable, Auto: true}
	}
	if ttl != nil && *ttl > 0 && time.Duration(*ttl)*time.Second <= ephemeralCutoff {
		return Resolution{Class: memcore.RetentionEphemeral, Auto: true}
	}
	return Resolution{Class: memcore.RetentionReplaceable, Auto: true}
}

// NormalizeTTL reconciles a TTL with a resolved retention class. Protected
// classes carry no TTL. Ephemeral memories always carry one, defaulted and
// capped at seven days. Other classes keep the TTL as-is.
func NormalizeTTL(class memcore.Retention, ttl *int64) *int64 {
	if class.Protected() {
		return nil
	}
	if class != memcore.RetentionEphemeral {
		return ttl
	}
	limit := int64(memcore.DefaultEphemeralTTL / time.Second)
	if ttl == nil || *ttl > limit {
		return &limit
	}
	return ttl
}

// SelectEvictionCandidate picks the memory to forget from the oldest
// unpinned rows of a tenancy: lowest retention priority first, oldest
// createdAt breaking ties. Protected memories are never picked. Returns nil
// when every scanned memory is protected.
func SelectEvictionCandidate(oldest []*memcore.Memory) *memcore.Memory {
	var chosen *memcore.Memory
	for _, m := range oldest {
		if m.Pinned || m.Retention.Protected() {
			continue
		}
		if chosen == nil {
			chosen = m
			continue
		}
		if m.Retention.Priority() < chosen.Retention.Priority() {
			chosen = m
			continue
		}
		if m.Retention.Priority() == chosen.Retention.Priority() && m.CreatedAt.Before(chosen.CreatedAt) {
			chosen = m
		}
	}
	return chosen
}
