package store

import (
	"context"
	"time"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
)

// Store is the persistence contract for memories, capture candidates, and
// the graph index. Implementations must keep each mutation independent; the
// pipelines never rely on cross-document transactions.
type Store interface {
	MemoryStore
	CandidateStore
	GraphStore
	// Ping reports whether the backend is reachable; health probes use it.
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// MemoryStore covers the memories collection.
type MemoryStore interface {
	Insert(ctx context.Context, m *memcore.Memory) error
	Get(ctx context.Context, orgID, projectID string, id core.ID) (*memcore.Memory, error)
	GetMany(ctx context.Context, orgID, projectID string, ids []core.ID) ([]*memcore.Memory, error)
	FindByIdempotencyKey(ctx context.Context, tenancy memcore.Tenancy, key string) (*memcore.Memory, error)
	Update(ctx context.Context, m *memcore.Memory) error
	Delete(ctx context.Context, orgID, projectID string, id core.ID) error
	// List returns memories ordered by (pinned desc, importance desc,
	// recency desc, createdAt desc).
	List(ctx context.Context, filter Filter, limit int) ([]*memcore.Memory, error)
	// Recent returns the newest matching memories by createdAt. It feeds
	// the retrieval candidate window.
	Recent(ctx context.Context, filter Filter, limit int) ([]*memcore.Memory, error)
	CountByTenancy(ctx context.Context, tenancy memcore.Tenancy) (int, error)
	// OldestUnpinned returns up to limit unpinned memories of the tenancy,
	// ascending by createdAt, for eviction scans.
	OldestUnpinned(ctx context.Context, tenancy memcore.Tenancy, limit int) ([]*memcore.Memory, error)
}

// CandidateStore covers the capture queue.
type CandidateStore interface {
	InsertCandidate(ctx context.Context, c *memcore.CaptureCandidate) error
	GetCandidate(ctx context.Context, tenancy memcore.Tenancy, id core.ID) (*memcore.CaptureCandidate, error)
	UpdateCandidate(ctx context.Context, c *memcore.CaptureCandidate) error
	ListCandidates(
		ctx context.Context,
		tenancy memcore.Tenancy,
		status memcore.CaptureStatus,
		limit int,
	) ([]*memcore.CaptureCandidate, error)
}

// GraphStore covers graph jobs and the co-occurrence entity index.
type GraphStore interface {
	// EnqueueGraphJob upserts the job keyed by memoryID, resetting any
	// prior job to pending.
	EnqueueGraphJob(ctx context.Context, orgID, projectID string, memoryID core.ID) error
	// ClaimNextGraphJob transitions the oldest claimable job to running and
	// increments its attempts. Errored jobs at or beyond maxAttempts are
	// skipped. Returns nil when nothing is claimable.
	ClaimNextGraphJob(ctx context.Context, maxAttempts int) (*memcore.GraphJob, error)
	CompleteGraphJob(ctx context.Context, id core.ID, status memcore.GraphJobStatus, errMsg string) error
	UpsertGraphEntity(
		ctx context.Context,
		orgID, projectID, entity string,
		memoryID core.ID,
		seenAt time.Time,
	) error
	// EntitiesForMemories returns up to limit entities whose memory sets
	// intersect the given ids.
	EntitiesForMemories(
		ctx context.Context,
		orgID, projectID string,
		ids []core.ID,
		limit int,
	) ([]*memcore.GraphEntity, error)
}
