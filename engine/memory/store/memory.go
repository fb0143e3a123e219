package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
)

// MemoryStoreBackend is the embedded default driver: maps guarded by a
// mutex, TTL expiry applied lazily at read time. It is the only fully
// functional backend; the SQL driver is experimental.
type MemoryStoreBackend struct {
	mu         sync.RWMutex
	memories   map[core.ID]*memcore.Memory
	candidates map[core.ID]*memcore.CaptureCandidate
	jobs       map[core.ID]*memcore.GraphJob
	jobByMem   map[core.ID]core.ID
	entities   map[entityKey]*memcore.GraphEntity
	now        func() time.Time
}

type entityKey struct {
	orgID     string
	projectID string
	entity    string
}

// NewMemoryStore builds an empty embedded store.
func NewMemoryStore() *MemoryStoreBackend {
	return &MemoryStoreBackend{
		memories:   make(map[core.ID]*memcore.Memory),
		candidates: make(map[core.ID]*memcore.CaptureCandidate),
		jobs:       make(map[core.ID]*memcore.GraphJob),
		jobByMem:   make(map[core.ID]core.ID),
		entities:   make(map[entityKey]*memcore.GraphEntity),
		now:        time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *MemoryStoreBackend) WithClock(now func() time.Time) *MemoryStoreBackend {
	s.now = now
	return s
}

func (s *MemoryStoreBackend) expired(m *memcore.Memory) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(s.now())
}

func (s *MemoryStoreBackend) Insert(_ context.Context, m *memcore.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.IdempotencyKey != "" {
		for _, existing := range s.memories {
			if existing.Tenancy == m.Tenancy && existing.IdempotencyKey == m.IdempotencyKey {
				return ErrDuplicateIdempotencyKey
			}
		}
	}
	s.memories[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStoreBackend) Get(_ context.Context, orgID, projectID string, id core.ID) (*memcore.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	if !ok || m.Tenancy.OrgID != orgID || m.Tenancy.ProjectID != projectID || s.expired(m) {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStoreBackend) GetMany(
	_ context.Context,
	orgID, projectID string,
	ids []core.ID,
) ([]*memcore.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*memcore.Memory, 0, len(ids))
	for _, id := range ids {
		m, ok := s.memories[id]
		if !ok || m.Tenancy.OrgID != orgID || m.Tenancy.ProjectID != projectID || s.expired(m) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *MemoryStoreBackend) FindByIdempotencyKey(
	_ context.Context,
	tenancy memcore.Tenancy,
	key string,
) (*memcore.Memory, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.memories {
		if m.Tenancy == tenancy && m.IdempotencyKey == key && !s.expired(m) {
			return m.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStoreBackend) Update(_ context.Context, m *memcore.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.memories[m.ID]
	if !ok || existing.Tenancy.OrgID != m.Tenancy.OrgID || existing.Tenancy.ProjectID != m.Tenancy.ProjectID {
		return ErrNotFound
	}
	s.memories[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStoreBackend) Delete(_ context.Context, orgID, projectID string, id core.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok || m.Tenancy.OrgID != orgID || m.Tenancy.ProjectID != projectID {
		return ErrNotFound
	}
	delete(s.memories, id)
	return nil
}

func (s *MemoryStoreBackend) List(_ context.Context, filter Filter, limit int) ([]*memcore.Memory, error) {
	matched := s.collect(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if a.Recency != b.Recency {
			return a.Recency > b.Recency
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return truncate(matched, limit), nil
}

func (s *MemoryStoreBackend) Recent(_ context.Context, filter Filter, limit int) ([]*memcore.Memory, error) {
	matched := s.collect(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return truncate(matched, limit), nil
}

func (s *MemoryStoreBackend) collect(filter Filter) []*memcore.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*memcore.Memory
	for _, m := range s.memories {
		if s.expired(m) || !filter.Matches(m) {
			continue
		}
		matched = append(matched, m.Clone())
	}
	return matched
}

func (s *MemoryStoreBackend) CountByTenancy(_ context.Context, tenancy memcore.Tenancy) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.memories {
		if m.Tenancy == tenancy && !s.expired(m) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStoreBackend) OldestUnpinned(
	_ context.Context,
	tenancy memcore.Tenancy,
	limit int,
) ([]*memcore.Memory, error) {
	s.mu.RLock()
	var matched []*memcore.Memory
	for _, m := range s.memories {
		if m.Tenancy == tenancy && !m.Pinned && !s.expired(m) {
			matched = append(matched, m.Clone())
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return truncate(matched, limit), nil
}

func (s *MemoryStoreBackend) InsertCandidate(_ context.Context, c *memcore.CaptureCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[c.ID] = cloneCandidate(c)
	return nil
}

func (s *MemoryStoreBackend) GetCandidate(
	_ context.Context,
	tenancy memcore.Tenancy,
	id core.ID,
) (*memcore.CaptureCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[id]
	if !ok || c.Tenancy != tenancy {
		return nil, ErrNotFound
	}
	return cloneCandidate(c), nil
}

func (s *MemoryStoreBackend) UpdateCandidate(_ context.Context, c *memcore.CaptureCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.candidates[c.ID]
	if !ok || existing.Tenancy != c.Tenancy {
		return ErrNotFound
	}
	s.candidates[c.ID] = cloneCandidate(c)
	return nil
}

func (s *MemoryStoreBackend) ListCandidates(
	_ context.Context,
	tenancy memcore.Tenancy,
	status memcore.CaptureStatus,
	limit int,
) ([]*memcore.CaptureCandidate, error) {
	s.mu.RLock()
	var matched []*memcore.CaptureCandidate
	for _, c := range s.candidates {
		if c.Tenancy != tenancy {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		matched = append(matched, cloneCandidate(c))
	}
	s.mu.RUnlock()
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return truncate(matched, limit), nil
}

func (s *MemoryStoreBackend) EnqueueGraphJob(_ context.Context, orgID, projectID string, memoryID core.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if jobID, ok := s.jobByMem[memoryID]; ok {
		job := s.jobs[jobID]
		job.Status = memcore.GraphJobPending
		job.Attempts = 0
		job.Error = ""
		job.UpdatedAt = now
		return nil
	}
	job := &memcore.GraphJob{
		ID:        core.MustNewID(),
		OrgID:     orgID,
		ProjectID: projectID,
		MemoryID:  memoryID,
		Status:    memcore.GraphJobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job
	s.jobByMem[memoryID] = job.ID
	return nil
}

func (s *MemoryStoreBackend) ClaimNextGraphJob(_ context.Context, maxAttempts int) (*memcore.GraphJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *memcore.GraphJob
	for _, job := range s.jobs {
		switch job.Status {
		case memcore.GraphJobPending:
		case memcore.GraphJobError:
			if job.Attempts >= maxAttempts {
				continue
			}
		default:
			continue
		}
		if oldest == nil || job.UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = memcore.GraphJobRunning
	oldest.Attempts++
	oldest.UpdatedAt = s.now()
	claimed := *oldest
	return &claimed, nil
}

func (s *MemoryStoreBackend) CompleteGraphJob(
	_ context.Context,
	id core.ID,
	status memcore.GraphJobStatus,
	errMsg string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Status = status
	job.Error = errMsg
	job.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStoreBackend) UpsertGraphEntity(
	_ context.Context,
	orgID, projectID, entity string,
	memoryID core.ID,
	seenAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityKey{orgID: orgID, projectID: projectID, entity: entity}
	existing, ok := s.entities[key]
	if !ok {
		s.entities[key] = &memcore.GraphEntity{
			OrgID:      orgID,
			ProjectID:  projectID,
			Entity:     entity,
			MemoryIDs:  []core.ID{memoryID},
			LastSeenAt: seenAt,
		}
		return nil
	}
	found := false
	for _, id := range existing.MemoryIDs {
		if id == memoryID {
			found = true
			break
		}
	}
	if !found {
		existing.MemoryIDs = append(existing.MemoryIDs, memoryID)
	}
	if seenAt.After(existing.LastSeenAt) {
		existing.LastSeenAt = seenAt
	}
	return nil
}

func (s *MemoryStoreBackend) EntitiesForMemories(
	_ context.Context,
	orgID, projectID string,
	ids []core.ID,
	limit int,
) ([]*memcore.GraphEntity, error) {
	wanted := make(map[core.ID]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	s.mu.RLock()
	var matched []*memcore.GraphEntity
	for _, entity := range s.entities {
		if entity.OrgID != orgID || entity.ProjectID != projectID {
			continue
		}
		for _, id := range entity.MemoryIDs {
			if _, ok := wanted[id]; ok {
				cp := *entity
				cp.MemoryIDs = append([]core.ID(nil), entity.MemoryIDs...)
				matched = append(matched, &cp)
				break
			}
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].LastSeenAt.After(matched[j].LastSeenAt)
	})
	return truncate(matched, limit), nil
}

func (s *MemoryStoreBackend) Ping(context.Context) error {
	return nil
}

func (s *MemoryStoreBackend) Close(context.Context) error {
	return nil
}

func cloneCandidate(c *memcore.CaptureCandidate) *memcore.CaptureCandidate {
	cp := *c
	cp.Reasons = append([]string(nil), c.Reasons...)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func truncate[T any](list []*T, limit int) []*T {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
