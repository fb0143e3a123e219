package capture

import (
	"context"
	"errors"
	"time"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/engine/memory/service"
	"github.com/capsulehq/capsule/engine/memory/store"
	"github.com/capsulehq/capsule/pkg/logger"
)

// Queue scores conversation events and manages the candidate lifecycle.
// Approved candidates become memories through the write pipeline.
type Queue struct {
	store     store.CandidateStore
	memories  *service.Service
	threshold float64
	now       func() time.Time
}

// Decision is the outcome of ingesting one event.
type Decision struct {
	Candidate *memcore.CaptureCandidate `json:"candidate"`
	Memory    *memcore.Memory           `json:"memory,omitempty"`
}

func NewQueue(candidates store.CandidateStore, memories *service.Service, threshold float64) *Queue {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Queue{
		store:     candidates,
		memories:  memories,
		threshold: threshold,
		now:       time.Now,
	}
}

// WithClock fixes the queue clock for tests.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Ingest scores the event and inserts a candidate: approved (auto-accept),
// pending, or ignored.
func (q *Queue) Ingest(ctx context.Context, tenancy memcore.Tenancy, event *Event) (*Decision, error) {
	log := logger.FromContext(ctx)
	if event.Content == "" {
		return nil, core.InvalidArgument("event content must not be empty")
	}
	if event.Role != "" &&
		event.Role != memcore.RoleUser &&
		event.Role != memcore.RoleAssistant &&
		event.Role != memcore.RoleSystem {
		return nil, core.InvalidArgument("unknown role %q", event.Role)
	}
	eval := Score(event, q.threshold)
	log.Info("capture evaluation",
		"role", event.Role,
		"score", eval.Score,
		"threshold", eval.Threshold,
		"recommended", eval.Recommended,
		"category", eval.Category)

	now := q.now().UTC()
	candidate := &memcore.CaptureCandidate{
		ID:            core.MustNewID(),
		Tenancy:       tenancy,
		SourceEventID: event.SourceEventID,
		Role:          event.Role,
		Content:       event.Content,
		Metadata:      event.Metadata,
		Score:         eval.Score,
		Threshold:     eval.Threshold,
		Recommended:   eval.Recommended,
		Category:      eval.Category,
		Reasons:       eval.Reasons,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	decision := &Decision{Candidate: candidate}
	switch {
	case eval.Recommended && event.AutoAccept:
		created, err := q.createMemory(ctx, tenancy, candidate)
		if err != nil {
			return nil, err
		}
		candidate.Status = memcore.CaptureApproved
		candidate.AutoAccepted = true
		candidate.AutoDecisionReason = "score above threshold with auto-accept"
		candidate.MemoryID = created.ID
		decision.Memory = created
	case eval.Recommended:
		candidate.Status = memcore.CapturePending
	default:
		candidate.Status = memcore.CaptureIgnored
	}

	if err := q.store.InsertCandidate(ctx, candidate); err != nil {
		return nil, err
	}
	log.Info("capture decision",
		"candidate_id", candidate.ID,
		"status", candidate.Status,
		"auto_accepted", candidate.AutoAccepted)
	return decision, nil
}

// Approve turns a pending candidate into a memory.
func (q *Queue) Approve(ctx context.Context, tenancy memcore.Tenancy, id core.ID) (*Decision, error) {
	candidate, err := q.getCandidate(ctx, tenancy, id)
	if err != nil {
		return nil, err
	}
	if candidate.Status != memcore.CapturePending {
		return nil, core.InvalidState(
			"candidate %s is %s; only pending candidates can be approved", id, candidate.Status)
	}
	created, err := q.createMemory(ctx, tenancy, candidate)
	if err != nil {
		return nil, err
	}
	candidate.Status = memcore.CaptureApproved
	candidate.MemoryID = created.ID
	candidate.UpdatedAt = q.now().UTC()
	if err := q.store.UpdateCandidate(ctx, candidate); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("capture decision",
		"candidate_id", candidate.ID,
		"status", candidate.Status,
		"memory_id", created.ID)
	return &Decision{Candidate: candidate, Memory: created}, nil
}

// Reject marks a pending candidate rejected with an optional reason.
func (q *Queue) Reject(
	ctx context.Context,
	tenancy memcore.Tenancy,
	id core.ID,
	reason string,
) (*memcore.CaptureCandidate, error) {
	candidate, err := q.getCandidate(ctx, tenancy, id)
	if err != nil {
		return nil, err
	}
	if candidate.Status != memcore.CapturePending {
		return nil, core.InvalidState(
			"candidate %s is %s; only pending candidates can be rejected", id, candidate.Status)
	}
	candidate.Status = memcore.CaptureRejected
	candidate.AutoDecisionReason = reason
	candidate.UpdatedAt = q.now().UTC()
	if err := q.store.UpdateCandidate(ctx, candidate); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("capture decision",
		"candidate_id", candidate.ID,
		"status", candidate.Status,
		"reason", reason)
	return candidate, nil
}

// List pages candidates, optionally filtered by status.
func (q *Queue) List(
	ctx context.Context,
	tenancy memcore.Tenancy,
	status memcore.CaptureStatus,
	limit int,
) ([]*memcore.CaptureCandidate, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.store.ListCandidates(ctx, tenancy, status, limit)
}

func (q *Queue) getCandidate(
	ctx context.Context,
	tenancy memcore.Tenancy,
	id core.ID,
) (*memcore.CaptureCandidate, error) {
	candidate, err := q.store.GetCandidate(ctx, tenancy, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound("candidate %s not found", id)
		}
		return nil, err
	}
	return candidate, nil
}

func (q *Queue) createMemory(
	ctx context.Context,
	tenancy memcore.Tenancy,
	candidate *memcore.CaptureCandidate,
) (*memcore.Memory, error) {
	out, err := q.memories.Create(ctx, tenancy, &service.CreateInput{
		Content: candidate.Content,
		Type:    string(candidate.Category),
		Source:  &memcore.Source{App: "capture"},
	})
	if err != nil {
		return nil, err
	}
	return out.Memory, nil
}
