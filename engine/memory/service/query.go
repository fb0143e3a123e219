package service

import (
	"context"
	"errors"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/engine/memory/store"
	"github.com/capsulehq/capsule/pkg/logger"
)

const (
	// MaxListLimit bounds list pagination.
	MaxListLimit = 200
	// DefaultListLimit applies when the caller passes none.
	DefaultListLimit = 50
)

// ListInput filters the tenancy's memories.
type ListInput struct {
	SubjectID   string             `json:"subjectId,omitempty" form:"subjectId"`
	Pinned      *bool              `json:"pinned,omitempty" form:"pinned"`
	Tag         string             `json:"tag,omitempty" form:"tag"`
	Type        string             `json:"type,omitempty" form:"type"`
	Visibility  memcore.Visibility `json:"visibility,omitempty" form:"visibility"`
	Store       memcore.StoreKind  `json:"store,omitempty" form:"store"`
	GraphEnrich *bool              `json:"graphEnrich,omitempty" form:"graphEnrich"`
	Retention   memcore.Retention  `json:"retention,omitempty" form:"retention"`
	Limit       int                `json:"limit,omitempty" form:"limit"`
}

// ListOutput carries the accessible page plus a provisioning hint when the
// store was unreachable.
type ListOutput struct {
	Memories []*memcore.Memory `json:"memories"`
	Hint     string            `json:"hint,omitempty"`
}

// List returns memories of the caller's project filtered and ordered by
// (pinned, importance, recency, createdAt), gated by the access rules.
func (s *Service) List(
	ctx context.Context,
	tenancy memcore.Tenancy,
	input *ListInput,
) (*ListOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		return nil, core.InvalidArgument("limit must be at most %d", MaxListLimit)
	}
	filter := store.Filter{
		OrgID:       tenancy.OrgID,
		ProjectID:   tenancy.ProjectID,
		SubjectID:   input.SubjectID,
		Pinned:      input.Pinned,
		Tag:         input.Tag,
		Type:        input.Type,
		Visibility:  input.Visibility,
		Store:       input.Store,
		GraphEnrich: input.GraphEnrich,
		Retention:   input.Retention,
	}
	memories, err := s.store.List(ctx, filter, limit)
	if err != nil {
		if errors.Is(err, store.ErrNotProvisioned) {
			return &ListOutput{Memories: []*memcore.Memory{}, Hint: store.ProvisioningHint}, nil
		}
		return nil, err
	}
	accessible := make([]*memcore.Memory, 0, len(memories))
	for _, m := range memories {
		if m.AccessibleBy(tenancy.SubjectID) {
			accessible = append(accessible, m)
		}
	}
	return &ListOutput{Memories: accessible}, nil
}

// Get fetches one memory through the access gate. Inaccessible rows are
// indistinguishable from missing ones.
func (s *Service) Get(ctx context.Context, tenancy memcore.Tenancy, id core.ID) (*memcore.Memory, error) {
	m, err := s.store.Get(ctx, tenancy.OrgID, tenancy.ProjectID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNotProvisioned) {
			return nil, core.NotFound("memory %s not found", id)
		}
		return nil, err
	}
	if !m.AccessibleBy(tenancy.SubjectID) {
		return nil, core.NotFound("memory %s not found", id)
	}
	return m, nil
}

// Delete removes a memory and logs the deletion with the caller's reason.
func (s *Service) Delete(ctx context.Context, tenancy memcore.Tenancy, id core.ID, reason string) error {
	m, err := s.Get(ctx, tenancy, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, tenancy.OrgID, tenancy.ProjectID, m.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.NotFound("memory %s not found", id)
		}
		return err
	}
	logger.FromContext(ctx).Info("memory deleted",
		"memory_id", m.ID,
		"actor", tenancy.SubjectID,
		"reason", reason)
	return nil
}
