package core

import (
	"time"

	"github.com/capsulehq/capsule/engine/core"
)

// GraphJobStatus is the lifecycle state of a background enrichment job.
type GraphJobStatus string

const (
	GraphJobPending GraphJobStatus = "pending"
	GraphJobRunning GraphJobStatus = "running"
	GraphJobSuccess GraphJobStatus = "success"
	GraphJobError   GraphJobStatus = "error"
)

// GraphMaxAttempts bounds retries for errored graph jobs.
const GraphMaxAttempts = 3

// GraphJob tracks pending entity extraction for one memory. MemoryID is
// unique across jobs; re-enqueueing resets an existing job to pending.
type GraphJob struct {
	ID        core.ID        `json:"id"`
	OrgID     string         `json:"orgId"`
	ProjectID string         `json:"projectId"`
	MemoryID  core.ID        `json:"memoryId"`
	Status    GraphJobStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// GraphEntity is one node of the co-occurrence index, scoped to
// (orgId, projectId) and shared across memories.
type GraphEntity struct {
	OrgID      string    `json:"orgId"`
	ProjectID  string    `json:"projectId"`
	Entity     string    `json:"entity"`
	MemoryIDs  []core.ID `json:"memoryIds"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}
