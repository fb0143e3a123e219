package graph

import (
	"context"
	"errors"
	"sync"
	"time"

	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/engine/memory/store"
	"github.com/capsulehq/capsule/pkg/logger"
)

// DefaultInterval is the worker poll period.
const DefaultInterval = 5 * time.Second

// Worker is the single background task that drains graph jobs: claim the
// oldest claimable job, extract entities from its memory, and upsert the
// co-occurrence index. At most one job is in flight at a time.
type Worker struct {
	store    store.Store
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

func NewWorker(s store.Store, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{store: s, interval: interval, now: time.Now}
}

// Start launches the poll loop. Repeated calls are no-ops; the single-start
// guard prevents duplicate timers.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.run(ctx)
	logger.FromContext(ctx).Info("graph worker started", "interval", w.interval)
}

// Stop halts the loop and waits for any in-flight job to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()
	<-done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.ProcessOne(ctx)
		}
	}
}

// ProcessOne claims and runs a single job. It returns true when a job was
// claimed, false when the queue was empty.
func (w *Worker) ProcessOne(ctx context.Context) bool {
	log := logger.FromContext(ctx)
	job, err := w.store.ClaimNextGraphJob(ctx, memcore.GraphMaxAttempts)
	if err != nil {
		log.Warn("graph job claim failed", "error", err)
		return false
	}
	if job == nil {
		return false
	}
	if err := w.enrich(ctx, job); err != nil {
		log.Warn("graph job failed",
			"job_id", job.ID,
			"memory_id", job.MemoryID,
			"attempts", job.Attempts,
			"error", err)
		if cerr := w.store.CompleteGraphJob(ctx, job.ID, memcore.GraphJobError, err.Error()); cerr != nil {
			log.Error("graph job completion failed", "job_id", job.ID, "error", cerr)
		}
		return true
	}
	if err := w.store.CompleteGraphJob(ctx, job.ID, memcore.GraphJobSuccess, ""); err != nil {
		log.Error("graph job completion failed", "job_id", job.ID, "error", err)
	}
	return true
}

func (w *Worker) enrich(ctx context.Context, job *memcore.GraphJob) error {
	m, err := w.store.Get(ctx, job.OrgID, job.ProjectID, job.MemoryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errors.New("memory no longer exists")
		}
		return err
	}
	entities := ExtractEntities(m)
	seenAt := w.now().UTC()
	for _, entity := range entities {
		if err := w.store.UpsertGraphEntity(ctx, job.OrgID, job.ProjectID, entity, m.ID, seenAt); err != nil {
			return err
		}
	}
	logger.FromContext(ctx).Debug("graph memory enriched",
		"memory_id", m.ID,
		"entities", len(entities))
	return nil
}
