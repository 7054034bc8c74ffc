package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/me/gobs/internal/store"
	"github.com/me/gobs/pkg/model"
)

// LostExitCode is recorded for jobs that were running when the daemon died.
const LostExitCode = -1

// Registry is the authoritative in-memory view of all known jobs. It is the
// single writer of job records: every mutation is mirrored to the store
// synchronously before it becomes visible in memory, so a failed persist
// leaves the in-memory view unchanged.
type Registry struct {
	store  store.Store
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[int64]*model.Job
}

// New loads all persisted jobs into memory. Jobs recorded as running on
// this node are orphans from a previous daemon process; they are finished
// with LostExitCode so resource accounting restarts consistent.
func New(ctx context.Context, st store.Store, nodename string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		store:  st,
		logger: logger.With("component", "registry"),
		jobs:   make(map[int64]*model.Job),
	}

	running, err := st.ListJobs(ctx, model.JobRunning, 0)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	now := time.Now().UTC()
	recovered := 0
	for _, job := range running {
		if job.Node != nodename {
			// Owned by another daemon; leave it alone.
			continue
		}
		code := LostExitCode
		job.FinishedAt = &now
		job.ExitCode = &code
		job.PID = 0
		if err := st.UpdateJob(ctx, job); err != nil {
			return nil, model.NewStorageError(err)
		}
		recovered++
		r.logger.Warn("job lost at daemon restart", "job_id", job.ID, "name", job.DisplayName())
	}

	all, err := st.ListAll(ctx)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	for _, job := range all {
		r.jobs[job.ID] = job
	}
	r.logger.Info("registry loaded", "jobs", len(all), "recovered", recovered)

	return r, nil
}

// Create persists a new waiting job built from the submission and installs
// it in memory. The store assigns the id.
func (r *Registry) Create(ctx context.Context, sub *model.Submission, priority int) (*model.Job, error) {
	job := &model.Job{
		Name:         sub.Name,
		Username:     sub.Username,
		OwnerUID:     sub.OwnerUID,
		Filename:     sub.Filename,
		NCPUs:        sub.NCPUs,
		Priority:     priority,
		AllowedNodes: sub.AllowedNodes,
		StdoutPath:   sub.StdoutPath,
		StderrPath:   sub.StderrPath,
		MailMode:     sub.MailMode,
		MailTo:       sub.MailTo,
		SubmittedAt:  time.Now().UTC(),
	}
	if sub.Priority != nil {
		job.Priority = *sub.Priority
	}

	id, err := r.store.InsertJob(ctx, job)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	job.ID = id

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()

	return job.Clone(), nil
}

// Get returns a copy of the job or a NOT_FOUND error.
func (r *Registry) Get(id int64) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, model.NewNotFoundError(id)
	}
	return job.Clone(), nil
}

// List returns copies of all jobs in the given derived state. Waiting jobs
// come priority-descending then oldest-first, running jobs oldest-start-first,
// done jobs newest-finish-first. limit <= 0 means no limit.
func (r *Registry) List(state model.JobState, limit int) []*model.Job {
	r.mu.RLock()
	var jobs []*model.Job
	for _, job := range r.jobs {
		if job.State() == state {
			jobs = append(jobs, job.Clone())
		}
	}
	r.mu.RUnlock()

	switch state {
	case model.JobWaiting:
		sort.Slice(jobs, func(i, j int) bool {
			if jobs[i].Priority != jobs[j].Priority {
				return jobs[i].Priority > jobs[j].Priority
			}
			if !jobs[i].SubmittedAt.Equal(jobs[j].SubmittedAt) {
				return jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt)
			}
			return jobs[i].ID < jobs[j].ID
		})
	case model.JobRunning:
		sort.Slice(jobs, func(i, j int) bool {
			return jobs[i].StartedAt.Before(*jobs[j].StartedAt)
		})
	case model.JobDone:
		sort.Slice(jobs, func(i, j int) bool {
			return jobs[i].FinishedAt.After(*jobs[j].FinishedAt)
		})
	}

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// Delete removes a job record. Running jobs cannot be deleted directly;
// the caller must terminate the process and delete after the exit is
// observed, so resource accounting never sees a half-freed state.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return model.NewNotFoundError(id)
	}
	if job.State() == model.JobRunning {
		return model.NewConflictError("job %d is running", id)
	}
	if err := r.store.DeleteJob(ctx, id); err != nil {
		return model.NewStorageError(err)
	}
	delete(r.jobs, id)
	return nil
}

// MarkStarted records the Waiting -> Running transition. It is called
// exactly once per job, after a successful resource reservation.
func (r *Registry) MarkStarted(ctx context.Context, id int64, node string, pid int, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return model.NewNotFoundError(id)
	}
	if job.State() != model.JobWaiting {
		return model.NewConflictError("job %d already started", id)
	}

	updated := job.Clone()
	updated.Node = node
	updated.PID = pid
	updated.StartedAt = &startedAt
	if err := r.store.UpdateJob(ctx, updated); err != nil {
		return model.NewStorageError(err)
	}
	r.jobs[id] = updated
	return nil
}

// MarkFinished records the Running -> Done transition and clears the pid.
// Only running jobs can finish: a job that never started stays Waiting,
// and a second call for the same job is a CONFLICT, which the scheduler
// uses to absorb duplicate exit notifications.
func (r *Registry) MarkFinished(ctx context.Context, id int64, exitCode int, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return model.NewNotFoundError(id)
	}
	switch job.State() {
	case model.JobDone:
		return model.NewConflictError("job %d already finished", id)
	case model.JobWaiting:
		return model.NewConflictError("job %d has not started", id)
	}

	updated := job.Clone()
	updated.FinishedAt = &finishedAt
	updated.ExitCode = &exitCode
	updated.PID = 0
	if err := r.store.UpdateJob(ctx, updated); err != nil {
		return model.NewStorageError(err)
	}
	r.jobs[id] = updated
	return nil
}

// Size returns the number of known jobs.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
