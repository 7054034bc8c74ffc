package store

import (
	"context"

	"github.com/me/gobs/pkg/model"
)

// Store is the persistence layer for job records. The registry is its only
// caller; every registry mutation is mirrored here before it is applied to
// the in-memory view.
type Store interface {
	// InsertJob persists a new job and returns its assigned id. Ids are
	// monotonically increasing and never reused, even after deletion.
	InsertJob(ctx context.Context, job *model.Job) (int64, error)

	// UpdateJob overwrites the stored record for job.ID.
	UpdateJob(ctx context.Context, job *model.Job) error

	// DeleteJob removes the record. Deleting an unknown id is an error.
	DeleteJob(ctx context.Context, id int64) error

	// GetJob returns the job or nil when the id is unknown.
	GetJob(ctx context.Context, id int64) (*model.Job, error)

	// ListJobs returns jobs in the given derived state. Waiting jobs come
	// priority-descending then oldest-first, running jobs oldest-start-first,
	// done jobs newest-finish-first. limit <= 0 means no limit.
	ListJobs(ctx context.Context, state model.JobState, limit int) ([]*model.Job, error)

	// ListAll returns every stored job, oldest submission first.
	ListAll(ctx context.Context) ([]*model.Job, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
