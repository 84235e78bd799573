// Package checkpoint persists analysis jobs and their stage transitions.
// Every stage advance is a compare-and-set on the recorded stage, which is
// what makes concurrent workers safe: at most one transition wins.
package checkpoint

import (
	"context"

	"github.com/verdant-group/greenwash-cli/internal/model"
)

// Store is the checkpoint persistence interface. Two implementations exist:
// SQLite for local runs and Postgres for shared deployments.
type Store interface {
	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// CreateJob inserts a new job at the fetching stage. Fails when an
	// active (non-archived) job already exists for the company and period.
	CreateJob(ctx context.Context, company model.Company, period string) (*model.AnalysisJob, error)

	// GetJob returns the active job for the key, or (nil, nil) when none
	// exists.
	GetJob(ctx context.Context, key model.JobKey) (*model.AnalysisJob, error)

	// AdvanceStage atomically moves the job from its in-memory stage to the
	// given stage, persisting the job's company and artifacts alongside.
	// The update only applies when the stored stage still equals job.Stage;
	// otherwise model.ErrCheckpointConflict is returned and the job is left
	// untouched. On success job.Stage is set to the new stage.
	AdvanceStage(ctx context.Context, job *model.AnalysisJob, to model.Stage) error

	// RecordFailure notes the last error on the job without touching its
	// stage, so a later resume picks up where the failure happened.
	RecordFailure(ctx context.Context, key model.JobKey, msg string) error

	// ListJobs returns jobs matching the filter, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]model.AnalysisJob, error)

	// CommitBundle upserts the finished assessment. Committing the same
	// bundle twice is a no-op aside from the refreshed timestamp, which is
	// what makes the persist stage safe to resume.
	CommitBundle(ctx context.Context, b *model.Bundle) error

	// GetBundle returns the committed assessment, or (nil, nil) when none
	// exists.
	GetBundle(ctx context.Context, key model.JobKey) (*model.Bundle, error)

	// ArchiveJob retires a persisted job so a fresh analysis of the same
	// company and period can be requested later.
	ArchiveJob(ctx context.Context, key model.JobKey) error

	Close() error
}

// JobFilter narrows ListJobs output.
type JobFilter struct {
	Stage       model.Stage
	CompanyCode string
	Archived    bool
	Limit       int
	Offset      int
}
