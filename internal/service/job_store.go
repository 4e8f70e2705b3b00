package service

import (
	"context"
	"errors"

	"github.com/dse120071750/anime-dance-publisher/internal/model"
)

var (
	// ErrJobNotFound is returned when no job document exists for the id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when an update targets a job that already
	// reached a terminal status.
	ErrJobTerminal = errors.New("job already in terminal status")
)

// JobStore persists pipeline job documents. The worker is the only writer
// of progress and results; the HTTP layer reads jobs and flips them to
// cancelled.
type JobStore interface {
	// Create stores a new job document.
	Create(ctx context.Context, job *model.PipelineJob) error

	// Get returns the job with the given id.
	Get(ctx context.Context, jobID string) (*model.PipelineJob, error)

	// UpdateStatus transitions the job status. Transitions out of a
	// terminal status are rejected with ErrJobTerminal. The first move to
	// running records started_at; any terminal status records completed_at.
	UpdateStatus(ctx context.Context, jobID string, status model.JobStatus, message string) error

	// UpdateProgress merges the patch into the progress sub-object.
	UpdateProgress(ctx context.Context, jobID string, patch model.ProgressPatch) error

	// AddResult appends to the job's results list.
	AddResult(ctx context.Context, jobID string, result model.CharacterResult) error

	// AddError appends to the job's errors list.
	AddError(ctx context.Context, jobID string, message string) error

	// List returns jobs newest-first, optionally filtered by status.
	// limit <= 0 means no limit.
	List(ctx context.Context, status model.JobStatus, limit int) ([]model.PipelineJob, error)

	// Cancel marks a queued or running job cancelled. Terminal jobs are
	// rejected with ErrJobTerminal.
	Cancel(ctx context.Context, jobID string) (*model.PipelineJob, error)
}
