package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/dse120071750/anime-dance-publisher/internal/config"
	"github.com/dse120071750/anime-dance-publisher/internal/model"
	"github.com/dse120071750/anime-dance-publisher/internal/registry"
)

// TaskTypePipeline is the asynq task type for pipeline runs.
const TaskTypePipeline = "pipeline:run"

// PipelineTaskPayload is the asynq task body; the job document carries the
// real configuration.
type PipelineTaskPayload struct {
	JobID string `json:"job_id"`
}

// ErrCountOutOfRange is returned when the requested character count falls
// outside 1..MaxCount.
var ErrCountOutOfRange = errors.New("count out of range")

// Enqueuer is the slice of asynq.Client the service needs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PipelineService creates pipeline jobs and hands them to the worker queue.
type PipelineService struct {
	jobs     JobStore
	registry registry.Store
	enqueuer Enqueuer
	cfg      config.PipelineConfig
}

func NewPipelineService(jobs JobStore, reg registry.Store, enqueuer Enqueuer, cfg config.PipelineConfig) *PipelineService {
	return &PipelineService{
		jobs:     jobs,
		registry: reg,
		enqueuer: enqueuer,
		cfg:      cfg,
	}
}

// Run validates the request, persists a queued job and enqueues the task.
func (s *PipelineService) Run(ctx context.Context, req *model.RunRequest) (*model.RunResponse, error) {
	if req.Count < 1 || req.Count > s.cfg.MaxCount {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", ErrCountOutOfRange, s.cfg.MaxCount)
	}

	opts := s.buildOptions(req)
	job := &model.PipelineJob{
		JobID:     uuid.New().String(),
		Status:    model.JobStatusQueued,
		Config:    opts,
		Progress:  model.JobProgress{TotalCharacters: opts.Count},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	payload, err := json.Marshal(PipelineTaskPayload{JobID: job.JobID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	task := asynq.NewTask(TaskTypePipeline, payload)

	timeout := time.Duration(s.cfg.JobTimeout) * time.Second
	if timeout <= 0 {
		timeout = time.Hour
	}
	_, err = s.enqueuer.Enqueue(task,
		asynq.Queue("pipeline"),
		asynq.MaxRetry(1),
		asynq.Timeout(timeout),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		_ = s.jobs.UpdateStatus(ctx, job.JobID, model.JobStatusFailed, "failed to enqueue")
		return nil, fmt.Errorf("failed to enqueue pipeline task: %w", err)
	}

	log.Printf("[Pipeline] queued job %s (count=%d)", job.JobID, opts.Count)
	return &model.RunResponse{
		JobID:             job.JobID,
		Status:            model.JobStatusQueued,
		EstimatedDuration: estimateDuration(opts.Count),
	}, nil
}

// buildOptions folds request toggles over the configured defaults.
func (s *PipelineService) buildOptions(req *model.RunRequest) model.PipelineOptions {
	opts := model.PipelineOptions{
		Count:           req.Count,
		StyleID:         req.StyleID,
		ReferenceVideos: req.ReferenceVideos,
		WebhookURL:      req.WebhookURL,
		SkipExisting:    true,
	}
	if opts.StyleID == "" {
		opts.StyleID = s.cfg.DefaultStyleID
	}
	if o := req.Options; o != nil {
		if o.SkipExisting != nil {
			opts.SkipExisting = *o.SkipExisting
		}
		if o.GenerateVariants != nil {
			opts.GenerateVariants = *o.GenerateVariants
		}
		if o.CreateSoundtracks != nil {
			opts.CreateSoundtracks = *o.CreateSoundtracks
		}
		if o.ApplyWatermark != nil {
			opts.ApplyWatermark = *o.ApplyWatermark
		}
		if o.CloudSync != nil {
			opts.CloudSync = *o.CloudSync
		}
	}
	return opts
}

// GetJob returns one job document.
func (s *PipelineService) GetJob(ctx context.Context, jobID string) (*model.PipelineJob, error) {
	return s.jobs.Get(ctx, jobID)
}

// ListJobs returns jobs newest-first.
func (s *PipelineService) ListJobs(ctx context.Context, status model.JobStatus, limit int) ([]model.PipelineJob, error) {
	return s.jobs.List(ctx, status, limit)
}

// CancelJob requests cooperative cancellation; the worker notices the
// status flip between characters and between dance versions.
func (s *PipelineService) CancelJob(ctx context.Context, jobID string) (*model.PipelineJob, error) {
	return s.jobs.Cancel(ctx, jobID)
}

// ListCharacters returns the registry in the trimmed API shape.
func (s *PipelineService) ListCharacters(ctx context.Context) ([]model.CharacterSummary, error) {
	recs, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.CharacterSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, model.CharacterSummary{
			ID:         rec.ID,
			Name:       rec.Name,
			Anime:      rec.Anime,
			AssetCount: len(rec.Assets),
			UpdatedAt:  rec.LastUpdated.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

// estimateDuration is a rough wall-clock guess surfaced in the 202
// response; each character spends most of its time in motion transfer.
func estimateDuration(count int) string {
	minutes := count * 8
	return fmt.Sprintf("~%dm", minutes)
}
