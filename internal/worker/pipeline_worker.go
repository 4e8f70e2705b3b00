package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/dse120071750/anime-dance-publisher/internal/client"
	"github.com/dse120071750/anime-dance-publisher/internal/model"
	"github.com/dse120071750/anime-dance-publisher/internal/pipeline"
	"github.com/dse120071750/anime-dance-publisher/internal/service"
	"github.com/dse120071750/anime-dance-publisher/internal/websocket"
)

// PipelineWorker processes pipeline run tasks.
type PipelineWorker struct {
	executor *pipeline.Executor
	jobs     service.JobStore
	webhook  client.WebhookNotifier
	hub      *websocket.Hub
}

// NewPipelineWorker creates a new pipeline worker and wires the executor's
// progress hook to the websocket hub.
func NewPipelineWorker(executor *pipeline.Executor, jobs service.JobStore, webhook client.WebhookNotifier, hub *websocket.Hub) *PipelineWorker {
	w := &PipelineWorker{
		executor: executor,
		jobs:     jobs,
		webhook:  webhook,
		hub:      hub,
	}
	executor.OnProgress = w.broadcast
	return w
}

// ProcessTask handles one pipeline run end to end.
func (w *PipelineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.PipelineTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	jobID := payload.JobID
	log.Printf("Starting pipeline job: %s", jobID)

	// A worker restart re-delivers the task; a job that already finished
	// (or was cancelled while queued) must not run again.
	job, err := w.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		log.Printf("Pipeline job %s already %s, skipping", jobID, job.Status)
		return nil
	}

	runErr := w.executor.Run(ctx, jobID)
	w.finish(ctx, jobID, runErr)

	if runErr != nil {
		log.Printf("Pipeline job %s failed: %v", jobID, runErr)
		return runErr
	}
	log.Printf("Pipeline job %s finished", jobID)
	return nil
}

// finish delivers the terminal webhook and websocket notifications. The
// executor has already written the terminal status.
func (w *PipelineWorker) finish(ctx context.Context, jobID string, runErr error) {
	job, err := w.jobs.Get(ctx, jobID)
	if err != nil {
		log.Printf("Failed to load job %s for notifications: %v", jobID, err)
		return
	}

	if job.Status == model.JobStatusFailed {
		w.hub.BroadcastError(jobID, "PIPELINE_FAILED", job.Message)
	}
	w.hub.BroadcastComplete(job)

	if job.Config.WebhookURL != "" && job.Status.IsTerminal() {
		payload := model.WebhookPayload{
			JobID:           job.JobID,
			Status:          job.Status,
			TotalCharacters: job.Progress.TotalCharacters,
			Results:         job.Results,
		}
		if runErr != nil {
			payload.Error = runErr.Error()
		}
		w.webhook.Notify(ctx, job.Config.WebhookURL, payload)
	}
}

// broadcast is the executor's progress hook.
func (w *PipelineWorker) broadcast(job *model.PipelineJob) {
	w.hub.BroadcastProgress(job)
}
