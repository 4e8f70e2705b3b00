package service

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dse120071750/anime-dance-publisher/internal/model"
)

// FirestoreJobStore keeps one document per job. Results and errors are
// appended with ArrayUnion so concurrent readers never see a torn list.
type FirestoreJobStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreJobStore(client *firestore.Client, collection string) *FirestoreJobStore {
	if collection == "" {
		collection = "pipeline_jobs"
	}
	return &FirestoreJobStore{client: client, collection: collection}
}

func (s *FirestoreJobStore) doc(jobID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(jobID)
}

func (s *FirestoreJobStore) Create(ctx context.Context, job *model.PipelineJob) error {
	job.UpdatedAt = time.Now().UTC()
	if _, err := s.doc(job.JobID).Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *FirestoreJobStore) Get(ctx context.Context, jobID string) (*model.PipelineJob, error) {
	snap, err := s.doc(jobID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	var job model.PipelineJob
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

func (s *FirestoreJobStore) UpdateStatus(ctx context.Context, jobID string, newStatus model.JobStatus, message string) error {
	ref := s.doc(jobID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrJobNotFound
			}
			return err
		}
		var job model.PipelineJob
		if err := snap.DataTo(&job); err != nil {
			return err
		}
		if err := applyStatus(&job, newStatus, message); err != nil {
			return err
		}
		job.UpdatedAt = time.Now().UTC()
		return tx.Set(ref, &job)
	})
	if err == ErrJobNotFound || err == ErrJobTerminal {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (s *FirestoreJobStore) UpdateProgress(ctx context.Context, jobID string, patch model.ProgressPatch) error {
	updates := []firestore.Update{
		{Path: "updated_at", Value: time.Now().UTC()},
	}
	if patch.CurrentCharacter != nil {
		updates = append(updates, firestore.Update{Path: "progress.current_character", Value: *patch.CurrentCharacter})
	}
	if patch.CurrentStage != nil {
		updates = append(updates, firestore.Update{Path: "progress.current_stage", Value: *patch.CurrentStage})
	}
	if patch.Completed != nil {
		updates = append(updates, firestore.Update{Path: "progress.completed", Value: *patch.Completed})
	}
	if patch.PercentComplete != nil {
		updates = append(updates, firestore.Update{Path: "progress.percent_complete", Value: *patch.PercentComplete})
	}

	if _, err := s.doc(jobID).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

func (s *FirestoreJobStore) AddResult(ctx context.Context, jobID string, result model.CharacterResult) error {
	_, err := s.doc(jobID).Update(ctx, []firestore.Update{
		{Path: "results", Value: firestore.ArrayUnion(result)},
		{Path: "updated_at", Value: time.Now().UTC()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to append job result: %w", err)
	}
	return nil
}

func (s *FirestoreJobStore) AddError(ctx context.Context, jobID string, message string) error {
	entry := model.JobError{Message: message, Timestamp: time.Now().UTC()}
	_, err := s.doc(jobID).Update(ctx, []firestore.Update{
		{Path: "errors", Value: firestore.ArrayUnion(entry)},
		{Path: "updated_at", Value: time.Now().UTC()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to append job error: %w", err)
	}
	return nil
}

func (s *FirestoreJobStore) List(ctx context.Context, jobStatus model.JobStatus, limit int) ([]model.PipelineJob, error) {
	q := s.client.Collection(s.collection).OrderBy("created_at", firestore.Desc)
	if jobStatus != "" {
		q = q.Where("status", "==", string(jobStatus))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	jobs := make([]model.PipelineJob, 0, len(docs))
	for _, doc := range docs {
		var job model.PipelineJob
		if err := doc.DataTo(&job); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", doc.Ref.ID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *FirestoreJobStore) Cancel(ctx context.Context, jobID string) (*model.PipelineJob, error) {
	if err := s.UpdateStatus(ctx, jobID, model.JobStatusCancelled, "cancelled by user"); err != nil {
		return nil, err
	}
	return s.Get(ctx, jobID)
}
