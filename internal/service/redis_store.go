package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dse120071750/anime-dance-publisher/internal/model"
)

const jobIndexKey = "jobs:index"

// maxTxRetries bounds optimistic-lock retries on a contended job document.
const maxTxRetries = 5

// RedisJobStore keeps each job as a JSON document under job:<id> plus a
// created-at scored index set for newest-first listing. Documents expire
// after the configured retention window.
type RedisJobStore struct {
	redis     *redis.Client
	retention time.Duration

	// beforeWrite, when set, runs between the transactional read and the
	// write. Tests use it to interleave a concurrent writer.
	beforeWrite func()
}

func NewRedisJobStore(redisClient *redis.Client, retention time.Duration) *RedisJobStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisJobStore{redis: redisClient, retention: retention}
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func (s *RedisJobStore) Create(ctx context.Context, job *model.PipelineJob) error {
	if err := s.save(ctx, job); err != nil {
		return err
	}
	err := s.redis.ZAdd(ctx, jobIndexKey, redis.Z{
		Score:  float64(job.CreatedAt.Unix()),
		Member: job.JobID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to index job: %w", err)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*model.PipelineJob, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job model.PipelineJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *RedisJobStore) UpdateStatus(ctx context.Context, jobID string, status model.JobStatus, message string) error {
	return s.mutate(ctx, jobID, func(job *model.PipelineJob) error {
		return applyStatus(job, status, message)
	})
}

func (s *RedisJobStore) UpdateProgress(ctx context.Context, jobID string, patch model.ProgressPatch) error {
	return s.mutate(ctx, jobID, func(job *model.PipelineJob) error {
		patch.Apply(&job.Progress)
		return nil
	})
}

func (s *RedisJobStore) AddResult(ctx context.Context, jobID string, result model.CharacterResult) error {
	return s.mutate(ctx, jobID, func(job *model.PipelineJob) error {
		job.Results = append(job.Results, result)
		return nil
	})
}

func (s *RedisJobStore) AddError(ctx context.Context, jobID string, message string) error {
	return s.mutate(ctx, jobID, func(job *model.PipelineJob) error {
		job.Errors = append(job.Errors, model.JobError{Message: message, Timestamp: time.Now().UTC()})
		return nil
	})
}

func (s *RedisJobStore) List(ctx context.Context, status model.JobStatus, limit int) ([]model.PipelineJob, error) {
	ids, err := s.redis.ZRevRange(ctx, jobIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list job index: %w", err)
	}

	jobs := make([]model.PipelineJob, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err == ErrJobNotFound {
			// Expired document, drop the stale index entry.
			s.redis.ZRem(ctx, jobIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if status != "" && job.Status != status {
			continue
		}
		jobs = append(jobs, *job)
		if limit > 0 && len(jobs) == limit {
			break
		}
	}
	return jobs, nil
}

func (s *RedisJobStore) Cancel(ctx context.Context, jobID string) (*model.PipelineJob, error) {
	if err := s.UpdateStatus(ctx, jobID, model.JobStatusCancelled, "cancelled by user"); err != nil {
		return nil, err
	}
	return s.Get(ctx, jobID)
}

// mutate runs a read-modify-write cycle on one job document under WATCH, so
// a concurrent writer (a cancel racing the worker) invalidates the write and
// the cycle re-reads fresh state instead of clobbering it.
func (s *RedisJobStore) mutate(ctx context.Context, jobID string, fn func(*model.PipelineJob) error) error {
	key := jobKey(jobID)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return ErrJobNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to get job: %w", err)
			}
			var job model.PipelineJob
			if err := json.Unmarshal(data, &job); err != nil {
				return fmt.Errorf("failed to unmarshal job: %w", err)
			}

			if err := fn(&job); err != nil {
				return err
			}
			job.UpdatedAt = time.Now().UTC()
			payload, err := json.Marshal(&job)
			if err != nil {
				return fmt.Errorf("failed to marshal job: %w", err)
			}

			if s.beforeWrite != nil {
				s.beforeWrite()
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.retention)
				return nil
			})
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("job %s update lost the optimistic lock %d times", jobID, maxTxRetries)
}

func (s *RedisJobStore) save(ctx context.Context, job *model.PipelineJob) error {
	job.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := s.redis.Set(ctx, jobKey(job.JobID), data, s.retention).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// applyStatus enforces the status transition rules shared by all stores.
func applyStatus(job *model.PipelineJob, status model.JobStatus, message string) error {
	if job.Status.IsTerminal() {
		return ErrJobTerminal
	}
	job.Status = status
	job.Message = message

	now := time.Now().UTC()
	if status == model.JobStatusRunning && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if status.IsTerminal() {
		job.CompletedAt = &now
	}
	return nil
}
