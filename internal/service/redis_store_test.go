package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dse120071750/anime-dance-publisher/internal/model"
)

// newTestRedisStore connects to the local Redis of the development stack
// and skips when it is not running.
func newTestRedisStore(t *testing.T) *RedisJobStore {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return NewRedisJobStore(rdb, time.Minute)
}

func createRedisTestJob(t *testing.T, store *RedisJobStore) *model.PipelineJob {
	t.Helper()
	job := &model.PipelineJob{
		JobID:     fmt.Sprintf("test-%d", time.Now().UnixNano()),
		Status:    model.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() {
		store.redis.Del(context.Background(), jobKey(job.JobID))
		store.redis.ZRem(context.Background(), jobIndexKey, job.JobID)
	})
	return job
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	job := createRedisTestJob(t, store)
	ctx := context.Background()

	if err := store.UpdateStatus(ctx, job.JobID, model.JobStatusRunning, "started"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := store.AddResult(ctx, job.JobID, model.CharacterResult{CharacterID: "rem_100"}); err != nil {
		t.Fatalf("AddResult: %v", err)
	}

	got, err := store.Get(ctx, job.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.JobStatusRunning {
		t.Errorf("expected running, got %s", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("started_at should be set")
	}
	if len(got.Results) != 1 {
		t.Errorf("expected 1 result, got %d", len(got.Results))
	}
}

func TestRedisStore_CancelSurvivesConcurrentUpdate(t *testing.T) {
	store := newTestRedisStore(t)
	job := createRedisTestJob(t, store)
	ctx := context.Background()

	if err := store.UpdateStatus(ctx, job.JobID, model.JobStatusRunning, "started"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	// A second handle cancels the job between the worker's read and write.
	// The WATCH must invalidate the first write so the retry sees the
	// cancelled state instead of overwriting it.
	other := NewRedisJobStore(store.redis, time.Minute)
	cancelled := false
	store.beforeWrite = func() {
		if cancelled {
			return
		}
		cancelled = true
		if _, err := other.Cancel(ctx, job.JobID); err != nil {
			t.Errorf("Cancel: %v", err)
		}
	}

	one := 1
	if err := store.UpdateProgress(ctx, job.JobID, model.ProgressPatch{Completed: &one}); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	store.beforeWrite = nil

	got, err := store.Get(ctx, job.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.JobStatusCancelled {
		t.Fatalf("concurrent cancel lost, status is %s", got.Status)
	}
	if got.Progress.Completed != 1 {
		t.Errorf("retried progress update lost, completed is %d", got.Progress.Completed)
	}
}

func TestRedisStore_TerminalStatusRejected(t *testing.T) {
	store := newTestRedisStore(t)
	job := createRedisTestJob(t, store)
	ctx := context.Background()

	if _, err := store.Cancel(ctx, job.JobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	err := store.UpdateStatus(ctx, job.JobID, model.JobStatusRunning, "again")
	if !errors.Is(err, ErrJobTerminal) {
		t.Errorf("expected ErrJobTerminal, got %v", err)
	}
}
