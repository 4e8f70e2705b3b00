package pipeline

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"path"
	"strings"
	"time"

	"github.com/dse120071750/anime-dance-publisher/internal/client"
	"github.com/dse120071750/anime-dance-publisher/internal/config"
	"github.com/dse120071750/anime-dance-publisher/internal/model"
	"github.com/dse120071750/anime-dance-publisher/internal/registry"
)

// JobTracker is the slice of job bookkeeping the executor needs. The
// service layer's job stores satisfy it.
type JobTracker interface {
	Get(ctx context.Context, jobID string) (*model.PipelineJob, error)
	UpdateStatus(ctx context.Context, jobID string, status model.JobStatus, message string) error
	UpdateProgress(ctx context.Context, jobID string, patch model.ProgressPatch) error
	AddResult(ctx context.Context, jobID string, result model.CharacterResult) error
	AddError(ctx context.Context, jobID string, message string) error
}

// Deps carries the executor's collaborators. Everything is an interface so
// tests can substitute fakes.
type Deps struct {
	Registry   registry.Store
	Jobs       JobTracker
	Creative   client.CreativeGenerator
	Motion     client.MotionTransfer
	Music      client.SoundtrackGenerator
	Compositor client.VideoCompositor
	Storage    client.StorageClient
}

// Executor drives one pipeline job from brainstorm to deliverable. All
// intermediate assets are written back to the registry as soon as they
// exist, so a re-run resumes at the first missing asset instead of
// regenerating everything.
type Executor struct {
	deps Deps
	cfg  config.PipelineConfig

	basePrefix string
	rng        *rand.Rand

	// OnProgress, when set, is invoked with a fresh job snapshot after
	// every progress update. The worker wires it to the websocket hub.
	OnProgress func(job *model.PipelineJob)
}

func NewExecutor(deps Deps, cfg config.PipelineConfig, basePrefix string) *Executor {
	return &Executor{
		deps:       deps,
		cfg:        cfg,
		basePrefix: basePrefix,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes the job to completion. The returned error is the job-fatal
// kind only; per-character failures are recorded on the job document and do
// not abort the batch.
func (e *Executor) Run(ctx context.Context, jobID string) error {
	job, err := e.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	opts := job.Config

	if err := e.deps.Jobs.UpdateStatus(ctx, jobID, model.JobStatusRunning, "pipeline started"); err != nil {
		return err
	}
	e.notify(ctx, jobID)

	refs, err := e.resolveReferences(ctx, opts)
	if err != nil {
		e.fail(ctx, jobID, err.Error())
		return err
	}

	targets, err := e.resolveTargets(ctx, jobID, opts)
	if err != nil {
		e.fail(ctx, jobID, fmt.Sprintf("failed to select characters: %v", err))
		return err
	}

	completed := 0
	for i, rec := range targets {
		if e.cancelled(ctx, jobID) {
			log.Printf("[Pipeline] job %s cancelled after %d/%d characters", jobID, completed, len(targets))
			return nil
		}

		e.progress(ctx, jobID, model.ProgressPatch{
			CurrentCharacter: ptr(rec.Name),
			CurrentStage:     ptr(string(StageAnimeImage)),
			PercentComplete:  ptr(i * 100 / len(targets)),
		})

		result, err := e.processCharacter(ctx, jobID, rec, refs, opts)
		if err != nil {
			log.Printf("[Pipeline] job %s character %s failed: %v", jobID, rec.ID, err)
			_ = e.deps.Jobs.AddError(ctx, jobID, fmt.Sprintf("character %s: %v", rec.ID, err))
			continue
		}

		if err := e.deps.Jobs.AddResult(ctx, jobID, *result); err != nil {
			return err
		}
		completed++
		e.progress(ctx, jobID, model.ProgressPatch{
			Completed:       ptr(completed),
			PercentComplete: ptr((i + 1) * 100 / len(targets)),
		})
	}

	if e.cancelled(ctx, jobID) {
		return nil
	}

	msg := fmt.Sprintf("%d/%d characters completed", completed, len(targets))
	status := model.JobStatusCompleted
	if completed == 0 && len(targets) > 0 {
		status = model.JobStatusFailed
		msg = "all characters failed"
	}
	if err := e.deps.Jobs.UpdateStatus(ctx, jobID, status, msg); err != nil {
		return err
	}
	e.notify(ctx, jobID)
	return nil
}

// processCharacter advances a single character through every missing stage
// and returns its result row.
func (e *Executor) processCharacter(ctx context.Context, jobID string, rec *model.CharacterRecord, refs []string, opts model.PipelineOptions) (*model.CharacterResult, error) {
	var err error

	// Image stages run against the primary variant.
	for {
		stage := NextStage(rec.Primary())
		if stage != StageAnimeImage && stage != StageCosplayImage {
			break
		}
		e.progress(ctx, jobID, model.ProgressPatch{CurrentStage: ptr(string(stage))})

		switch stage {
		case StageAnimeImage:
			rec, err = e.ensureAnimeImage(ctx, rec, opts)
		case StageCosplayImage:
			rec, err = e.ensureCosplayImage(ctx, rec, opts)
		}
		if err != nil {
			return nil, err
		}
	}

	e.progress(ctx, jobID, model.ProgressPatch{CurrentStage: ptr(string(StageDanceVideo))})
	rec, generated, requested, err := e.generateDances(ctx, jobID, rec, refs, opts)
	if err != nil {
		return nil, err
	}

	e.progress(ctx, jobID, model.ProgressPatch{CurrentStage: ptr(string(StageCompose))})
	if opts.GenerateVariants {
		if rec, err = e.createRemix(ctx, rec); err != nil {
			// A missing remix does not invalidate the dance videos.
			log.Printf("[Pipeline] character %s remix failed: %v", rec.ID, err)
			_ = e.deps.Jobs.AddError(ctx, jobID, fmt.Sprintf("character %s: remix: %v", rec.ID, err))
		}
	}
	if rec, err = e.composeDeliverable(ctx, rec, opts); err != nil {
		return nil, err
	}

	status := model.ResultStatusCompleted
	if generated < requested {
		status = model.ResultStatusPartial
	}
	deliverable := ""
	if v := rec.Primary(); v != nil {
		deliverable = v.Deliverable
	}
	return &model.CharacterResult{
		CharacterID:     rec.ID,
		Name:            rec.Name,
		Anime:           rec.Anime,
		Status:          status,
		DancesGenerated: generated,
		DancesRequested: requested,
		Deliverable:     deliverable,
	}, nil
}

// resolveReferences returns the pool of motion reference video URLs for
// this run: the caller-supplied list when present, otherwise everything
// under the configured storage prefix. An empty pool is a job-fatal error
// because no dance stage can run without one.
func (e *Executor) resolveReferences(ctx context.Context, opts model.PipelineOptions) ([]string, error) {
	if len(opts.ReferenceVideos) > 0 {
		return opts.ReferenceVideos, nil
	}

	keys, err := e.deps.Storage.List(ctx, e.cfg.ReferencePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list reference videos: %w", err)
	}
	var refs []string
	for _, key := range keys {
		if strings.HasSuffix(key, ".mp4") || strings.HasSuffix(key, ".mov") {
			refs = append(refs, e.deps.Storage.GetPublicURL(key))
		}
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("no reference videos available under %s", e.cfg.ReferencePrefix)
	}
	return refs, nil
}

// sampleReferences draws up to n distinct references from the pool.
func (e *Executor) sampleReferences(refs []string, n int) []string {
	if n >= len(refs) {
		out := make([]string, len(refs))
		copy(out, refs)
		return out
	}
	out := make([]string, 0, n)
	for _, idx := range e.rng.Perm(len(refs))[:n] {
		out = append(out, refs[idx])
	}
	return out
}

// cancelled checks the persisted job status. The HTTP layer flips it to
// cancelled; the worker polls it between units of work.
func (e *Executor) cancelled(ctx context.Context, jobID string) bool {
	job, err := e.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Status == model.JobStatusCancelled
}

func (e *Executor) fail(ctx context.Context, jobID, msg string) {
	_ = e.deps.Jobs.AddError(ctx, jobID, msg)
	_ = e.deps.Jobs.UpdateStatus(ctx, jobID, model.JobStatusFailed, msg)
	e.notify(ctx, jobID)
}

func (e *Executor) progress(ctx context.Context, jobID string, patch model.ProgressPatch) {
	if err := e.deps.Jobs.UpdateProgress(ctx, jobID, patch); err != nil {
		log.Printf("[Pipeline] job %s progress update failed: %v", jobID, err)
		return
	}
	e.notify(ctx, jobID)
}

func (e *Executor) notify(ctx context.Context, jobID string) {
	if e.OnProgress == nil {
		return
	}
	if job, err := e.deps.Jobs.Get(ctx, jobID); err == nil {
		e.OnProgress(job)
	}
}

// assetKey builds the storage key for one asset of a character.
func (e *Executor) assetKey(charID, name string) string {
	return path.Join(e.basePrefix, "characters", charID, name)
}

// fetchableURL turns a stored gs:// URI into a URL an external vendor can
// download. Plain http(s) URLs pass through.
func (e *Executor) fetchableURL(ctx context.Context, uri string) (string, error) {
	key, ok := objectKey(uri)
	if !ok {
		return uri, nil
	}
	return e.deps.Storage.GetSignedURL(ctx, key, time.Hour)
}

// objectKey extracts the object key from a gs://bucket/key URI.
func objectKey(uri string) (string, bool) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", false
	}
	rest := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", false
	}
	return parts[1], true
}

func ptr[T any](v T) *T { return &v }
