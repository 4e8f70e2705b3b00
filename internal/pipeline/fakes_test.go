package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dse120071750/anime-dance-publisher/internal/client"
	"github.com/dse120071750/anime-dance-publisher/internal/model"
	"github.com/dse120071750/anime-dance-publisher/internal/registry"
)

// fakeRegistry is an in-memory registry.Store.
type fakeRegistry struct {
	mu      sync.Mutex
	records map[string]*model.CharacterRecord
	prompts map[string]string // "<id>/<key>" -> prompt
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		records: make(map[string]*model.CharacterRecord),
		prompts: make(map[string]string),
	}
}

func (f *fakeRegistry) List(ctx context.Context) ([]*model.CharacterRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.CharacterRecord, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (f *fakeRegistry) Get(ctx context.Context, id string) (*model.CharacterRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return rec.Clone(), nil
}

func (f *fakeRegistry) Find(ctx context.Context, query string) (*model.CharacterRecord, error) {
	return f.Get(ctx, query)
}

func (f *fakeRegistry) Register(ctx context.Context, name, anime string, meta map[string]string) (*model.CharacterRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if strings.EqualFold(rec.Name, name) && strings.EqualFold(rec.Anime, anime) {
			return rec.Clone(), nil
		}
	}
	rec := &model.CharacterRecord{
		ID:          model.NewCharacterID(name, time.Now()),
		Name:        name,
		Anime:       anime,
		Metadata:    meta,
		LastUpdated: time.Now(),
	}
	f.records[rec.ID] = rec
	return rec.Clone(), nil
}

func (f *fakeRegistry) UpsertAsset(ctx context.Context, id, variantTitle string, patch model.AssetPatch) (*model.CharacterRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		rec = &model.CharacterRecord{ID: id, Name: id}
		f.records[id] = rec
	}
	if variantTitle == "" {
		variantTitle = model.PrimaryVariantTitle
	}
	v := rec.Variant(variantTitle)
	if v == nil {
		rec.Assets = append(rec.Assets, model.AssetVariant{Title: variantTitle})
		v = &rec.Assets[len(rec.Assets)-1]
	}
	patch.Apply(v)
	return rec.Clone(), nil
}

func (f *fakeRegistry) SetPrompt(ctx context.Context, id, key, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts[id+"/"+key] = prompt
	return nil
}

func (f *fakeRegistry) seed(rec *model.CharacterRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ID] = rec
}

// fakeJobs is an in-memory JobTracker.
type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*model.PipelineJob

	// cancelAfterResults flips the job to cancelled once this many results
	// are in, simulating a cancel request racing the worker.
	cancelAfterResults int
}

func newFakeJobs(job *model.PipelineJob) *fakeJobs {
	return &fakeJobs{
		jobs:               map[string]*model.PipelineJob{job.JobID: job},
		cancelAfterResults: -1,
	}
}

func (f *fakeJobs) Get(ctx context.Context, jobID string) (*model.PipelineJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobs) UpdateStatus(ctx context.Context, jobID string, status model.JobStatus, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s already terminal", jobID)
	}
	job.Status = status
	job.Message = message
	return nil
}

func (f *fakeJobs) UpdateProgress(ctx context.Context, jobID string, patch model.ProgressPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	patch.Apply(&f.jobs[jobID].Progress)
	return nil
}

func (f *fakeJobs) AddResult(ctx context.Context, jobID string, result model.CharacterResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.Results = append(job.Results, result)
	if f.cancelAfterResults >= 0 && len(job.Results) >= f.cancelAfterResults {
		job.Status = model.JobStatusCancelled
	}
	return nil
}

func (f *fakeJobs) AddError(ctx context.Context, jobID string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.Errors = append(job.Errors, model.JobError{Message: message, Timestamp: time.Now()})
	return nil
}

// fakeCreative is a canned client.CreativeGenerator.
type fakeCreative struct {
	mu              sync.Mutex
	ideas           []client.CharacterIdea
	brainstormCalls int
	imageCalls      int
	imagePrompts    []string
}

func (f *fakeCreative) BrainstormCharacters(ctx context.Context, count int, existing []string) ([]client.CharacterIdea, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.brainstormCalls++
	if count > len(f.ideas) {
		count = len(f.ideas)
	}
	return f.ideas[:count], nil
}

func (f *fakeCreative) GenerateText(ctx context.Context, prompt string) (string, error) {
	return "a bright synth pop track at 128 bpm", nil
}

func (f *fakeCreative) GenerateImage(ctx context.Context, prompt string, refs ...*client.ImageData) (*client.ImageData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls++
	f.imagePrompts = append(f.imagePrompts, prompt)
	return &client.ImageData{MIMEType: "image/png", Data: []byte("png")}, nil
}

// fakeMotion returns a fixed result URL, optionally failing the first N
// submissions.
type fakeMotion struct {
	mu        sync.Mutex
	resultURL string
	failNext  int
	submits   int
	requests  []*client.MotionRequest
}

func (f *fakeMotion) SubmitMotionJob(ctx context.Context, req *client.MotionRequest) (*client.MotionSubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.requests = append(f.requests, req)
	if f.failNext > 0 {
		f.failNext--
		return nil, fmt.Errorf("motion vendor unavailable")
	}
	return &client.MotionSubmitResponse{RequestID: fmt.Sprintf("req-%d", f.submits), Status: "IN_QUEUE"}, nil
}

func (f *fakeMotion) GetMotionStatus(ctx context.Context, requestID string) (*client.MotionStatus, error) {
	return &client.MotionStatus{Status: "COMPLETED", RequestID: requestID}, nil
}

func (f *fakeMotion) GetMotionResult(ctx context.Context, requestID string) (*client.MotionResult, error) {
	var r client.MotionResult
	r.Video.URL = f.resultURL
	return &r, nil
}

func (f *fakeMotion) PollMotionResult(ctx context.Context, requestID string, interval, maxWait time.Duration) (*client.MotionResult, error) {
	return f.GetMotionResult(ctx, requestID)
}

// fakeMusic returns a short canned track.
type fakeMusic struct{}

func (f *fakeMusic) GenerateTrack(ctx context.Context, req *client.TrackRequest) (*client.TrackResult, error) {
	return &client.TrackResult{Audio: []byte("mp3"), MIMEType: "audio/mpeg"}, nil
}

// fakeCompositor echoes back output keys as URLs. Extracted frames land in
// the fake storage so later stages can read them back.
type fakeCompositor struct {
	mu           sync.Mutex
	storage      *fakeStorage
	composeCalls int
	remixCalls   int
	frameCalls   int
	composeReqs  []*client.ComposeRequest
}

func (f *fakeCompositor) Compose(ctx context.Context, req *client.ComposeRequest) (*client.ComposeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composeCalls++
	f.composeReqs = append(f.composeReqs, req)
	return &client.ComposeResponse{OutputURL: "gs://test/" + req.OutputKey}, nil
}

func (f *fakeCompositor) ExtractFrame(ctx context.Context, req *client.FrameRequest) (*client.FrameResponse, error) {
	f.mu.Lock()
	f.frameCalls++
	f.mu.Unlock()
	if f.storage != nil {
		f.storage.mu.Lock()
		f.storage.objects[req.OutputKey] = []byte("png")
		f.storage.mu.Unlock()
	}
	return &client.FrameResponse{OutputURL: "gs://test/" + req.OutputKey}, nil
}

func (f *fakeCompositor) ConcatRemix(ctx context.Context, req *client.RemixRequest) (*client.RemixResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remixCalls++
	return &client.RemixResponse{OutputURL: "gs://test/" + req.OutputKey}, nil
}

func (f *fakeCompositor) HealthCheck(ctx context.Context) error { return nil }

// fakeStorage is an in-memory client.StorageClient.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return f.GetPublicURL(key), nil
}

func (f *fakeStorage) Download(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return bytes.Clone(data), nil
}

func (f *fakeStorage) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (f *fakeStorage) GetPublicURL(key string) string {
	return "gs://test/" + key
}
