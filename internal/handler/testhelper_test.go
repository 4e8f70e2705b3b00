package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/dse120071750/anime-dance-publisher/internal/client"
	"github.com/dse120071750/anime-dance-publisher/internal/config"
	"github.com/dse120071750/anime-dance-publisher/internal/middleware"
	"github.com/dse120071750/anime-dance-publisher/internal/model"
	"github.com/dse120071750/anime-dance-publisher/internal/registry"
	"github.com/dse120071750/anime-dance-publisher/internal/service"
)

const testAPIKey = "test-api-key"

// testApp bundles the Fiber app with the fakes behind it so tests can both
// drive HTTP and inspect side effects.
type testApp struct {
	app       *fiber.App
	jobs      *memJobStore
	registry  *memRegistry
	enqueuer  *fakeEnqueuer
	instagram *fakeReels
	tiktok    *fakeTikTok
}

// setupApp builds the same route tree as main.go, wired to in-memory
// stores and fake publishers.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	jobs := newMemJobStore()
	reg := newMemRegistry()
	enq := &fakeEnqueuer{}
	ig := &fakeReels{}
	tt := &fakeTikTok{}

	cfg := config.PipelineConfig{
		MaxCount:       10,
		DefaultStyleID: "kpop_dance",
		DanceVersions:  3,
		JobTimeout:     3600,
	}

	validate := validator.New()
	pipelineService := service.NewPipelineService(jobs, reg, enq, cfg)
	publishService := service.NewPublishService(reg, ig, tt, &fakeSigner{})

	pipelineHandler := NewPipelineHandler(pipelineService, validate)
	publishHandler := NewPublishHandler(publishService, validate)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", middleware.APIKeyAuth(testAPIKey))

	pl := api.Group("/pipeline")
	pl.Post("/run", pipelineHandler.Run)
	pl.Get("/status/:jobId", pipelineHandler.Status)
	pl.Get("/jobs", pipelineHandler.List)
	pl.Post("/cancel/:jobId", pipelineHandler.Cancel)
	pl.Get("/characters", pipelineHandler.Characters)

	publish := api.Group("/publish")
	publish.Post("/instagram", publishHandler.Instagram)
	publish.Post("/tiktok", publishHandler.TikTok)

	return &testApp{
		app:       app,
		jobs:      jobs,
		registry:  reg,
		enqueuer:  enq,
		instagram: ig,
		tiktok:    tt,
	}
}

func doRequest(app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + testAPIKey,
	})
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(b, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, b)
	}
	return result
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertErrorCode(t *testing.T, result map[string]interface{}, code string) {
	t.Helper()
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object in response, got %v", result)
	}
	if errObj["code"] != code {
		t.Errorf("expected error code %s, got %v", code, errObj["code"])
	}
}

// memJobStore is an in-memory JobStore with the same transition rules as
// the real backends.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.PipelineJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*model.PipelineJob)}
}

func (m *memJobStore) Create(_ context.Context, job *model.PipelineJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.JobID] = &cp
	return nil
}

func (m *memJobStore) Get(_ context.Context, jobID string) (*model.PipelineJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobStore) UpdateStatus(_ context.Context, jobID string, status model.JobStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return service.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return service.ErrJobTerminal
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
	job.UpdatedAt = now
	return nil
}

func (m *memJobStore) UpdateProgress(_ context.Context, jobID string, patch model.ProgressPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return service.ErrJobNotFound
	}
	patch.Apply(&job.Progress)
	return nil
}

func (m *memJobStore) AddResult(_ context.Context, jobID string, result model.CharacterResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return service.ErrJobNotFound
	}
	job.Results = append(job.Results, result)
	return nil
}

func (m *memJobStore) AddError(_ context.Context, jobID string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return service.ErrJobNotFound
	}
	job.Errors = append(job.Errors, model.JobError{Message: message, Timestamp: time.Now().UTC()})
	return nil
}

func (m *memJobStore) List(_ context.Context, status model.JobStatus, limit int) ([]model.PipelineJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PipelineJob
	for _, job := range m.jobs {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobStore) Cancel(ctx context.Context, jobID string) (*model.PipelineJob, error) {
	if err := m.UpdateStatus(ctx, jobID, model.JobStatusCancelled, "cancelled by user"); err != nil {
		return nil, err
	}
	return m.Get(ctx, jobID)
}

// fakeEnqueuer records enqueued tasks instead of talking to Redis.
type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	fail  bool
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("queue unavailable")
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

// memRegistry is a minimal in-memory character store.
type memRegistry struct {
	mu      sync.Mutex
	records map[string]*model.CharacterRecord
}

func newMemRegistry() *memRegistry {
	return &memRegistry{records: make(map[string]*model.CharacterRecord)}
}

func (m *memRegistry) seed(rec *model.CharacterRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
}

func (m *memRegistry) List(_ context.Context) ([]*model.CharacterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.CharacterRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRegistry) Get(_ context.Context, id string) (*model.CharacterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *memRegistry) Find(_ context.Context, query string) (*model.CharacterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[query]; ok {
		return rec.Clone(), nil
	}
	var matches []string
	q := strings.ToLower(query)
	for id, rec := range m.records {
		if strings.Contains(strings.ToLower(id), q) || strings.Contains(strings.ToLower(rec.Name), q) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return nil, registry.ErrNotFound
	case 1:
		return m.records[matches[0]].Clone(), nil
	default:
		sort.Strings(matches)
		return nil, &registry.AmbiguousError{Query: query, Matches: matches}
	}
}

func (m *memRegistry) Register(_ context.Context, name, anime string, meta map[string]string) (*model.CharacterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if strings.EqualFold(rec.Name, name) && strings.EqualFold(rec.Anime, anime) {
			return rec.Clone(), nil
		}
	}
	rec := &model.CharacterRecord{
		ID:          model.NewCharacterID(name, time.Now()),
		Name:        name,
		Anime:       anime,
		Metadata:    meta,
		LastUpdated: time.Now().UTC(),
	}
	m.records[rec.ID] = rec
	return rec.Clone(), nil
}

func (m *memRegistry) UpsertAsset(_ context.Context, id, variantTitle string, patch model.AssetPatch) (*model.CharacterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, registry.ErrNotFound
	}
	v := rec.Variant(variantTitle)
	if v == nil {
		rec.Assets = append(rec.Assets, model.AssetVariant{Title: variantTitle})
		v = &rec.Assets[len(rec.Assets)-1]
	}
	patch.Apply(v)
	return rec.Clone(), nil
}

func (m *memRegistry) SetPrompt(_ context.Context, id, key, prompt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return registry.ErrNotFound
	}
	if rec.Prompts == nil {
		rec.Prompts = make(map[string]string)
	}
	rec.Prompts[key] = prompt
	return nil
}

// fakeReels records the last reel publish call.
type fakeReels struct {
	lastURL     string
	lastCaption string
	fail        bool
}

func (f *fakeReels) PublishReel(_ context.Context, videoURL, caption string) (*client.ReelPublishResult, error) {
	if f.fail {
		return nil, fmt.Errorf("container processing failed")
	}
	f.lastURL = videoURL
	f.lastCaption = caption
	return &client.ReelPublishResult{ContainerID: "container-1", MediaID: "media-1"}, nil
}

type fakeTikTok struct {
	lastURL string
	fail    bool
}

func (f *fakeTikTok) PublishVideo(_ context.Context, videoURL, caption string) (*client.TikTokPublishResult, error) {
	if f.fail {
		return nil, fmt.Errorf("publish rejected")
	}
	f.lastURL = videoURL
	return &client.TikTokPublishResult{PublishID: "publish-1", Status: "PUBLISH_COMPLETE"}, nil
}

// fakeSigner implements the storage interface far enough for publish tests.
type fakeSigner struct{}

func (f *fakeSigner) Upload(_ context.Context, key string, _ io.Reader, _ string) (string, error) {
	return "gs://test/" + key, nil
}

func (f *fakeSigner) Download(_ context.Context, key string) ([]byte, error) {
	return nil, fmt.Errorf("object %s not found", key)
}

func (f *fakeSigner) List(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

func (f *fakeSigner) GetSignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (f *fakeSigner) GetPublicURL(key string) string {
	return "gs://test/" + key
}
