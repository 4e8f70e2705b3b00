package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dse120071750/anime-dance-publisher/internal/client"
	"github.com/dse120071750/anime-dance-publisher/internal/config"
	"github.com/dse120071750/anime-dance-publisher/internal/model"
)

type testEnv struct {
	executor   *Executor
	registry   *fakeRegistry
	jobs       *fakeJobs
	creative   *fakeCreative
	motion     *fakeMotion
	compositor *fakeCompositor
	storage    *fakeStorage
	videoSrv   *httptest.Server
}

func setupExecutor(t *testing.T, job *model.PipelineJob) *testEnv {
	t.Helper()

	videoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4"))
	}))
	t.Cleanup(videoSrv.Close)

	env := &testEnv{
		registry: newFakeRegistry(),
		jobs:     newFakeJobs(job),
		creative: &fakeCreative{ideas: []client.CharacterIdea{
			{Name: "Rem", Anime: "Re:Zero"},
			{Name: "Asuka Langley", Anime: "Evangelion"},
			{Name: "Nezuko Kamado", Anime: "Demon Slayer"},
		}},
		motion:     &fakeMotion{resultURL: videoSrv.URL + "/out.mp4"},
		compositor: &fakeCompositor{},
		storage:    newFakeStorage(),
		videoSrv:   videoSrv,
	}
	env.compositor.storage = env.storage

	cfg := config.PipelineConfig{
		MaxCount:        10,
		DefaultStyleID:  "kpop_dance",
		DanceVersions:   1,
		ReferencePrefix: "anime_dance/references",
	}
	env.executor = NewExecutor(Deps{
		Registry:   env.registry,
		Jobs:       env.jobs,
		Creative:   env.creative,
		Motion:     env.motion,
		Music:      &fakeMusic{},
		Compositor: env.compositor,
		Storage:    env.storage,
	}, cfg, "anime_dance")
	return env
}

func newTestJob(opts model.PipelineOptions) *model.PipelineJob {
	return &model.PipelineJob{
		JobID:     "job-1",
		Status:    model.JobStatusQueued,
		Config:    opts,
		Progress:  model.JobProgress{TotalCharacters: opts.Count},
		CreatedAt: time.Now(),
	}
}

func TestRun_HappyPath(t *testing.T) {
	job := newTestJob(model.PipelineOptions{
		Count:           2,
		StyleID:         "kpop_dance",
		ReferenceVideos: []string{"https://refs.example/ref1.mp4", "https://refs.example/ref2.mp4"},
	})
	env := setupExecutor(t, job)

	if err := env.executor.Run(context.Background(), job.JobID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := env.jobs.Get(context.Background(), job.JobID)
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.Message)
	}
	if len(got.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got.Results))
	}
	for _, res := range got.Results {
		if res.Status != model.ResultStatusCompleted {
			t.Errorf("character %s: expected completed result, got %s", res.CharacterID, res.Status)
		}
		if res.DancesGenerated != 1 || res.DancesRequested != 1 {
			t.Errorf("character %s: expected 1/1 dances, got %d/%d", res.CharacterID, res.DancesGenerated, res.DancesRequested)
		}
		if res.Deliverable == "" {
			t.Errorf("character %s: missing deliverable", res.CharacterID)
		}
	}
	if got.Progress.PercentComplete != 100 {
		t.Errorf("expected 100%% progress, got %d", got.Progress.PercentComplete)
	}

	// Every stage output must have landed in the registry.
	recs, _ := env.registry.List(context.Background())
	if len(recs) != 2 {
		t.Fatalf("expected 2 registered characters, got %d", len(recs))
	}
	for _, rec := range recs {
		v := rec.Primary()
		if v == nil || v.AnimeImage == "" || v.CosplayImage == "" || v.DanceVideo == "" || v.Deliverable == "" {
			t.Errorf("character %s: incomplete primary variant: %+v", rec.ID, v)
		}
		if NextStage(v) != StageDone {
			t.Errorf("character %s: expected done, derived %s", rec.ID, NextStage(v))
		}
	}
}

func TestRun_EmptyReferencePoolFailsJob(t *testing.T) {
	job := newTestJob(model.PipelineOptions{Count: 1})
	env := setupExecutor(t, job)
	// Storage holds no objects under the reference prefix.

	if err := env.executor.Run(context.Background(), job.JobID); err == nil {
		t.Fatal("expected error for empty reference pool")
	}

	got, _ := env.jobs.Get(context.Background(), job.JobID)
	if got.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.Message, "reference videos") {
		t.Errorf("failure message should mention reference videos, got %q", got.Message)
	}
}

func TestRun_ReferencePoolFromStorage(t *testing.T) {
	job := newTestJob(model.PipelineOptions{Count: 1})
	env := setupExecutor(t, job)
	env.storage.objects["anime_dance/references/ref1.mp4"] = []byte("mp4")
	env.storage.objects["anime_dance/references/notes.txt"] = []byte("x")

	if err := env.executor.Run(context.Background(), job.JobID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := env.jobs.Get(context.Background(), job.JobID)
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.Message)
	}
}

func TestRun_PartialResultOnDanceFailure(t *testing.T) {
	job := newTestJob(model.PipelineOptions{
		Count:           1,
		ReferenceVideos: []string{"https://refs.example/a.mp4", "https://refs.example/b.mp4", "https://refs.example/c.mp4"},
	})
	env := setupExecutor(t, job)
	env.executor.cfg.DanceVersions = 3
	env.motion.failNext = 1 // first version fails, two succeed

	if err := env.executor.Run(context.Background(), job.JobID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := env.jobs.Get(context.Background(), job.JobID)
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.Message)
	}
	if len(got.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got.Results))
	}
	res := got.Results[0]
	if res.Status != model.ResultStatusPartial {
		t.Errorf("expected partial result, got %s", res.Status)
	}
	if res.DancesGenerated != 2 || res.DancesRequested != 3 {
		t.Errorf("expected 2/3 dances, got %d/%d", res.DancesGenerated, res.DancesRequested)
	}
	if len(got.Errors) == 0 {
		t.Error("expected the failed version in the job errors")
	}
}

func TestRun_CharacterFailureDoesNotAbortBatch(t *testing.T) {
	job := newTestJob(model.PipelineOptions{
		Count:           2,
		ReferenceVideos: []string{"https://refs.example/a.mp4"},
	})
	env := setupExecutor(t, job)
	env.motion.failNext = 1 // first character's only dance fails

	if err := env.executor.Run(context.Background(), job.JobID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := env.jobs.Get(context.Background(), job.JobID)
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.Message)
	}
	if len(got.Results) != 1 {
		t.Errorf("expected 1 successful result, got %d", len(got.Results))
	}
	if len(got.Errors) == 0 {
		t.Error("expected the failed character in the job errors")
	}
}

func TestRun_ResumeSkipsImageStages(t *testing.T) {
	job := newTestJob(model.PipelineOptions{
		Count:           1,
		SkipExisting:    true,
		ReferenceVideos: []string{"https://refs.example/a.mp4"},
	})
	env := setupExecutor(t, job)

	// A previous run died between cosplay and dance.
	env.storage.objects["anime_dance/characters/rem_100/cosplay.png"] = []byte("png")
	env.registry.seed(&model.CharacterRecord{
		ID:    "rem_100",
		Name:  "Rem",
		Anime: "Re:Zero",
		Assets: []model.AssetVariant{{
			Title:        model.PrimaryVariantTitle,
			AnimeImage:   "gs://test/anime_dance/characters/rem_100/anime.png",
			CosplayImage: "gs://test/anime_dance/characters/rem_100/cosplay.png",
		}},
	})

	if err := env.executor.Run(context.Background(), job.JobID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if env.creative.brainstormCalls != 0 {
		t.Errorf("resume run should not brainstorm, got %d calls", env.creative.brainstormCalls)
	}
	// The pose-alignment edit before the dance stage still runs; the anime
	// and cosplay images themselves must not be regenerated.
	for _, p := range env.creative.imagePrompts {
		if strings.Contains(p, "illustration") {
			t.Errorf("resume run regenerated an image stage, prompt: %q", p)
		}
	}

	rec, err := env.registry.Get(context.Background(), "rem_100")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v := rec.Primary(); v == nil || v.DanceVideo == "" {
		t.Error("resumed character should have a dance video")
	}
}

func TestRun_CancellationStopsBetweenCharacters(t *testing.T) {
	job := newTestJob(model.PipelineOptions{
		Count:           3,
		ReferenceVideos: []string{"https://refs.example/a.mp4"},
	})
	env := setupExecutor(t, job)
	env.jobs.cancelAfterResults = 1

	if err := env.executor.Run(context.Background(), job.JobID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := env.jobs.Get(context.Background(), job.JobID)
	if got.Status != model.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if len(got.Results) != 1 {
		t.Errorf("expected exactly 1 result before cancellation, got %d", len(got.Results))
	}
}

func TestRun_SoundtrackAndRemix(t *testing.T) {
	job := newTestJob(model.PipelineOptions{
		Count:             1,
		StyleID:           "kpop_dance",
		ReferenceVideos:   []string{"https://refs.example/a.mp4", "https://refs.example/b.mp4"},
		GenerateVariants:  true,
		CreateSoundtracks: true,
		ApplyWatermark:    true,
	})
	env := setupExecutor(t, job)
	env.executor.cfg.DanceVersions = 2

	if err := env.executor.Run(context.Background(), job.JobID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := env.jobs.Get(context.Background(), job.JobID)
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.Message)
	}
	if env.compositor.remixCalls != 1 {
		t.Errorf("expected 1 remix call, got %d", env.compositor.remixCalls)
	}
	// One compose for the generated soundtrack, one keeping the original audio.
	if env.compositor.composeCalls != 2 {
		t.Errorf("expected 2 compose calls, got %d", env.compositor.composeCalls)
	}

	recs, _ := env.registry.List(context.Background())
	if len(recs) != 1 {
		t.Fatalf("expected 1 character, got %d", len(recs))
	}
	v := recs[0].Primary()
	if v == nil || v.Remixes["remix"] == "" {
		t.Error("expected remix url on primary variant")
	}
	if v.Deliverable == v.DanceVideo {
		t.Error("composed deliverable should differ from the raw dance video")
	}
	if _, ok := env.storage.objects["anime_dance/characters/"+recs[0].ID+"/soundtrack.mp3"]; !ok {
		t.Error("expected soundtrack object in storage")
	}
}

func TestRun_SoundtrackVersionsRecordedSeparately(t *testing.T) {
	job := newTestJob(model.PipelineOptions{
		Count:             1,
		StyleID:           "kpop_dance",
		ReferenceVideos:   []string{"https://refs.example/a.mp4"},
		CreateSoundtracks: true,
	})
	env := setupExecutor(t, job)

	if err := env.executor.Run(context.Background(), job.JobID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	recs, _ := env.registry.List(context.Background())
	if len(recs) != 1 {
		t.Fatalf("expected 1 character, got %d", len(recs))
	}
	v := recs[0].Primary()
	if v == nil {
		t.Fatal("missing primary variant")
	}
	scored, original := v.Remixes["kpop_dance"], v.Remixes["original"]
	if scored == "" || original == "" {
		t.Fatalf("expected both soundtrack versions, got %v", v.Remixes)
	}
	if scored == original {
		t.Error("soundtrack versions should be distinct outputs")
	}
	if v.Deliverable != scored {
		t.Errorf("deliverable should be the scored version, got %q", v.Deliverable)
	}

	if len(env.compositor.composeReqs) != 2 {
		t.Fatalf("expected 2 compose calls, got %d", len(env.compositor.composeReqs))
	}
	if env.compositor.composeReqs[0].AudioURL == "" {
		t.Error("first compose should carry the generated track")
	}
	if env.compositor.composeReqs[1].AudioURL != "" {
		t.Error("second compose should keep the reference's original audio")
	}
}

func TestRun_AlignsPoseBeforeMotionTransfer(t *testing.T) {
	job := newTestJob(model.PipelineOptions{
		Count:           1,
		ReferenceVideos: []string{"https://refs.example/a.mp4"},
	})
	env := setupExecutor(t, job)

	if err := env.executor.Run(context.Background(), job.JobID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	recs, _ := env.registry.List(context.Background())
	if len(recs) != 1 {
		t.Fatalf("expected 1 character, got %d", len(recs))
	}
	charID := recs[0].ID

	if env.compositor.frameCalls != 1 {
		t.Fatalf("expected 1 frame extraction, got %d", env.compositor.frameCalls)
	}
	alignedKey := "anime_dance/characters/" + charID + "/aligned_1.png"
	if _, ok := env.storage.objects[alignedKey]; !ok {
		t.Errorf("expected aligned image at %s", alignedKey)
	}

	if len(env.motion.requests) != 1 {
		t.Fatalf("expected 1 motion submission, got %d", len(env.motion.requests))
	}
	req := env.motion.requests[0]
	if req.ImageURL != "https://signed.example/"+alignedKey {
		t.Errorf("motion transfer should start from the aligned image, got %q", req.ImageURL)
	}
	if req.VideoURL != "https://refs.example/a.mp4" {
		t.Errorf("unexpected reference video %q", req.VideoURL)
	}

	if env.registry.prompts[charID+"/alignment_primary"] == "" {
		t.Error("expected the alignment prompt to be recorded on the character")
	}
}
