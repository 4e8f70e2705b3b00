package model

// PipelineOptions is the echo of a run request stored on the job document.
type PipelineOptions struct {
	Count             int      `json:"count" firestore:"count"`
	StyleID           string   `json:"style_id" firestore:"style_id"`
	ReferenceVideos   []string `json:"reference_videos,omitempty" firestore:"reference_videos,omitempty"`
	WebhookURL        string   `json:"webhook_url,omitempty" firestore:"webhook_url,omitempty"`
	SkipExisting      bool     `json:"skip_existing" firestore:"skip_existing"`
	GenerateVariants  bool     `json:"generate_variants" firestore:"generate_variants"`
	CreateSoundtracks bool     `json:"create_soundtracks" firestore:"create_soundtracks"`
	ApplyWatermark    bool     `json:"apply_watermark" firestore:"apply_watermark"`
	CloudSync         bool     `json:"cloud_sync" firestore:"cloud_sync"`
}

// RunRequest is the body of POST /pipeline/run.
type RunRequest struct {
	Count           int             `json:"count" validate:"required,min=1"`
	StyleID         string          `json:"style_id,omitempty"`
	ReferenceVideos []string        `json:"reference_videos,omitempty"`
	WebhookURL      string          `json:"webhook_url,omitempty" validate:"omitempty,url"`
	Options         *RequestOptions `json:"options,omitempty"`
}

// RequestOptions toggles optional pipeline phases. Nil pointers fall back
// to the configured defaults.
type RequestOptions struct {
	SkipExisting      *bool `json:"skip_existing,omitempty"`
	GenerateVariants  *bool `json:"generate_variants,omitempty"`
	CreateSoundtracks *bool `json:"create_soundtracks,omitempty"`
	ApplyWatermark    *bool `json:"apply_watermark,omitempty"`
	CloudSync         *bool `json:"cloud_sync,omitempty"`
}

// RunResponse is returned with 202 Accepted; the caller polls status.
type RunResponse struct {
	JobID             string    `json:"job_id"`
	Status            JobStatus `json:"status"`
	EstimatedDuration string    `json:"estimated_duration"`
}

// JobListResponse is the body of GET /pipeline/jobs.
type JobListResponse struct {
	Jobs  []PipelineJob `json:"jobs"`
	Count int           `json:"count"`
}

// CancelResponse is the body of POST /pipeline/cancel/:job_id.
type CancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"job_id"`
	Status  JobStatus `json:"status"`
}

// CharacterSummary is the trimmed character shape listed by the API.
type CharacterSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Anime      string `json:"anime"`
	AssetCount int    `json:"asset_count"`
	UpdatedAt  string `json:"updated_at"`
}

// CharacterListResponse is the body of GET /pipeline/characters.
type CharacterListResponse struct {
	Characters []CharacterSummary `json:"characters"`
	Count      int                `json:"count"`
}

// WebhookPayload is POSTed to the caller-supplied webhook URL when a job
// reaches a terminal status. Delivery is best-effort.
type WebhookPayload struct {
	JobID           string            `json:"job_id"`
	Status          JobStatus         `json:"status"`
	TotalCharacters int               `json:"total_characters"`
	Results         []CharacterResult `json:"results,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// WebSocket message types for the job progress stream.
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage is the bare envelope used for client keep-alive frames.
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage is broadcast to job subscribers on progress updates.
type WSProgressMessage struct {
	Type             string    `json:"type"`
	JobID            string    `json:"jobId"`
	Status           JobStatus `json:"status"`
	CurrentCharacter string    `json:"currentCharacter,omitempty"`
	CurrentStage     string    `json:"currentStage,omitempty"`
	PercentComplete  int       `json:"percentComplete"`
}

// WSCompleteMessage is broadcast once when a job reaches a terminal status.
type WSCompleteMessage struct {
	Type    string            `json:"type"`
	JobID   string            `json:"jobId"`
	Status  JobStatus         `json:"status"`
	Results []CharacterResult `json:"results,omitempty"`
}

// WSErrorMessage is broadcast when a job records an error.
type WSErrorMessage struct {
	Type    string `json:"type"`
	JobID   string `json:"jobId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
