package model

import "time"

// JobStatus is the lifecycle state of a pipeline job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further status transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// PipelineJob is one invocation of the orchestrator. Exactly one worker
// owns writes to the mutable fields; the HTTP layer only reads status or
// flips it to cancelled.
type PipelineJob struct {
	JobID       string            `json:"job_id" firestore:"job_id"`
	Status      JobStatus         `json:"status" firestore:"status"`
	Message     string            `json:"message,omitempty" firestore:"message,omitempty"`
	Config      PipelineOptions   `json:"config" firestore:"config"`
	Progress    JobProgress       `json:"progress" firestore:"progress"`
	Results     []CharacterResult `json:"results" firestore:"results"`
	Errors      []JobError        `json:"errors" firestore:"errors"`
	CreatedAt   time.Time         `json:"created_at" firestore:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" firestore:"updated_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty" firestore:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty" firestore:"completed_at,omitempty"`
}

// JobProgress tracks where the worker currently is inside a job.
type JobProgress struct {
	TotalCharacters  int    `json:"total_characters" firestore:"total_characters"`
	Completed        int    `json:"completed" firestore:"completed"`
	CurrentCharacter string `json:"current_character,omitempty" firestore:"current_character,omitempty"`
	CurrentStage     string `json:"current_stage,omitempty" firestore:"current_stage,omitempty"`
	PercentComplete  int    `json:"percent_complete" firestore:"percent_complete"`
}

// ProgressPatch is a merge-patch applied to JobProgress; only provided
// fields are touched.
type ProgressPatch struct {
	CurrentCharacter *string
	CurrentStage     *string
	Completed        *int
	PercentComplete  *int
}

// Apply merges the patch into the progress sub-object.
func (p ProgressPatch) Apply(pr *JobProgress) {
	if p.CurrentCharacter != nil {
		pr.CurrentCharacter = *p.CurrentCharacter
	}
	if p.CurrentStage != nil {
		pr.CurrentStage = *p.CurrentStage
	}
	if p.Completed != nil {
		pr.Completed = *p.Completed
	}
	if p.PercentComplete != nil {
		pr.PercentComplete = *p.PercentComplete
	}
}

// CharacterResult is one entry in a job's append-only results list.
type CharacterResult struct {
	CharacterID     string `json:"character_id" firestore:"character_id"`
	Name            string `json:"name" firestore:"name"`
	Anime           string `json:"anime,omitempty" firestore:"anime,omitempty"`
	Status          string `json:"status" firestore:"status"`
	DancesGenerated int    `json:"dances_generated" firestore:"dances_generated"`
	DancesRequested int    `json:"dances_requested" firestore:"dances_requested"`
	Deliverable     string `json:"deliverable,omitempty" firestore:"deliverable,omitempty"`
}

// Result statuses. A character that produced fewer dance variants than
// requested is recorded as partial, not as an error.
const (
	ResultStatusCompleted = "completed"
	ResultStatusPartial   = "partial"
)

// JobError is one entry in a job's append-only errors list.
type JobError struct {
	Message   string    `json:"message" firestore:"message"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
}
