// Package job defines the job record shared by every state store tier and
// the pipeline stages. Serialization and field merging live here so tiers
// never reimplement them.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Stage names a phase within the pipeline.
type Stage string

const (
	StageExtracting Stage = "extracting"
	StageAnalyzing  Stage = "analyzing"
	StageReferences Stage = "references"
	StageCitations  Stage = "citations"
	StageComplete   Stage = "complete"
)

// Record is one document's end-to-end pipeline execution.
// Mutated only by the owning worker; pollers read it.
type Record struct {
	ID         string `json:"id"`
	Status     Status `json:"status"`
	Stage      Stage  `json:"stage,omitempty"`
	StageLabel string `json:"stage_label,omitempty"`
	Progress   int    `json:"progress"`
	Error      string `json:"error,omitempty"`

	// Persisted upload reference. UploadKey is resolvable through the
	// uploads store; InputFilename is the name the client sent.
	InputFilename string `json:"input_filename,omitempty"`
	UploadKey     string `json:"upload_key,omitempty"`
	ForceOCR      bool   `json:"force_ocr"`

	// Result is present only when Status is complete.
	Result *Analysis `json:"result,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`

	// ResumeStarted guards the staleness-triggered resume so a stuck job
	// is re-launched at most once automatically.
	ResumeStarted bool `json:"resume_started"`
}

// NewRecord creates a waiting record for a fresh upload.
func NewRecord(filename, uploadKey string, forceOCR bool) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:            NewID(),
		Status:        StatusWaiting,
		Progress:      0,
		InputFilename: filename,
		UploadKey:     uploadKey,
		ForceOCR:      forceOCR,
		CreatedAt:     now,
		UpdatedAt:     now,
		HeartbeatAt:   now,
	}
}

// NewID returns a fresh job identifier.
func NewID() string {
	return "job_" + uuid.NewString()
}

// Update is a partial set of record fields. Nil pointers mean "leave as is".
type Update struct {
	Status        *Status
	Stage         *Stage
	StageLabel    *string
	Progress      *int
	Error         *string
	Result        *Analysis
	Heartbeat     bool
	ResumeStarted *bool
}

// Apply merges an update into the record, stamping UpdatedAt and, when
// requested, HeartbeatAt.
func (r *Record) Apply(u Update) {
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.Stage != nil {
		r.Stage = *u.Stage
	}
	if u.StageLabel != nil {
		r.StageLabel = *u.StageLabel
	}
	if u.Progress != nil {
		r.Progress = *u.Progress
	}
	if u.Error != nil {
		r.Error = *u.Error
	}
	if u.Result != nil {
		r.Result = u.Result
	}
	if u.ResumeStarted != nil {
		r.ResumeStarted = *u.ResumeStarted
	}
	now := time.Now().UTC()
	r.UpdatedAt = now
	if u.Heartbeat {
		r.HeartbeatAt = now
	}
}

// StageUpdate builds the update written on a normal stage transition.
func StageUpdate(stage Stage, label string, progress int) Update {
	status := StatusProcessing
	return Update{
		Status:     &status,
		Stage:      &stage,
		StageLabel: &label,
		Progress:   &progress,
		Heartbeat:  true,
	}
}

// CompleteUpdate builds the terminal update for a successful job.
func CompleteUpdate(result *Analysis) Update {
	status := StatusComplete
	stage := StageComplete
	label := "Analysis complete"
	progress := 100
	empty := ""
	return Update{
		Status:     &status,
		Stage:      &stage,
		StageLabel: &label,
		Progress:   &progress,
		Error:      &empty,
		Result:     result,
		Heartbeat:  true,
	}
}

// ErrorUpdate builds the terminal update for a failed job. The message is
// recorded verbatim for the status endpoint.
func ErrorUpdate(err error) Update {
	status := StatusError
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Update{
		Status:    &status,
		Error:     &msg,
		Heartbeat: true,
	}
}

// Stale reports whether a processing job's heartbeat is older than the
// threshold.
func (r *Record) Stale(now time.Time, threshold time.Duration) bool {
	return r.Status == StatusProcessing && now.Sub(r.HeartbeatAt) > threshold
}

// Resumable reports whether the staleness monitor may re-launch this job.
func (r *Record) Resumable(now time.Time, threshold time.Duration) bool {
	return r.Stale(now, threshold) && r.UploadKey != "" && !r.ResumeStarted
}

// Validate checks the record's internal invariants. Used by tests and by the
// pipeline before marking a job complete.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("job record missing id")
	}
	if r.Progress < 0 || r.Progress > 100 {
		return fmt.Errorf("job %s: progress %d out of range", r.ID, r.Progress)
	}
	if r.Status == StatusComplete && r.Result != nil {
		return r.Result.Validate()
	}
	return nil
}
