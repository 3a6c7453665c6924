package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskInput is one unit of work within a job. The payload is opaque to the
// orchestration core; only the task executor interprets it.
type TaskInput struct {
	ID       string          `json:"id"`
	Priority string          `json:"priority,omitempty"`
	DedupKey string          `json:"dedup_key,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Key returns the identity signature used to collapse duplicate submissions.
// Falls back to the task ID when no explicit dedup key was provided.
func (t TaskInput) Key() string {
	if t.DedupKey != "" {
		return t.DedupKey
	}
	return t.ID
}

// TaskOutcome records the result of exactly one task. Immutable once produced.
// Retries counts attempts beyond the first; a task that succeeded on the
// first try has Retries == 0.
type TaskOutcome struct {
	Input   TaskInput       `json:"input"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Retries int             `json:"retries,omitempty"`
}

// Job is one batch-execution request with aggregate lifecycle state. It is
// owned and mutated exclusively by the jobs.Manager; everyone else sees
// snapshots.
type Job struct {
	ID          uuid.UUID     `json:"id"`
	Status      string        `json:"status"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Results     []TaskOutcome `json:"results"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`

	// RecordID is the batch record this job's results were persisted under.
	RecordID string `json:"record_id,omitempty"`
	// SaveError is set when persisting the batch record failed. A job with a
	// save error is still Completed; the condition is reported separately
	// from task failures.
	SaveError string `json:"save_error,omitempty"`
	// ApplyError is set when the post-run apply step failed.
	ApplyError string `json:"apply_error,omitempty"`
	// InitError is set when the job failed before any task ran.
	InitError string `json:"init_error,omitempty"`
}

// Snapshot returns a copy safe to hand out while the job is still running.
// The results slice is copied; outcomes themselves are immutable.
func (j *Job) Snapshot() *Job {
	cp := *j
	cp.Results = make([]TaskOutcome, len(j.Results))
	copy(cp.Results, j.Results)
	return &cp
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// BatchRecord is the persisted form of one completed scheduler run. Records
// are never mutated after write; later runs supersede but never overwrite
// earlier ones.
type BatchRecord struct {
	Timestamp time.Time     `json:"timestamp"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Results   []TaskOutcome `json:"results"`
}

// NewBatchRecord builds a record for the given outcomes with counts derived
// from the success flags.
func NewBatchRecord(outcomes []TaskOutcome) BatchRecord {
	rec := BatchRecord{
		Timestamp: time.Now().UTC(),
		Total:     len(outcomes),
		Results:   outcomes,
	}
	for _, o := range outcomes {
		if o.Success {
			rec.Succeeded++
		} else {
			rec.Failed++
		}
	}
	return rec
}

// FailedOutcomes filters a record down to the entries that did not succeed.
func (r *BatchRecord) FailedOutcomes() []TaskOutcome {
	var failed []TaskOutcome
	for _, o := range r.Results {
		if !o.Success {
			failed = append(failed, o)
		}
	}
	return failed
}
