// Package model defines the core data types shared across the jobcore engine.
package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// JobStatus represents the current state of a job in its lifecycle.
type JobStatus string

const (
	// JobStatusPending indicates a job has been accepted but not yet picked up.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being executed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job finished successfully. Terminal.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job finished unsuccessfully. Terminal.
	JobStatusFailed JobStatus = "failed"
)

// MaxMessageLen bounds the stored status/error message in bytes.
const MaxMessageLen = 1024

// Valid returns true if the JobStatus is one of the known states.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning ||
		s == JobStatusCompleted || s == JobStatusFailed
}

// Terminal returns true for states that permit no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal
// state-machine transition. Every writer goes through this single function;
// the repository mirrors the same rules in its conditional UPDATEs.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		// Timeout reconciliation may fail a job that never started.
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusCompleted, JobStatusFailed:
		return false
	default:
		return false
	}
}

// Job is the single first-class entity tracked by the engine. Params and
// Result are opaque payloads stored verbatim; the core never interprets them.
type Job struct {
	ID          string          `json:"id"                     db:"id"`
	TenantID    string          `json:"tenant_id"              db:"tenant_id"`
	Type        string          `json:"type"                   db:"type"`
	Status      JobStatus       `json:"status"                 db:"status"`
	Params      json.RawMessage `json:"params"                 db:"params"`
	Result      json.RawMessage `json:"result,omitempty"       db:"result"`
	Message     string          `json:"message,omitempty"      db:"message"`
	StartedAt   *time.Time      `json:"started_at,omitempty"   db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time       `json:"created_at"             db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"             db:"updated_at"`
}

// SubmitJobRequest represents a request to submit a new job.
type SubmitJobRequest struct {
	TenantID string          `json:"tenant_id"`
	Type     string          `json:"type"`
	Params   json.RawMessage `json:"params"`
}

// Validate validates the structural fields of a SubmitJobRequest.
// Type-specific parameter validation happens against the registry.
func (r *SubmitJobRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(r.Type) == "" {
		return errors.New("job type is required")
	}
	if len(r.Params) == 0 {
		return errors.New("params is required")
	}
	return nil
}

// JobStatusView is the polling payload returned by the status reader.
type JobStatusView struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      JobStatus  `json:"status"`
	Message     string     `json:"message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobResultView extends the status payload with the result field. Result is
// null for every status except completed; callers polling early get a null
// result, never an error.
type JobResultView struct {
	JobStatusView
	Result json.RawMessage `json:"result"`
}

// StatusView projects a Job into its polling representation.
func (j *Job) StatusView() JobStatusView {
	return JobStatusView{
		ID:          j.ID,
		Type:        j.Type,
		Status:      j.Status,
		Message:     j.Message,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// ResultView projects a Job into its result representation. The result
// payload is surfaced only for completed jobs regardless of what the row
// carries.
func (j *Job) ResultView() JobResultView {
	view := JobResultView{JobStatusView: j.StatusView()}
	if j.Status == JobStatusCompleted {
		view.Result = j.Result
	}
	return view
}

// TruncateMessage bounds a message to MaxMessageLen bytes without splitting
// a UTF-8 sequence.
func TruncateMessage(msg string) string {
	if len(msg) <= MaxMessageLen {
		return msg
	}
	cut := msg[:MaxMessageLen]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// JobStats represents per-tenant counts of jobs in each state.
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
