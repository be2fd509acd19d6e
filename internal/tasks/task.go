// Package tasks runs at most one background analysis job per subject on a
// bounded worker pool and hands each result back exactly once.
package tasks

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/fintellix/internal/providers"
	"github.com/dohr-michael/fintellix/internal/subjects"
)

// Kind selects the prompt used for a job.
type Kind string

const (
	KindAnalysis    Kind = "analysis"
	KindCompetitors Kind = "competitors"
)

// State is the lifecycle position of a subject's job.
type State string

const (
	StateIdle     State = "idle"
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// Terminal reports whether s is Complete or Failed.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Job describes work to submit for a subject.
type Job struct {
	Kind        Kind
	Query       string
	Competitors []string // KindCompetitors only
	Selection   providers.Selection
}

// Task is one job owned by the scheduler.
type Task struct {
	ID          string              `json:"id"`
	Subject     subjects.Key        `json:"subject"`
	Kind        Kind                `json:"kind"`
	Query       string              `json:"query"`
	Competitors []string            `json:"competitors,omitempty"`
	Selection   providers.Selection `json:"selection"`
	State       State               `json:"state"`
	CreatedAt   time.Time           `json:"created_at"`
	StartedAt   time.Time           `json:"started_at,omitzero"`
}

// Result is the terminal outcome of a task, handed out by value.
type Result struct {
	TaskID      string              `json:"task_id"`
	Subject     subjects.Key        `json:"subject"`
	Kind        Kind                `json:"kind"`
	Query       string              `json:"query"`
	Selection   providers.Selection `json:"selection"`
	State       State               `json:"state"`
	Response    string              `json:"response,omitempty"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt time.Time           `json:"completed_at"`
}

// Failed reports whether the job ended in error.
func (r Result) Failed() bool { return r.State == StateFailed }

// Duration is the time from submission to completion.
func (r Result) Duration() time.Duration { return r.CompletedAt.Sub(r.CreatedAt) }

// Status is a non-blocking snapshot of one subject.
type Status struct {
	Subject subjects.Key `json:"subject"`
	State   State        `json:"state"`
	TaskID  string       `json:"task_id,omitempty"`
	Result  *Result      `json:"result,omitempty"` // terminal states only
}

// Busy reports whether a job is queued or executing.
func (s Status) Busy() bool {
	return s.State == StatePending || s.State == StateRunning
}

// GenerateTaskID returns a short unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}
