package domain

import (
	"time"

	"github.com/alex-galey/mission-mcp/internal/shared/binding"
)

// JobStatus is the lifecycle state of a chain execution.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the job can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s != JobStatusRunning
}

// Job is the execution record of one chain run. The job id doubles as the session id.
type Job struct {
	ID         string          `json:"id"`
	ChainID    string          `json:"chain_id"`
	Status     JobStatus       `json:"status"`
	PhaseIndex int             `json:"phase_index"`
	Phase      string          `json:"phase,omitempty"`
	StepIndex  int             `json:"step_index"`
	Progress   float64         `json:"progress"`
	State      []binding.Asset `json:"state"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// JobConfig describes one synchronous run. An empty JobID gets a generated id.
// Stream is optional; events are always kept in the tracker's event log.
type JobConfig struct {
	JobID  string
	Chain  AgentWorkflowChain
	Inputs map[string]any
	Stream *EventStream
}

// JobResult is the outcome of a run.
type JobResult struct {
	JobID        string                    `json:"job_id"`
	Status       JobStatus                 `json:"status"`
	State        []binding.Asset           `json:"state"`
	PhaseOutputs map[string]map[string]any `json:"phase_outputs"`
	Results      map[string]any            `json:"results,omitempty"`
	FinalAnswer  any                       `json:"final_answer,omitempty"`
	Cancelled    bool                      `json:"cancelled"`
	Reason       string                    `json:"reason,omitempty"`
	Error        string                    `json:"error,omitempty"`
	Err          error                     `json:"-"`
}

// Succeeded reports whether every phase completed.
func (r JobResult) Succeeded() bool {
	return r.Status == JobStatusCompleted
}
