package api

import (
	"errors"
	"time"
)

type (
	// RunID is a unique identifier for a run
	RunID string

	// RunStatus represents the lifecycle state of a run
	RunStatus string

	// ArtifactID identifies a produced artifact
	ArtifactID string

	// RunRecord is the authoritative, persisted state of one run. It is
	// owned by the run controller; the only externally-mutable field is
	// Status while the run is waiting for approval
	RunRecord struct {
		Workflow   *Workflow   `json:"workflow"`
		StartedAt  time.Time   `json:"startedAt"`
		EndedAt    *time.Time  `json:"endedAt"`
		Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
		RunID      RunID       `json:"runId"`
		Status     RunStatus   `json:"status"`
		ArtifactID ArtifactID  `json:"artifactId,omitempty"`
		Error      string      `json:"error,omitempty"`
	}

	// Checkpoint is the minimal state snapshot taken before the HITL
	// pause, sufficient to resume the deferred export without recomputing
	// the steps already executed
	Checkpoint struct {
		Report     *ValidationReport `json:"validation_report,omitempty"`
		MergedPath string            `json:"merged_path"`
	}
)

const (
	RunPlanning    RunStatus = "PLANNING"
	RunRunning     RunStatus = "RUNNING"
	RunWaitingHITL RunStatus = "WAITING_HITL"
	RunSucceeded   RunStatus = "SUCCEEDED"
	RunFailed      RunStatus = "FAILED"
	RunCancelled   RunStatus = "CANCELLED"
)

var (
	ErrRunNotFound    = errors.New("run not found")
	ErrRunTerminal    = errors.New("run already in a terminal state")
	ErrStatusConflict = errors.New("run status changed concurrently")
)

// IsTerminal reports whether the status permits no further transitions
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunPlanning:
		return next == RunRunning || next == RunFailed ||
			next == RunCancelled
	case RunRunning:
		return next == RunWaitingHITL || next == RunSucceeded ||
			next == RunFailed || next == RunCancelled
	case RunWaitingHITL:
		return next == RunRunning || next == RunCancelled ||
			next == RunFailed
	default:
		return false
	}
}

// End marks the record finished with the given terminal status
func (r *RunRecord) End(status RunStatus) {
	now := time.Now().UTC()
	r.Status = status
	r.EndedAt = &now
}
