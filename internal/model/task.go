package model

import (
	"fmt"
	"time"
)

// TaskKind distinguishes OCR and extraction work
type TaskKind string

const (
	TaskKindOCR        TaskKind = "OCR"
	TaskKindExtraction TaskKind = "EXTRACTION"
)

// TaskState is the orchestrator-owned lifecycle state
type TaskState string

const (
	TaskQueued  TaskState = "QUEUED"
	TaskRunning TaskState = "RUNNING"
	TaskDone    TaskState = "DONE"
	TaskFailed  TaskState = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s TaskState) Terminal() bool {
	return s == TaskDone || s == TaskFailed
}

// CanTransition reports whether s -> to is a legal edge.
// QUEUED may fail directly when dispatch itself fails.
func (s TaskState) CanTransition(to TaskState) bool {
	switch s {
	case TaskQueued:
		return to == TaskRunning || to == TaskFailed
	case TaskRunning:
		return to == TaskDone || to == TaskFailed
	}
	return false
}

// PublicStatus maps the state onto processing|completed|error.
func (s TaskState) PublicStatus() string {
	switch s {
	case TaskDone:
		return "completed"
	case TaskFailed:
		return "error"
	}
	return "processing"
}

// TaskError is the error detail stored on a failed task
type TaskError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Task is the persisted record of one unit of work.
type Task struct {
	ID           string            `json:"id"`
	Kind         TaskKind          `json:"kind"`
	State        TaskState         `json:"state"`
	Fingerprint  string            `json:"fingerprint,omitempty"`
	SourceTaskID string            `json:"sourceTaskId,omitempty"`
	Options      Options           `json:"options"`
	SubmittedAt  time.Time         `json:"submittedAt"`
	StartedAt    *time.Time        `json:"startedAt,omitempty"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
	Deadline     *time.Time        `json:"deadline,omitempty"`
	Document     *DocumentResult   `json:"document,omitempty"`
	Extraction   *ExtractionResult `json:"extraction,omitempty"`
	Error        *TaskError        `json:"error,omitempty"`
}

// Transition moves the task to the next state, stamping times.
func (t *Task) Transition(to TaskState, at time.Time) error {
	if !t.State.CanTransition(to) {
		return fmt.Errorf("illegal task transition %s -> %s (task %s)", t.State, to, t.ID)
	}
	t.State = to
	switch to {
	case TaskRunning:
		t.StartedAt = &at
	case TaskDone, TaskFailed:
		t.CompletedAt = &at
	}
	return nil
}

// Clone returns a copy safe to hand out of a store.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
