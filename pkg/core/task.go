package core

import (
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/telos/pkg/capability"
)

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusRetrying  TaskStatus = "retrying"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusTimedOut  TaskStatus = "timed_out"
)

// Terminal reports whether a status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusTimedOut:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle admits moving from s to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusRunning
	case TaskStatusRunning:
		switch next {
		case TaskStatusRetrying, TaskStatusSucceeded, TaskStatusFailed, TaskStatusTimedOut:
			return true
		}
	case TaskStatusRetrying:
		return next == TaskStatusRunning
	}
	return false
}

// Task represents a single unit of work submitted to the execution layer.
// Tasks are created per request and discarded after the response.
type Task struct {
	ID                 string
	Payload            string
	RequiredCapability capability.Capability
	MaxTokens          int
	Deadline           time.Time
	Status             TaskStatus
	CreatedAt          time.Time
	Metadata           map[string]string
}

// NewTask creates a pending task with a generated ID.
func NewTask(payload string) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Payload:   payload,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// WithCapability pins the task to a required capability, bypassing
// classification during routing.
func (t *Task) WithCapability(c capability.Capability) *Task {
	t.RequiredCapability = c
	return t
}

// Transition moves the task to the next status if the lifecycle allows it.
// Returns false and leaves the task unchanged otherwise.
func (t *Task) Transition(next TaskStatus) bool {
	if !t.Status.CanTransition(next) {
		return false
	}
	t.Status = next
	return true
}
