package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a background task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID       = errors.New("task ID cannot be empty")
	ErrEmptyTaskFilename = errors.New("task filename cannot be empty")
	ErrEmptyTaskContent  = errors.New("task file content cannot be empty")
	ErrInvalidTaskStatus = errors.New("invalid task status")
)

// Task represents one user-submitted unit of background work. It carries the
// uploaded file for the duration of processing and, once completed, the
// base64-encoded result workbook.
type Task struct {
	ID             uuid.UUID  `json:"id"`
	Filename       string     `json:"filename"`
	Status         TaskStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          *string    `json:"error,omitempty"`
	Progress       int        `json:"progress"`
	FileContent    []byte     `json:"-"`
	ResultData     *string    `json:"result_data,omitempty"`
	ResultFilename *string    `json:"result_filename,omitempty"`
}

// NewTask creates a new Task in the queued state with the given filename and
// raw file content. It generates a new UUID for the task ID and sets the
// creation timestamp. Returns an error if validation fails.
func NewTask(filename string, fileContent []byte) (*Task, error) {
	t := &Task{
		ID:          uuid.New(),
		Filename:    filename,
		Status:      TaskStatusQueued,
		CreatedAt:   time.Now().UTC(),
		FileContent: fileContent,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Filename == "" {
		return ErrEmptyTaskFilename
	}

	if len(t.FileContent) == 0 && t.Status == TaskStatusQueued {
		return ErrEmptyTaskContent
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	return nil
}

// IsTerminal reports whether the status is absorbing: once a task reaches a
// terminal state no further status transition is permitted.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from s to next respects the
// task lifecycle: queued -> processing -> exactly one terminal state.
// Cancellation and failure are additionally permitted straight from queued.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}

	switch s {
	case TaskStatusQueued:
		return next == TaskStatusProcessing || next == TaskStatusCancelled || next == TaskStatusFailed
	case TaskStatusProcessing:
		return next.IsTerminal()
	default:
		return false
	}
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusQueued, TaskStatusProcessing, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}
