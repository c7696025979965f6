package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/mapruns/distance-api/internal/domain"
)

// TaskStore defines the interface for persisting tasks.
//
// Status-changing methods enforce the task lifecycle: a task reaches exactly
// one terminal state (completed, failed, cancelled) and never leaves it.
// Implementations must guard every transition so that a racing caller (the
// worker on one side, cancel/delete from request handlers on the other)
// cannot overwrite a terminal status. Violations surface as
// ErrInvalidTransition.
type TaskStore interface {
	// Create persists a new task with status "queued". The task must be
	// durable before Create returns, since callers may poll immediately.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID, including the uploaded file
	// content and any stored result. Returns ErrTaskNotFound if no task
	// exists with the given ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List retrieves all tasks ordered by creation time, newest first.
	// The uploaded file content and result blob are omitted from the
	// returned tasks; use GetByID for the full record.
	List(ctx context.Context) ([]*domain.Task, error)

	// MarkProcessing transitions a queued task to processing.
	MarkProcessing(ctx context.Context, id uuid.UUID) error

	// MarkCompleted transitions a processing task to completed, storing the
	// base64-encoded result and its filename and setting the completion
	// timestamp.
	MarkCompleted(ctx context.Context, id uuid.UUID, resultData, resultFilename string) error

	// MarkFailed transitions a queued or processing task to failed, recording
	// the error text and setting the completion timestamp.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// MarkCancelled transitions a queued or processing task to cancelled,
	// recording the cancellation reason and setting the completion timestamp.
	MarkCancelled(ctx context.Context, id uuid.UUID, reason string) error

	// Delete removes a task that has reached a terminal state. Deleting a
	// queued or processing task returns ErrInvalidTransition.
	Delete(ctx context.Context, id uuid.UUID) error

	// FailOrphaned marks every task still in a non-terminal state as failed
	// with the given reason. It is called once at startup: queue position is
	// not durable, so tasks left queued or processing by a previous process
	// will never be picked up again.
	FailOrphaned(ctx context.Context, reason string) (int64, error)
}
