package task

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mapruns/distance-api/internal/domain"
	"github.com/mapruns/distance-api/internal/store"
)

// Common errors returned by the Service.
var (
	ErrQueueFull = errors.New("task queue is full, try again later")
)

// Engine transforms an uploaded workbook into result bytes and an output
// filename. It is implemented by workbook.Processor.
type Engine interface {
	Process(ctx context.Context, fileContent []byte, filename string) ([]byte, string, error)
}

// Config holds configuration for the task service.
type Config struct {
	// QueueSize determines the buffer size for the in-memory task queue.
	QueueSize int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize: 100,
	}
}

// Service owns the background task lifecycle: it persists task records,
// feeds a FIFO queue consumed by a single worker, and exposes the
// submit/cancel/delete/download operations callers use.
//
// The service is constructed explicitly and injected where needed; its
// lifetime is managed by the hosting application's startup and shutdown.
type Service struct {
	taskStore store.TaskStore
	engine    Engine
	logger    *slog.Logger

	queue chan uuid.UUID

	// mu guards active and inFlight. Submit, Cancel and Delete run on request
	// goroutines concurrently with the worker.
	mu sync.Mutex

	// active tracks ids not yet in a terminal state. The worker consults it
	// before claiming a task so cancelled work drains without side effects.
	active map[uuid.UUID]struct{}

	// inFlight maps the id currently being processed to the cancel function
	// of its per-task context. Cancel uses it to stop in-flight work at the
	// next row boundary.
	inFlight map[uuid.UUID]context.CancelFunc
}

// NewService creates a task service with the given store, transform engine
// and configuration. If logger is nil the default logger is used.
func NewService(taskStore store.TaskStore, engine Engine, cfg Config, logger *slog.Logger) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		taskStore: taskStore,
		engine:    engine,
		logger:    logger.With(slog.String("component", "task_service")),
		queue:     make(chan uuid.UUID, cfg.QueueSize),
		active:    make(map[uuid.UUID]struct{}),
		inFlight:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// Submit creates a new queued task for the uploaded file, persists it, and
// enqueues it for the worker. It returns the created task immediately; the
// caller polls for completion.
func (s *Service) Submit(ctx context.Context, fileContent []byte, filename string) (*domain.Task, error) {
	t, err := domain.NewTask(filename, fileContent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	// Persist first: the record must be visible to callers before the worker
	// picks it up.
	if err := s.taskStore.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.mu.Lock()
	s.active[t.ID] = struct{}{}
	s.mu.Unlock()

	select {
	case s.queue <- t.ID:
	default:
		// Queue full. The record exists already, so mark it failed rather
		// than leaving it queued forever.
		s.mu.Lock()
		delete(s.active, t.ID)
		s.mu.Unlock()

		if markErr := s.taskStore.MarkFailed(ctx, t.ID, ErrQueueFull.Error()); markErr != nil {
			s.logger.Error("failed to mark rejected task as failed",
				slog.String("task_id", t.ID.String()),
				slog.String("error", markErr.Error()))
		}
		return nil, ErrQueueFull
	}

	s.logger.Info("task submitted",
		slog.String("task_id", t.ID.String()),
		slog.String("filename", filename),
		slog.Int("queue_len", len(s.queue)))

	return t, nil
}

// GetTask retrieves a task by id.
func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.taskStore.GetByID(ctx, id)
}

// ListTasks retrieves all tasks, newest first. Result blobs are omitted.
func (s *Service) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	return s.taskStore.List(ctx)
}

// Cancel marks a queued or processing task cancelled. Cancellation is
// cooperative: in-flight work stops at the next row boundary, and a queued
// task drains from the queue without ever running.
// Returns domain.ErrTaskNotCancellable if the task is already terminal.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	// Re-read status from the store: it is the source of truth shared with
	// the worker, and the task may have reached a terminal state since the
	// caller last looked.
	t, err := s.taskStore.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if t.Status.IsTerminal() {
		return domain.ErrTaskNotCancellable
	}

	if err := s.taskStore.MarkCancelled(ctx, id, "Task cancelled by user"); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Lost the race with the worker's terminal transition.
			return domain.ErrTaskNotCancellable
		}
		return fmt.Errorf("failed to cancel task: %w", err)
	}

	s.mu.Lock()
	delete(s.active, id)
	cancelInFlight := s.inFlight[id]
	s.mu.Unlock()

	if cancelInFlight != nil {
		cancelInFlight()
	}

	s.logger.Info("task cancelled", slog.String("task_id", id.String()))
	return nil
}

// Delete removes a terminal task's record.
// Returns domain.ErrTaskNotDeletable for queued or processing tasks; the
// caller must cancel those first.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	t, err := s.taskStore.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if !t.Status.IsTerminal() {
		return domain.ErrTaskNotDeletable
	}

	if err := s.taskStore.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return domain.ErrTaskNotDeletable
		}
		return fmt.Errorf("failed to delete task: %w", err)
	}

	s.logger.Info("task deleted", slog.String("task_id", id.String()))
	return nil
}

// Result returns the decoded result workbook and its filename for a
// completed task. Returns domain.ErrResultNotReady when the task has not
// completed and domain.ErrResultMissing when a completed task has no blob.
func (s *Service) Result(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	t, err := s.taskStore.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}

	if t.Status != domain.TaskStatusCompleted {
		return nil, "", domain.ErrResultNotReady
	}

	if t.ResultData == nil || t.ResultFilename == nil {
		return nil, "", domain.ErrResultMissing
	}

	decoded, err := base64.StdEncoding.DecodeString(*t.ResultData)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode result data: %w", err)
	}

	return decoded, *t.ResultFilename, nil
}

// Reconcile handles tasks orphaned by a previous process: queue position is
// not durable, so anything still queued or processing on startup will never
// run again and is marked failed.
func (s *Service) Reconcile(ctx context.Context) error {
	n, err := s.taskStore.FailOrphaned(ctx, "Task orphaned by service restart")
	if err != nil {
		return fmt.Errorf("failed to reconcile orphaned tasks: %w", err)
	}
	if n > 0 {
		s.logger.Warn("failed orphaned tasks from previous run", slog.Int64("count", n))
	}
	return nil
}
