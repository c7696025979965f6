package task

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mapruns/distance-api/internal/domain"
)

// Run consumes the task queue until ctx is cancelled. It is the single
// long-lived consumer: all claims and terminal transitions happen here, in
// strict submission order. Individual task failures never stop the loop.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("task worker started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("task worker stopping")
			return

		case id := <-s.queue:
			s.processTask(ctx, id)
		}
	}
}

// processTask claims one dequeued task, runs the transform engine, and
// persists exactly one terminal transition.
func (s *Service) processTask(ctx context.Context, id uuid.UUID) {
	logger := s.logger.With(slog.String("task_id", id.String()))

	// Pre-claim check: a task cancelled while queued drains here without any
	// side effects.
	s.mu.Lock()
	_, isActive := s.active[id]
	s.mu.Unlock()
	if !isActive {
		logger.Info("skipping inactive task")
		return
	}

	t, err := s.taskStore.GetByID(ctx, id)
	if err != nil {
		logger.Error("failed to load task for processing", slog.String("error", err.Error()))
		s.release(id)
		return
	}
	if t.Status == domain.TaskStatusCancelled {
		logger.Info("skipping cancelled task")
		s.release(id)
		return
	}

	if err := s.taskStore.MarkProcessing(ctx, id); err != nil {
		logger.Error("failed to mark task processing", slog.String("error", err.Error()))
		s.release(id)
		return
	}

	logger.Info("processing task", slog.String("filename", t.Filename))

	// Per-task context so Cancel can stop in-flight work at the next row
	// boundary.
	taskCtx, cancelTask := context.WithCancel(ctx)
	s.mu.Lock()
	s.inFlight[id] = cancelTask
	s.mu.Unlock()

	resultBytes, resultFilename, err := s.engine.Process(taskCtx, t.FileContent, t.Filename)

	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
	cancelTask()

	// Terminal transitions use a detached context so shutdown of the worker
	// loop cannot leave the record stuck mid-transition.
	storeCtx := context.Background()

	switch {
	case err == nil:
		encoded := base64.StdEncoding.EncodeToString(resultBytes)
		if markErr := s.taskStore.MarkCompleted(storeCtx, id, encoded, resultFilename); markErr != nil {
			logger.Error("failed to mark task completed", slog.String("error", markErr.Error()))
		} else {
			logger.Info("task completed", slog.String("result_filename", resultFilename))
		}

	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		// The per-task context was cancelled by Cancel, which already
		// persisted the cancelled status. Nothing to overwrite.
		logger.Info("task processing aborted by cancellation")

	default:
		logger.Error("task processing failed", slog.String("error", err.Error()))
		if markErr := s.taskStore.MarkFailed(storeCtx, id, err.Error()); markErr != nil {
			logger.Error("failed to mark task failed", slog.String("error", markErr.Error()))
		}
	}

	s.release(id)
}

// release drops a task id from the active set.
func (s *Service) release(id uuid.UUID) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}
