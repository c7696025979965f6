package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mapruns/distance-api/internal/domain"
	"github.com/mapruns/distance-api/internal/platform/logger"
	"github.com/mapruns/distance-api/internal/store"
)

// Status sets used in transition guards. Baking the guard into the WHERE
// clause makes every transition a single atomic statement, so a racing
// cancel/delete from a request goroutine and the worker's own terminal
// transition cannot both win.
const (
	activeStatuses = `('queued', 'processing')`
)

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the
// TaskStore interface. It accepts a database connection or transaction that
// should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// Create implements store.TaskStore.Create.
// It saves a new task to the database, handling domain validation.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	query := `
		INSERT INTO tasks (id, filename, status, created_at, progress, file_content)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Filename,
		task.Status,
		task.CreatedAt,
		task.Progress,
		task.FileContent,
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return store.NewStoreError("task", "create", "failed to insert task", err)
	}

	return nil
}

// GetByID implements store.TaskStore.GetByID.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, filename, status, created_at, completed_at, error, progress,
		       file_content, result_data, result_filename
		FROM tasks
		WHERE id = $1
	`

	row := s.db.QueryRowContext(ctx, query, id)

	task, err := scanTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("task", "get", "failed to query task", err)
	}

	return task, nil
}

// List implements store.TaskStore.List.
// The uploaded file and result blob are omitted from the returned tasks.
func (s *PostgresTaskStore) List(ctx context.Context) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, filename, status, created_at, completed_at, error, progress
		FROM tasks
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		log.Error("failed to list tasks", slog.String("error", err.Error()))
		return nil, store.NewStoreError("task", "list", "failed to query tasks", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Warn("failed to close rows", slog.String("error", closeErr.Error()))
		}
	}()

	var tasks []*domain.Task
	for rows.Next() {
		var (
			task        domain.Task
			completedAt sql.NullTime
			errMsg      sql.NullString
		)

		if err := rows.Scan(
			&task.ID,
			&task.Filename,
			&task.Status,
			&task.CreatedAt,
			&completedAt,
			&errMsg,
			&task.Progress,
		); err != nil {
			log.Error("failed to scan task row", slog.String("error", err.Error()))
			return nil, store.NewStoreError("task", "list", "failed to scan task row", err)
		}

		if completedAt.Valid {
			task.CompletedAt = &completedAt.Time
		}
		if errMsg.Valid {
			task.Error = &errMsg.String
		}

		tasks = append(tasks, &task)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating task rows", slog.String("error", err.Error()))
		return nil, store.NewStoreError("task", "list", "error iterating task rows", err)
	}

	return tasks, nil
}

// MarkProcessing implements store.TaskStore.MarkProcessing.
func (s *PostgresTaskStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks
		SET status = 'processing'
		WHERE id = $1 AND status = 'queued'
	`
	return s.guardedUpdate(ctx, "mark_processing", id, query, id)
}

// MarkCompleted implements store.TaskStore.MarkCompleted.
func (s *PostgresTaskStore) MarkCompleted(ctx context.Context, id uuid.UUID, resultData, resultFilename string) error {
	query := `
		UPDATE tasks
		SET status = 'completed', completed_at = $2, result_data = $3, result_filename = $4
		WHERE id = $1 AND status = 'processing'
	`
	return s.guardedUpdate(ctx, "mark_completed", id, query,
		id, time.Now().UTC(), resultData, resultFilename)
}

// MarkFailed implements store.TaskStore.MarkFailed.
func (s *PostgresTaskStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE tasks
		SET status = 'failed', completed_at = $2, error = $3
		WHERE id = $1 AND status IN ` + activeStatuses + `
	`
	return s.guardedUpdate(ctx, "mark_failed", id, query, id, time.Now().UTC(), errMsg)
}

// MarkCancelled implements store.TaskStore.MarkCancelled.
func (s *PostgresTaskStore) MarkCancelled(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE tasks
		SET status = 'cancelled', completed_at = $2, error = $3
		WHERE id = $1 AND status IN ` + activeStatuses + `
	`
	return s.guardedUpdate(ctx, "mark_cancelled", id, query, id, time.Now().UTC(), reason)
}

// Delete implements store.TaskStore.Delete.
// Only tasks in a terminal state may be deleted.
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	query := `
		DELETE FROM tasks
		WHERE id = $1 AND status NOT IN ` + activeStatuses + `
	`
	return s.guardedUpdate(ctx, "delete", id, query, id)
}

// FailOrphaned implements store.TaskStore.FailOrphaned.
func (s *PostgresTaskStore) FailOrphaned(ctx context.Context, reason string) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = 'failed', completed_at = $1, error = $2
		WHERE status IN ` + activeStatuses + `
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), reason)
	if err != nil {
		log.Error("failed to fail orphaned tasks", slog.String("error", err.Error()))
		return 0, store.NewStoreError("task", "fail_orphaned", "failed to update orphaned tasks", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, store.NewStoreError("task", "fail_orphaned", "failed to get rows affected", err)
	}

	return n, nil
}

// guardedUpdate runs a status-guarded statement and distinguishes "task does
// not exist" from "task exists but the transition is not permitted".
func (s *PostgresTaskStore) guardedUpdate(ctx context.Context, operation string, id uuid.UUID, query string, args ...any) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("task update failed",
			slog.String("operation", operation),
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return store.NewStoreError("task", operation, "statement failed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("task", operation, "failed to get rows affected", err)
	}

	if rowsAffected == 0 {
		// The guard rejected the row or no row exists; check which.
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return store.NewStoreError("task", operation, "failed to check task existence", err)
		}
		if !exists {
			return store.ErrTaskNotFound
		}

		log.Warn("task status transition rejected",
			slog.String("operation", operation),
			slog.String("task_id", id.String()))
		return fmt.Errorf("%w: %s", store.ErrInvalidTransition, operation)
	}

	return nil
}

// scanTask scans a full task row, converting nullable columns into pointers.
func scanTask(scan func(dest ...any) error) (*domain.Task, error) {
	var (
		task           domain.Task
		completedAt    sql.NullTime
		errMsg         sql.NullString
		resultData     sql.NullString
		resultFilename sql.NullString
	)

	if err := scan(
		&task.ID,
		&task.Filename,
		&task.Status,
		&task.CreatedAt,
		&completedAt,
		&errMsg,
		&task.Progress,
		&task.FileContent,
		&resultData,
		&resultFilename,
	); err != nil {
		return nil, err
	}

	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		task.Error = &errMsg.String
	}
	if resultData.Valid {
		task.ResultData = &resultData.String
	}
	if resultFilename.Valid {
		task.ResultFilename = &resultFilename.String
	}

	return &task, nil
}
