package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	"github.com/mapruns/distance-api/internal/domain"
	"github.com/mapruns/distance-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDBTX implements store.DBTX with overridable behavior for unit tests
// that must not touch a live database.
type mockDBTX struct {
	execFn func(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (m *mockDBTX) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if m.execFn != nil {
		return m.execFn(ctx, query, args...)
	}
	return nil, errors.New("ExecContext not configured")
}

func (m *mockDBTX) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return nil, errors.New("PrepareContext not configured")
}

func (m *mockDBTX) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("QueryContext not configured")
}

func (m *mockDBTX) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func TestNewPostgresTaskStore(t *testing.T) {
	t.Parallel()

	t.Run("valid db", func(t *testing.T) {
		t.Parallel()

		s := NewPostgresTaskStore(&mockDBTX{}, nil)
		assert.NotNil(t, s)
		assert.NotNil(t, s.logger)
	})

	t.Run("nil db panics", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() {
			NewPostgresTaskStore(nil, nil)
		})
	})
}

func TestPostgresTaskStore_Create_ValidationFailure(t *testing.T) {
	t.Parallel()

	execCalled := false
	db := &mockDBTX{
		execFn: func(ctx context.Context, query string, args ...any) (sql.Result, error) {
			execCalled = true
			return nil, nil
		},
	}
	s := NewPostgresTaskStore(db, nil)

	// Invalid task never reaches the database.
	err := s.Create(context.Background(), &domain.Task{})
	require.Error(t, err)
	assert.False(t, execCalled)
}

func TestPostgresTaskStore_StatementFailureWrapped(t *testing.T) {
	t.Parallel()

	db := &mockDBTX{
		execFn: func(ctx context.Context, query string, args ...any) (sql.Result, error) {
			return nil, errors.New("connection reset")
		},
	}
	s := NewPostgresTaskStore(db, nil)

	err := s.MarkProcessing(context.Background(), uuid.New())
	require.Error(t, err)

	var storeErr *store.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "task", storeErr.Entity)
	assert.Equal(t, "mark_processing", storeErr.Operation)
}

// integrationStore connects to the database named by DATABASE_URL, skipping
// the test when the variable is unset.
func integrationStore(t *testing.T) *PostgresTaskStore {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test - DATABASE_URL environment variable required")
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	require.NoError(t, db.PingContext(context.Background()))

	return NewPostgresTaskStore(db, nil)
}

func createIntegrationTask(t *testing.T, s *PostgresTaskStore) *domain.Task {
	t.Helper()

	task, err := domain.NewTask("integration.xlsx", []byte("file-bytes"))
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), task))
	t.Cleanup(func() {
		// Force the task terminal so cleanup deletion is permitted.
		_ = s.MarkFailed(context.Background(), task.ID, "test cleanup")
		_ = s.Delete(context.Background(), task.ID)
	})

	return task
}

func TestPostgresTaskStore_Lifecycle(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()

	task := createIntegrationTask(t, s)

	t.Run("created task is immediately visible", func(t *testing.T) {
		got, err := s.GetByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusQueued, got.Status)
		assert.Equal(t, task.Filename, got.Filename)
		assert.Equal(t, []byte("file-bytes"), got.FileContent)
		assert.Nil(t, got.ResultData)
	})

	t.Run("queued to processing to completed", func(t *testing.T) {
		require.NoError(t, s.MarkProcessing(ctx, task.ID))
		require.NoError(t, s.MarkCompleted(ctx, task.ID, "ZmFrZQ==", "distance_result_integration.xlsx"))

		got, err := s.GetByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCompleted, got.Status)
		require.NotNil(t, got.ResultData)
		assert.Equal(t, "ZmFrZQ==", *got.ResultData)
		require.NotNil(t, got.CompletedAt)
		assert.WithinDuration(t, time.Now().UTC(), *got.CompletedAt, time.Minute)
	})

	t.Run("terminal state is absorbing", func(t *testing.T) {
		err := s.MarkProcessing(ctx, task.ID)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)

		err = s.MarkCancelled(ctx, task.ID, "too late")
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})
}

func TestPostgresTaskStore_DeleteGuards(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()

	task := createIntegrationTask(t, s)

	err := s.Delete(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	require.NoError(t, s.MarkCancelled(ctx, task.ID, "Task cancelled by user"))
	require.NoError(t, s.Delete(ctx, task.ID))

	_, err = s.GetByID(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestPostgresTaskStore_GuardedUpdateUnknownTask(t *testing.T) {
	s := integrationStore(t)

	err := s.MarkProcessing(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestPostgresTaskStore_FailOrphaned(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()

	task := createIntegrationTask(t, s)

	n, err := s.FailOrphaned(ctx, "Task orphaned by service restart")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "Task orphaned by service restart", *got.Error)
}
