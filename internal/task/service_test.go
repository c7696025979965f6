package task

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mapruns/distance-api/internal/domain"
	"github.com/mapruns/distance-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEngine is a controllable Engine implementation for worker tests.
type stubEngine struct {
	mu      sync.Mutex
	calls   []string
	err     error
	result  []byte
	outName string

	// block, when non-nil, is closed by the test to let Process return.
	block chan struct{}
	// started, when non-nil, receives the filename as Process begins.
	started chan string
}

func (e *stubEngine) Process(ctx context.Context, fileContent []byte, filename string) ([]byte, string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, filename)
	e.mu.Unlock()

	if e.started != nil {
		e.started <- filename
	}

	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if e.err != nil {
		return nil, "", e.err
	}

	result := e.result
	if result == nil {
		result = []byte("result-bytes")
	}
	outName := e.outName
	if outName == "" {
		outName = "distance_result_" + filename
	}
	return result, outName, nil
}

func (e *stubEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestService(engine Engine) (*Service, *MockTaskStore) {
	taskStore := NewMockTaskStore()
	svc := NewService(taskStore, engine, DefaultConfig(), testLogger())
	return svc, taskStore
}

// waitForStatus polls the store until the task reaches the wanted status.
func waitForStatus(t *testing.T, taskStore *MockTaskStore, id uuid.UUID, want domain.TaskStatus) *domain.Task {
	t.Helper()

	var got *domain.Task
	require.Eventually(t, func() bool {
		task, err := taskStore.GetByID(context.Background(), id)
		if err != nil {
			return false
		}
		got = task
		return task.Status == want
	}, 5*time.Second, 5*time.Millisecond)

	return got
}

func TestService_Submit(t *testing.T) {
	t.Parallel()

	t.Run("task is visible immediately with queued status", func(t *testing.T) {
		t.Parallel()

		svc, taskStore := newTestService(&stubEngine{})

		task, err := svc.Submit(context.Background(), []byte("file-bytes"), "routes.xlsx")
		require.NoError(t, err)

		stored, err := taskStore.GetByID(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusQueued, stored.Status)
		assert.Equal(t, "routes.xlsx", stored.Filename)
		assert.Nil(t, stored.ResultData)
	})

	t.Run("validation failure rejected synchronously", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(&stubEngine{})

		_, err := svc.Submit(context.Background(), nil, "routes.xlsx")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("store failure propagates", func(t *testing.T) {
		t.Parallel()

		taskStore := NewMockTaskStore()
		taskStore.CreateFn = func(ctx context.Context, task *domain.Task) error {
			return errors.New("db down")
		}
		svc := NewService(taskStore, &stubEngine{}, DefaultConfig(), testLogger())

		_, err := svc.Submit(context.Background(), []byte("file-bytes"), "routes.xlsx")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create task")
	})

	t.Run("full queue rejects submission and fails the record", func(t *testing.T) {
		t.Parallel()

		taskStore := NewMockTaskStore()
		svc := NewService(taskStore, &stubEngine{}, Config{QueueSize: 1}, testLogger())
		// No worker running, so the first submit occupies the only slot.

		first, err := svc.Submit(context.Background(), []byte("file-bytes"), "first.xlsx")
		require.NoError(t, err)

		_, err = svc.Submit(context.Background(), []byte("file-bytes"), "second.xlsx")
		require.ErrorIs(t, err, ErrQueueFull)

		stored, err := taskStore.GetByID(context.Background(), first.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusQueued, stored.Status)
	})
}

func TestService_WorkerCompletesTask(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{result: []byte("workbook-out"), outName: "distance_result_routes.xlsx"}
	svc, taskStore := newTestService(engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	task, err := svc.Submit(context.Background(), []byte("file-bytes"), "routes.xlsx")
	require.NoError(t, err)

	stored := waitForStatus(t, taskStore, task.ID, domain.TaskStatusCompleted)

	require.NotNil(t, stored.ResultData)
	require.NotNil(t, stored.ResultFilename)
	require.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.Error)
	assert.Equal(t, "distance_result_routes.xlsx", *stored.ResultFilename)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("workbook-out")), *stored.ResultData)
}

func TestService_WorkerProcessesInSubmissionOrder(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{}
	svc, taskStore := newTestService(engine)

	ids := make([]uuid.UUID, 0, 5)
	names := []string{"a.xlsx", "b.xlsx", "c.xlsx", "d.xlsx", "e.xlsx"}
	for _, name := range names {
		task, err := svc.Submit(context.Background(), []byte("file-bytes"), name)
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	for _, id := range ids {
		waitForStatus(t, taskStore, id, domain.TaskStatusCompleted)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, names, engine.calls)
}

func TestService_WorkerSurvivesEngineFailure(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{err: errors.New("corrupt workbook")}
	svc, taskStore := newTestService(engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	failing, err := svc.Submit(context.Background(), []byte("file-bytes"), "bad.xlsx")
	require.NoError(t, err)

	stored := waitForStatus(t, taskStore, failing.ID, domain.TaskStatusFailed)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "corrupt workbook", *stored.Error)
	require.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.ResultData)

	// The loop keeps running: a subsequent task still completes.
	engine.mu.Lock()
	engine.err = nil
	engine.mu.Unlock()

	next, err := svc.Submit(context.Background(), []byte("file-bytes"), "good.xlsx")
	require.NoError(t, err)
	waitForStatus(t, taskStore, next.ID, domain.TaskStatusCompleted)
}

func TestService_CancelQueuedTask(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{}
	svc, taskStore := newTestService(engine)
	// Worker not started yet: the task sits in the queue.

	task, err := svc.Submit(context.Background(), []byte("file-bytes"), "routes.xlsx")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), task.ID))

	stored, err := taskStore.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "Task cancelled by user", *stored.Error)
	require.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.ResultData)

	// Start the worker and give it a second task so we can observe the queue
	// draining past the cancelled one.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	next, err := svc.Submit(context.Background(), []byte("file-bytes"), "next.xlsx")
	require.NoError(t, err)
	waitForStatus(t, taskStore, next.ID, domain.TaskStatusCompleted)

	// The cancelled task never reached the engine.
	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, []string{"next.xlsx"}, engine.calls)
}

func TestService_CancelProcessingTask(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{
		block:   make(chan struct{}),
		started: make(chan string, 1),
	}
	svc, taskStore := newTestService(engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	task, err := svc.Submit(context.Background(), []byte("file-bytes"), "routes.xlsx")
	require.NoError(t, err)

	// Wait until the engine is running, then cancel mid-flight.
	<-engine.started
	require.NoError(t, svc.Cancel(context.Background(), task.ID))

	stored := waitForStatus(t, taskStore, task.ID, domain.TaskStatusCancelled)
	require.NotNil(t, stored.Error)
	assert.Nil(t, stored.ResultData)

	// The worker must not overwrite the cancelled status once the engine
	// returns; it stays cancelled.
	time.Sleep(50 * time.Millisecond)
	stored, err = taskStore.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, stored.Status)
}

func TestService_CancelTwiceFailsSecondTime(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(&stubEngine{})

	task, err := svc.Submit(context.Background(), []byte("file-bytes"), "routes.xlsx")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), task.ID))

	err = svc.Cancel(context.Background(), task.ID)
	assert.ErrorIs(t, err, domain.ErrTaskNotCancellable)
}

func TestService_CancelUnknownTask(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(&stubEngine{})

	err := svc.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestService_Delete(t *testing.T) {
	t.Parallel()

	t.Run("delete on processing task fails", func(t *testing.T) {
		t.Parallel()

		engine := &stubEngine{
			block:   make(chan struct{}),
			started: make(chan string, 1),
		}
		svc, _ := newTestService(engine)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go svc.Run(ctx)

		task, err := svc.Submit(context.Background(), []byte("file-bytes"), "routes.xlsx")
		require.NoError(t, err)
		<-engine.started

		err = svc.Delete(context.Background(), task.ID)
		assert.ErrorIs(t, err, domain.ErrTaskNotDeletable)

		close(engine.block)
	})

	t.Run("delete on queued task fails", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(&stubEngine{})

		task, err := svc.Submit(context.Background(), []byte("file-bytes"), "routes.xlsx")
		require.NoError(t, err)

		err = svc.Delete(context.Background(), task.ID)
		assert.ErrorIs(t, err, domain.ErrTaskNotDeletable)
	})

	t.Run("delete on completed task removes the record", func(t *testing.T) {
		t.Parallel()

		svc, taskStore := newTestService(&stubEngine{})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go svc.Run(ctx)

		task, err := svc.Submit(context.Background(), []byte("file-bytes"), "routes.xlsx")
		require.NoError(t, err)
		waitForStatus(t, taskStore, task.ID, domain.TaskStatusCompleted)

		require.NoError(t, svc.Delete(context.Background(), task.ID))

		_, err = svc.GetTask(context.Background(), task.ID)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("delete unknown task fails", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(&stubEngine{})

		err := svc.Delete(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}

func TestService_Result(t *testing.T) {
	t.Parallel()

	t.Run("completed task result decodes", func(t *testing.T) {
		t.Parallel()

		engine := &stubEngine{result: []byte("workbook-out"), outName: "distance_result_routes.xlsx"}
		svc, taskStore := newTestService(engine)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go svc.Run(ctx)

		task, err := svc.Submit(context.Background(), []byte("file-bytes"), "routes.xlsx")
		require.NoError(t, err)
		waitForStatus(t, taskStore, task.ID, domain.TaskStatusCompleted)

		data, filename, err := svc.Result(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("workbook-out"), data)
		assert.Equal(t, "distance_result_routes.xlsx", filename)
	})

	t.Run("queued task result not ready", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(&stubEngine{})

		task, err := svc.Submit(context.Background(), []byte("file-bytes"), "routes.xlsx")
		require.NoError(t, err)

		_, _, err = svc.Result(context.Background(), task.ID)
		assert.ErrorIs(t, err, domain.ErrResultNotReady)
	})
}

func TestService_ListTasks(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(&stubEngine{})

	first, err := svc.Submit(context.Background(), []byte("file-bytes"), "first.xlsx")
	require.NoError(t, err)
	// Distinct creation times so the ordering assertion is deterministic.
	time.Sleep(5 * time.Millisecond)
	second, err := svc.Submit(context.Background(), []byte("file-bytes"), "second.xlsx")
	require.NoError(t, err)

	tasks, err := svc.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, second.ID, tasks[0].ID)
	assert.Equal(t, first.ID, tasks[1].ID)
	for _, task := range tasks {
		assert.Nil(t, task.ResultData)
		assert.Nil(t, task.FileContent)
	}
}

func TestService_Reconcile(t *testing.T) {
	t.Parallel()

	svc, taskStore := newTestService(&stubEngine{})

	orphan, err := svc.Submit(context.Background(), []byte("file-bytes"), "orphan.xlsx")
	require.NoError(t, err)

	require.NoError(t, svc.Reconcile(context.Background()))

	stored, err := taskStore.GetByID(context.Background(), orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Contains(t, *stored.Error, "restart")
}
