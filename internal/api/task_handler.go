package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mapruns/distance-api/internal/api/shared"
	"github.com/mapruns/distance-api/internal/domain"
	"github.com/mapruns/distance-api/internal/store"
	"github.com/mapruns/distance-api/internal/task"
)

// xlsxContentType is the MIME type served for downloaded result workbooks.
const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// allowedExtensions lists the spreadsheet extensions accepted for upload.
var allowedExtensions = map[string]bool{
	".xlsx": true,
	".xls":  true,
}

// SubmitTaskResponse is returned on successful task submission.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskResponse represents a single task record. ResultData is only populated
// on the single-task endpoint, never in listings.
type TaskResponse struct {
	ID             string     `json:"id"`
	Filename       string     `json:"filename"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          *string    `json:"error,omitempty"`
	Progress       int        `json:"progress"`
	ResultData     *string    `json:"result_data,omitempty"`
	ResultFilename *string    `json:"result_filename,omitempty"`
}

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	taskService    *task.Service
	maxUploadBytes int64
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(taskService *task.Service, maxUploadBytes int64) *TaskHandler {
	return &TaskHandler{
		taskService:    taskService,
		maxUploadBytes: maxUploadBytes,
	}
}

// SubmitTask handles POST /api/calculate-distance requests.
// It validates the uploaded spreadsheet synchronously and enqueues the
// distance computation as a background task.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Uploaded file exceeds size limit")
			return
		}
		shared.RespondWithError(w, r, http.StatusBadRequest, "Missing or unreadable file upload")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		shared.RespondWithError(w, r, http.StatusBadRequest,
			"Unsupported file type, expected .xlsx or .xls")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Uploaded file exceeds size limit")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Failed to read file upload", err)
		return
	}

	created, err := h.taskService.Submit(r.Context(), content, header.Filename)
	if err != nil {
		h.respondTaskError(w, r, err, "Failed to submit task")
		return
	}

	// 202: execution happens asynchronously, the caller polls for status.
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		TaskID: created.ID.String(),
		Status: string(created.Status),
	})
}

// GetTask handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathTaskID(w, r)
	if !ok {
		return
	}

	t, err := h.taskService.GetTask(r.Context(), id)
	if err != nil {
		h.respondTaskError(w, r, err, "Failed to get task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t, true))
}

// ListTasks handles GET /api/tasks requests, newest first.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.taskService.ListTasks(r.Context())
	if err != nil {
		h.respondTaskError(w, r, err, "Failed to list tasks")
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		responses = append(responses, taskToResponse(t, false))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// DownloadResult handles GET /api/tasks/{id}/download requests. The stored
// base64 result is decoded and served as a spreadsheet attachment.
func (h *TaskHandler) DownloadResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathTaskID(w, r)
	if !ok {
		return
	}

	content, filename, err := h.taskService.Result(r.Context(), id)
	if err != nil {
		h.respondTaskError(w, r, err, "Failed to download result")
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filename)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to write result", err)
	}
}

// CancelTask handles POST /api/tasks/{id}/cancel requests.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathTaskID(w, r)
	if !ok {
		return
	}

	if err := h.taskService.Cancel(r.Context(), id); err != nil {
		h.respondTaskError(w, r, err, "Failed to cancel task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{
		"message": "Task cancelled",
	})
}

// DeleteTask handles DELETE /api/tasks/{id} requests.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathTaskID(w, r)
	if !ok {
		return
	}

	if err := h.taskService.Delete(r.Context(), id); err != nil {
		h.respondTaskError(w, r, err, "Failed to delete task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{
		"message": "Task deleted",
	})
}

// pathTaskID extracts and parses the {id} path parameter, writing an error
// response when it is missing or malformed.
func (h *TaskHandler) pathTaskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID has invalid format")
		return uuid.Nil, false
	}

	return id, true
}

// respondTaskError maps service errors to HTTP status codes.
func (h *TaskHandler) respondTaskError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case store.IsNotFoundError(err):
		shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
	case errors.Is(err, domain.ErrTaskNotCancellable):
		shared.RespondWithError(w, r, http.StatusConflict, domain.ErrTaskNotCancellable.Error())
	case errors.Is(err, domain.ErrTaskNotDeletable):
		shared.RespondWithError(w, r, http.StatusConflict, domain.ErrTaskNotDeletable.Error())
	case errors.Is(err, domain.ErrResultNotReady):
		shared.RespondWithError(w, r, http.StatusConflict, domain.ErrResultNotReady.Error())
	case errors.Is(err, domain.ErrValidation):
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task submission")
	case errors.Is(err, task.ErrQueueFull):
		shared.RespondWithError(w, r, http.StatusServiceUnavailable, task.ErrQueueFull.Error())
	default:
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, fallback, err)
	}
}

// taskToResponse converts a domain.Task to a TaskResponse. The base64 result
// blob is included only when includeResult is set.
func taskToResponse(t *domain.Task, includeResult bool) TaskResponse {
	resp := TaskResponse{
		ID:             t.ID.String(),
		Filename:       t.Filename,
		Status:         string(t.Status),
		CreatedAt:      t.CreatedAt,
		CompletedAt:    t.CompletedAt,
		Error:          t.Error,
		Progress:       t.Progress,
		ResultFilename: t.ResultFilename,
	}

	if includeResult {
		resp.ResultData = t.ResultData
	}

	return resp
}
