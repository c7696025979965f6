// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrTaskNotCancellable is returned when cancellation is requested for a
	// task that has already reached a terminal state.
	ErrTaskNotCancellable = errors.New("only queued or processing tasks can be cancelled")

	// ErrTaskNotDeletable is returned when deletion is requested for a task
	// that is still queued or processing. The caller must cancel it first.
	ErrTaskNotDeletable = errors.New("only completed, failed, or cancelled tasks can be deleted")

	// ErrResultNotReady is returned when a result download is requested for a
	// task that has not completed.
	ErrResultNotReady = errors.New("task result is not ready")

	// ErrResultMissing is returned when a completed task unexpectedly has no
	// stored result blob. This indicates a bookkeeping bug, not a user error.
	ErrResultMissing = errors.New("task result data is missing")

	// ErrFileTooLarge is returned when an uploaded file exceeds the configured
	// size limit.
	ErrFileTooLarge = errors.New("uploaded file exceeds size limit")

	// ErrUnsupportedFileType is returned when an uploaded file does not have a
	// supported spreadsheet extension.
	ErrUnsupportedFileType = errors.New("unsupported file type")
)
