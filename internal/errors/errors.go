package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error types for the OCR consensus worker
 *
 * Every failure that reaches a task record or a caller is a ProcessingError.
 * The code tells the caller which part of the taxonomy it belongs to:
 * validation errors are rejected at submission, task errors fail the task,
 * engine/page/LLM errors are recovered locally and only logged.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Validation errors (synchronous, never enqueued)
	ErrorValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorPageLimitExceeded ErrorCode = "PAGE_LIMIT_EXCEEDED"
	ErrorFileTooLarge      ErrorCode = "FILE_TOO_LARGE"

	// Engine and page errors
	ErrorEngineFailed  ErrorCode = "ENGINE_FAILED"
	ErrorEngineTimeout ErrorCode = "ENGINE_TIMEOUT"
	ErrorPageFailed    ErrorCode = "PAGE_FAILED"

	// Task errors
	ErrorTaskTimeout    ErrorCode = "TASK_TIMEOUT"
	ErrorTaskCancelled  ErrorCode = "TASK_CANCELLED"
	ErrorStorageFailed  ErrorCode = "STORAGE_FAILED"
	ErrorCacheCorrupted ErrorCode = "CACHE_CORRUPTED"
	ErrorNoUsablePages  ErrorCode = "NO_USABLE_PAGES"

	// Extraction errors
	ErrorLLMFailed ErrorCode = "LLM_FAILED"

	ErrorNotFound ErrorCode = "NOT_FOUND"
	ErrorInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = stderrors.New("not found")

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	TaskID    string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewValidationError(message string, details map[string]interface{}) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorValidationFailed,
		Message:   message,
		Timestamp: time.Now(),
		Details:   details,
	}
}

func NewUnsupportedFormatError(detected string) *ProcessingError {
	if detected == "" {
		detected = "unknown"
	}
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported document format: %s", detected),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": detected,
		},
	}
}

func NewPageLimitExceededError(pages, limit int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorPageLimitExceeded,
		Message:   fmt.Sprintf("Document has %d pages, limit is %d", pages, limit),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"page_count": pages,
			"page_limit": limit,
		},
	}
}

func NewFileTooLargeError(size, limit int64) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorFileTooLarge,
		Message:   fmt.Sprintf("Document is %d bytes, limit is %d", size, limit),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"file_size": size,
			"max_size":  limit,
		},
	}
}

func NewEngineError(engine string, timedOut bool, cause error) *ProcessingError {
	code := ErrorEngineFailed
	msg := fmt.Sprintf("Engine %s failed", engine)
	if timedOut {
		code = ErrorEngineTimeout
		msg = fmt.Sprintf("Engine %s timed out", engine)
	}
	return &ProcessingError{
		Code:      code,
		Message:   msg,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewPageFailedError(page int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorPageFailed,
		Message:   fmt.Sprintf("Page %d produced no usable result", page),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"page": page,
		},
		Cause: cause,
	}
}

func NewTaskTimeoutError(taskID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorTaskTimeout,
		Message:   fmt.Sprintf("Task timed out after %v", duration),
		TaskID:    taskID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewTaskCancelledError(taskID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorTaskCancelled,
		Message:   "Task was cancelled before completion",
		TaskID:    taskID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewStorageFailedError(taskID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to persist task state",
		TaskID:    taskID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewCacheCorruptedError(fingerprint string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorCacheCorrupted,
		Message:   "Cached result could not be decoded",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"fingerprint": fingerprint,
		},
		Cause: cause,
	}
}

func NewNoUsablePagesError(taskID string, pages int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorNoUsablePages,
		Message:   fmt.Sprintf("None of the %d pages produced a usable result", pages),
		TaskID:    taskID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"page_count": pages,
		},
	}
}

func NewLLMFailedError(field string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorLLMFailed,
		Message:   fmt.Sprintf("LLM fallback failed for field %s", field),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
		},
		Cause: cause,
	}
}

func NewNotFoundError(kind, id string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorNotFound,
		Message:   fmt.Sprintf("%s not found: %s", kind, id),
		TaskID:    id,
		Timestamp: time.Now(),
		Cause:     ErrNotFound,
	}
}

// WithTask stamps the task id on the error and returns it.
func (e *ProcessingError) WithTask(taskID string) *ProcessingError {
	e.TaskID = taskID
	return e
}

// ToMap converts error to map for task records and logs
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

// CodeOf returns the code of the first ProcessingError in the chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsValidation reports whether err must be rejected at submission.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case ErrorValidationFailed, ErrorUnsupportedFormat, ErrorPageLimitExceeded, ErrorFileTooLarge:
		return true
	}
	return false
}

// IsNotFound reports whether err denotes a missing record.
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound) || CodeOf(err) == ErrorNotFound
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
