package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestCodeOfWrapped(t *testing.T) {
	base := NewTaskTimeoutError("t1", time.Hour, errDeadline)
	wrapped := fmt.Errorf("handler: %w", base)

	if got := CodeOf(wrapped); got != ErrorTaskTimeout {
		t.Errorf("CodeOf = %q", got)
	}
	if CodeOf(fmt.Errorf("plain")) != "" {
		t.Errorf("plain error has a code")
	}
	var pe *ProcessingError
	if !As(wrapped, &pe) || pe.TaskID != "t1" {
		t.Errorf("As did not find the processing error")
	}
}

func TestIsValidation(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{NewValidationError("bad", nil), true},
		{NewUnsupportedFormatError(""), true},
		{NewPageLimitExceededError(101, 100), true},
		{NewFileTooLargeError(2, 1), true},
		{NewStorageFailedError("t1", nil), false},
		{NewNoUsablePagesError("t1", 3), false},
		{fmt.Errorf("plain"), false},
	}
	for _, tt := range tests {
		if got := IsValidation(tt.err); got != tt.want {
			t.Errorf("IsValidation(%v) = %v", tt.err, got)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NewNotFoundError("task", "x")) {
		t.Error("NOT_FOUND error not recognized")
	}
	if !IsNotFound(fmt.Errorf("get: %w", ErrNotFound)) {
		t.Error("wrapped sentinel not recognized")
	}
	if IsNotFound(NewStorageFailedError("x", nil)) {
		t.Error("storage failure reported as not found")
	}
}

func TestToMap(t *testing.T) {
	err := NewPageLimitExceededError(120, 100)
	err.Cause = stderrors.New("too many")
	m := err.ToMap()

	if m["error_code"] != string(ErrorPageLimitExceeded) {
		t.Errorf("error_code = %v", m["error_code"])
	}
	if m["page_count"] != 120 || m["page_limit"] != 100 {
		t.Errorf("details not merged: %v", m)
	}
	if m["cause"] != "too many" {
		t.Errorf("cause = %v", m["cause"])
	}
	if err.Unwrap() == nil {
		t.Error("Unwrap lost the cause")
	}
}

var errDeadline = stderrors.New("context deadline exceeded")
