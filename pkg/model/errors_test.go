package model

import "testing"

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrNotFound, Message: "task 'task_123' not found"}
	want := "NOT_FOUND: task 'task_123' not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("task", "task_abc")
	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Message != "task 'task_abc' not found" {
		t.Errorf("Message = %q, want %q", err.Message, "task 'task_abc' not found")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("Invalid request",
		FieldError{Field: "task", Message: "required"},
	)
	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if len(err.Details) != 1 {
		t.Errorf("Details length = %d, want 1", len(err.Details))
	}
}

func TestTransitionError(t *testing.T) {
	err := &TransitionError{ID: "task_123", From: TaskStatusFinished}
	want := "no state transition from FINISHED (task task_123, failed=false)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
