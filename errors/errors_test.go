package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSyncErrorMessage(t *testing.T) {
	err := NewStorageError(OpEnqueue, fmt.Errorf("disk full"))

	msg := err.Error()
	if !strings.Contains(msg, "enqueue") {
		t.Errorf("expected operation in message, got %q", msg)
	}
	if !strings.Contains(msg, "store") {
		t.Errorf("expected component in message, got %q", msg)
	}
	if !strings.Contains(msg, string(ErrCodeStorageFailure)) {
		t.Errorf("expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "disk full") {
		t.Errorf("expected cause in message, got %q", msg)
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewNetworkError(OpReplay, cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}

func TestRetryability(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"storage", NewStorageError(OpBump, fmt.Errorf("x")), true},
		{"network", NewNetworkError(OpReplay, fmt.Errorf("x")), true},
		{"not found", NewNotFoundError(OpResolve, fmt.Errorf("x")), false},
		{"validation", NewValidationError(OpEnqueue, fmt.Errorf("x")), false},
		{"plain error", fmt.Errorf("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	nf := NewNotFoundError(OpResolve, fmt.Errorf("conflict missing"))

	if !IsNotFound(nf) {
		t.Error("expected IsNotFound to be true")
	}
	if IsNotFound(NewStorageError(OpRemove, fmt.Errorf("x"))) {
		t.Error("expected IsNotFound to be false for storage error")
	}

	// Wrapped errors still classify.
	wrapped := fmt.Errorf("resolving: %w", nf)
	if !IsNotFound(wrapped) {
		t.Error("expected IsNotFound to see through wrapping")
	}
}

func TestWrapOpComponentNil(t *testing.T) {
	if WrapOpComponent(nil, OpList, "store") != nil {
		t.Error("expected nil for nil cause")
	}
	if WrapStorage(nil, OpList) != nil {
		t.Error("expected nil for nil cause")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(NewNetworkError(OpReplay, fmt.Errorf("x"))) != ErrCodeNetworkFailure {
		t.Error("expected network failure code")
	}
	if CodeOf(fmt.Errorf("x")) != "" {
		t.Error("expected empty code for plain error")
	}
}
