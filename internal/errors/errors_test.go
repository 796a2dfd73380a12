// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		// General errors
		{"internal", ErrInternal},
		{"invalid", ErrInvalid},
		{"not found", ErrNotFound},
		{"validation", ErrValidation},

		// Queue errors
		{"queue full", ErrQueueFull},
		{"retry exhausted", ErrRetryExhausted},
		{"terminal", ErrTerminal},

		// Connectivity errors
		{"offline", ErrOffline},
		{"reconnect cap", ErrReconnectCap},
		{"channel closed", ErrChannelClosed},

		// Storage errors
		{"storage", ErrStorage},
		{"storage corrupt", ErrStorageCorrupt},

		// Session errors
		{"invalid transition", ErrInvalidTransition},
		{"session closed", ErrSessionClosed},

		// Live channel errors
		{"malformed message", ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				t.Errorf("ErrorCode %q should not be empty", tt.name)
			}
		})
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrStorage, Message: "write failed", Err: errors.New("disk full")},
			want:     "[STORAGE_ERROR] write failed: disk full",
		},
		{
			name:     "offline error",
			appError: &AppError{Code: ErrOffline, Message: "no connectivity"},
			want:     "[OFFLINE] no connectivity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestAppError_Unwrap verifies unwrapping of underlying error.
func TestAppError_Unwrap(t *testing.T) {
	underlyingErr := errors.New("underlying error")

	tests := []struct {
		name          string
		appError      *AppError
		wantUnwrapped error
	}{
		{
			name:          "with underlying error",
			appError:      &AppError{Code: ErrInternal, Message: "failed", Err: underlyingErr},
			wantUnwrapped: underlyingErr,
		},
		{
			name:          "without underlying error",
			appError:      &AppError{Code: ErrInternal, Message: "failed"},
			wantUnwrapped: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Unwrap()
			if got != tt.wantUnwrapped {
				t.Errorf("Unwrap() = %v, want %v", got, tt.wantUnwrapped)
			}
		})
	}
}

// TestNew verifies AppError creation.
func TestNew(t *testing.T) {
	err := New(ErrQueueFull, "queue is at capacity")
	if err == nil {
		t.Fatal("New() returned nil")
	}
	if err.Code != ErrQueueFull {
		t.Errorf("Code = %q, want %q", err.Code, ErrQueueFull)
	}
	if err.Message != "queue is at capacity" {
		t.Errorf("Message = %q, want %q", err.Message, "queue is at capacity")
	}
	if err.Err != nil {
		t.Errorf("Err = %v, want nil", err.Err)
	}
}

// TestWrap verifies error wrapping preserves the underlying error.
func TestWrap(t *testing.T) {
	underlying := errors.New("connection refused")
	err := Wrap(ErrTerminal, "mutation rejected", underlying)

	if err.Code != ErrTerminal {
		t.Errorf("Code = %q, want %q", err.Code, ErrTerminal)
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should find the wrapped error")
	}
}

// TestIs verifies code matching.
func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching code", New(ErrOffline, "offline"), ErrOffline, true},
		{"different code", New(ErrOffline, "offline"), ErrTerminal, false},
		{"plain error", errors.New("plain"), ErrOffline, false},
		{"nil error", nil, ErrOffline, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}
