package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestMeterError_Error(t *testing.T) {
	tests := []struct {
		name      string
		op        Operation
		component string
		code      ErrorCode
		err       error
		want      string
	}{
		{
			name:      "with component and code",
			op:        OpFlush,
			component: "outbox",
			code:      ErrCodeNetworkFailure,
			err:       fmt.Errorf("connection refused"),
			want:      "flush operation failed in outbox component [NETWORK_FAILURE]: connection refused",
		},
		{
			name:      "with component no code",
			op:        OpFetch,
			component: "remote",
			err:       fmt.Errorf("connection refused"),
			want:      "fetch operation failed in remote component: connection refused",
		},
		{
			name: "without component with code",
			op:   OpSave,
			code: ErrCodeValidationFailure,
			err:  fmt.Errorf("missing room"),
			want: "save operation failed [VALIDATION_FAILURE]: missing room",
		},
		{
			name: "without component or code",
			op:   OpSave,
			err:  fmt.Errorf("boom"),
			want: "save operation failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &MeterError{
				Op:        tt.op,
				Component: tt.component,
				Err:       tt.err,
				Code:      tt.code,
			}

			if got := e.Error(); got != tt.want {
				t.Errorf("MeterError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeterError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	e := NewNetworkError(OpFetch, cause)

	if !errors.Is(e, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network error", NewNetworkError(OpFlush, fmt.Errorf("timeout")), true},
		{"storage error", NewStorageError(OpCacheWrite, fmt.Errorf("disk full")), true},
		{"validation error", NewValidationError(OpSave, fmt.Errorf("missing room")), false},
		{"auth error", NewAuthError(OpApprove, fmt.Errorf("not admin")), false},
		{"config error", NewConfigError(OpConfig, fmt.Errorf("missing token")), false},
		{"plain error", fmt.Errorf("plain"), false},
		{"wrapped retryable", fmt.Errorf("outer: %w", NewRetryable(OpFlush, fmt.Errorf("inner"))), true},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NewAuthError(OpAuth, fmt.Errorf("bad pin"))); got != ErrCodeAuthFailure {
		t.Fatalf("expected AUTH_FAILURE, got %s", got)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != "" {
		t.Fatalf("expected empty code, got %s", got)
	}
}
