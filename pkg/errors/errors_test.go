package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// === AppError formatting ===

func TestAppError_Error(t *testing.T) {
	plain := NewNotFoundError("Batch not found")
	if got := plain.Error(); got != "[NOT_FOUND] Batch not found" {
		t.Errorf("Error: got %q", got)
	}

	wrapped := NewInternalErrorWithCause("read input file", errors.New("no such file"))
	if got := wrapped.Error(); got != "[INTERNAL_ERROR] read input file: no such file" {
		t.Errorf("Error with cause: got %q", got)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewUpstreamConnectError("Could not connect to vLLM service.", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}

// === HTTP status mapping ===

func TestAppError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeAlreadyExists, http.StatusConflict},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeServiceUnavail, http.StatusServiceUnavailable},
		{CodeUpstreamConnect, http.StatusServiceUnavailable},
		{CodeUpstreamTimeout, http.StatusGatewayTimeout},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		err := &AppError{Code: tt.code, Message: "x"}
		if got := err.HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%s): got %d, want %d", tt.code, got, tt.want)
		}
	}
}

// === Inspectors ===

func TestInspectors(t *testing.T) {
	notFound := NewNotFoundError("Batch not found")
	timeout := NewUpstreamTimeoutError("Request to vLLM timed out.", nil)

	if !IsNotFound(notFound) {
		t.Error("IsNotFound should match")
	}
	if IsNotFound(timeout) {
		t.Error("IsNotFound should not match timeout")
	}
	if !IsUpstreamTimeout(timeout) {
		t.Error("IsUpstreamTimeout should match")
	}
	if IsNotFound(nil) || IsUpstreamTimeout(nil) {
		t.Error("inspectors should be false on nil")
	}

	// Wrapped AppError is still visible through fmt.Errorf %w chains.
	deep := fmt.Errorf("handler: %w", notFound)
	if !IsNotFound(deep) {
		t.Error("IsNotFound should see through wrapping")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NewInvalidInputError("bad")); got != CodeInvalidInput {
		t.Errorf("CodeOf AppError: got %s", got)
	}
	if got := CodeOf(errors.New("plain")); got != CodeInternal {
		t.Errorf("CodeOf plain error: got %s", got)
	}
}
