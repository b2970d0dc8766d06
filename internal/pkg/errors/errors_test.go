package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestWithMessage(t *testing.T) {
	custom := ErrBadRequest.WithMessage("Invalid request body")

	if custom.Message != "Invalid request body" {
		t.Errorf("Expected custom message, got %s", custom.Message)
	}
	if custom.Code != ErrBadRequest.Code {
		t.Errorf("Expected code %s, got %s", ErrBadRequest.Code, custom.Code)
	}
	if custom.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", custom.StatusCode)
	}
	if ErrBadRequest.Message == custom.Message {
		t.Error("WithMessage must not mutate the shared error value")
	}
}

func TestAsAPIError(t *testing.T) {
	t.Run("passes API errors through", func(t *testing.T) {
		err := NewNotFoundError("Client")
		got := AsAPIError(err)
		if got != err {
			t.Errorf("Expected the same error back, got %v", got)
		}
		if got.StatusCode != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", got.StatusCode)
		}
	})

	t.Run("masks plain errors as internal", func(t *testing.T) {
		got := AsAPIError(fmt.Errorf("pq: connection refused"))
		if got != ErrInternal {
			t.Errorf("Expected ErrInternal, got %v", got)
		}
	})
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("version", "version is required")
	if err.Code != "validation_error" {
		t.Errorf("Expected code validation_error, got %s", err.Code)
	}
	if err.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", err.StatusCode)
	}
	if err.Error() != "Validation failed: version: version is required" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}
