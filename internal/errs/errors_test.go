package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CategoryTransport, SeverityMedium, "test error")
	if err == nil {
		t.Fatal("New returned nil")
	}
	if err.Category != CategoryTransport {
		t.Errorf("Expected category %s, got %s", CategoryTransport, err.Category)
	}
	if err.Severity != SeverityMedium {
		t.Errorf("Expected severity %s, got %s", SeverityMedium, err.Severity)
	}
	if err.Message != "test error" {
		t.Errorf("Expected message 'test error', got '%s'", err.Message)
	}
	if err.Retryable {
		t.Error("Expected non-retryable error")
	}
}

func TestWrap(t *testing.T) {
	underlying := fmt.Errorf("underlying error")
	err := Wrap(CategoryProtocol, SeverityHigh, "wrapped error", underlying)

	if err.Underlying == nil {
		t.Error("Expected underlying error to be set")
	}
	if !errors.Is(err, underlying) {
		t.Error("Wrapped error should unwrap to underlying error")
	}
}

func TestWrapRetryable(t *testing.T) {
	err := WrapRetryable(CategoryTransport, SeverityMedium, "transport error", nil)
	if !err.Retryable {
		t.Error("Expected retryable error")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains string
	}{
		{
			name:     "simple error",
			err:      New(CategoryAuth, SeverityLow, "bad code"),
			contains: "[auth:low] bad code",
		},
		{
			name:     "wrapped error",
			err:      Wrap(CategoryBootstrap, SeverityCritical, "bootstrap failed", fmt.Errorf("underlying")),
			contains: "[bootstrap:critical] bootstrap failed: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			if errStr != tt.contains {
				t.Errorf("Expected error string to be '%s', got '%s'", tt.contains, errStr)
			}
		})
	}
}

func TestWithContext(t *testing.T) {
	err := New(CategoryTransport, SeverityMedium, "test")
	err.WithContext("socket_path", "/tmp/eddi.sock")
	err.WithContext("attempt", 3)

	if err.Context == nil {
		t.Fatal("Context not initialized")
	}
	if err.Context["socket_path"] != "/tmp/eddi.sock" {
		t.Error("Context 'socket_path' not set correctly")
	}
	if err.Context["attempt"] != 3 {
		t.Error("Context 'attempt' not set correctly")
	}
}

func TestIs(t *testing.T) {
	err1 := New(CategoryTransport, SeverityMedium, "error1")
	err2 := New(CategoryTransport, SeverityHigh, "error2")
	err3 := New(CategoryProtocol, SeverityMedium, "error3")

	if !errors.Is(err1, err2) {
		t.Error("Errors with same category should match with Is")
	}
	if errors.Is(err1, err3) {
		t.Error("Errors with different categories should not match")
	}
}

func TestTransportError(t *testing.T) {
	underlying := fmt.Errorf("eof")
	err := TransportError("splice read failed", underlying)

	if err.Category != CategoryTransport {
		t.Errorf("Expected category %s, got %s", CategoryTransport, err.Category)
	}
	if !err.Retryable {
		t.Error("Transport errors should be retryable (the session may reconnect)")
	}
}

func TestProtocolError(t *testing.T) {
	err := ProtocolError("invalid line", nil)
	if err.Category != CategoryProtocol {
		t.Errorf("Expected category %s, got %s", CategoryProtocol, err.Category)
	}
	if err.Retryable {
		t.Error("Protocol errors should not be retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable error",
			err:      TransportError("timeout", nil),
			expected: true,
		},
		{
			name:     "non-retryable error",
			err:      New(CategoryProtocol, SeverityHigh, "protocol error"),
			expected: false,
		},
		{
			name:     "standard error",
			err:      fmt.Errorf("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryable(tt.err)
			if result != tt.expected {
				t.Errorf("Expected IsRetryable to return %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestGetCategory(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{
			name:     "structured error",
			err:      New(CategoryAuth, SeverityMedium, "test"),
			expected: CategoryAuth,
		},
		{
			name:     "standard error",
			err:      fmt.Errorf("standard error"),
			expected: CategoryExternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetCategory(tt.err)
			if result != tt.expected {
				t.Errorf("Expected category %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestIsCategory(t *testing.T) {
	err := New(CategoryAuth, SeverityMedium, "test")

	if !IsCategory(err, CategoryAuth) {
		t.Error("Expected IsCategory to return true for matching category")
	}
	if IsCategory(err, CategoryProtocol) {
		t.Error("Expected IsCategory to return false for non-matching category")
	}

	stdErr := fmt.Errorf("standard error")
	if IsCategory(stdErr, CategoryAuth) {
		t.Error("Expected IsCategory to return false for standard error")
	}
}

func TestAllErrorConstructors(t *testing.T) {
	tests := []struct {
		name        string
		constructor func() *Error
		category    Category
		shouldRetry bool
	}{
		{"BootstrapError", func() *Error { return BootstrapError("test", nil) }, CategoryBootstrap, false},
		{"TransportError", func() *Error { return TransportError("test", nil) }, CategoryTransport, true},
		{"ProtocolError", func() *Error { return ProtocolError("test", nil) }, CategoryProtocol, false},
		{"ConfigurationError", func() *Error { return ConfigurationError("test", nil) }, CategoryConfiguration, false},
		{"ExternalError", func() *Error { return ExternalError("test", nil) }, CategoryExternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constructor()
			if err.Category != tt.category {
				t.Errorf("Expected category %s, got %s", tt.category, err.Category)
			}
			if err.Retryable != tt.shouldRetry {
				t.Errorf("Expected retryable %v, got %v", tt.shouldRetry, err.Retryable)
			}
		})
	}
}

func TestAuthAndResourceErrors(t *testing.T) {
	auth := AuthError("invalid code")
	if auth.Category != CategoryAuth {
		t.Errorf("Expected category %s, got %s", CategoryAuth, auth.Category)
	}

	res := ResourceError("queue at capacity")
	if res.Category != CategoryResource {
		t.Errorf("Expected category %s, got %s", CategoryResource, res.Category)
	}
}
