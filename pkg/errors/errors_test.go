package errors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantCode   string
		retryable  bool
	}{
		{"unauthorized 401", http.StatusUnauthorized, CodeAuthentication, false},
		{"forbidden 403", http.StatusForbidden, CodeAuthentication, false},
		{"rate limit 429", http.StatusTooManyRequests, CodeRateLimit, true},
		{"timeout 408", http.StatusRequestTimeout, CodeTimeout, true},
		{"gateway timeout 504", http.StatusGatewayTimeout, CodeTimeout, true},
		{"bad request 400", http.StatusBadRequest, CodeInvalidRequest, false},
		{"internal error 500", http.StatusInternalServerError, CodeServiceUnavailable, true},
		{"bad gateway 502", http.StatusBadGateway, CodeServiceUnavailable, true},
		{"teapot 418", http.StatusTeapot, CodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromStatus("sd", tt.statusCode, "boom")
			assert.Equal(t, tt.wantCode, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, "sd", err.Provider)
		})
	}
}

func TestGenerationError(t *testing.T) {
	t.Run("error message format", func(t *testing.T) {
		msg := NewRateLimitError("replicate", "slow down").Error()
		for _, s := range []string{"rate_limit_error", "replicate", "429"} {
			if !strings.Contains(msg, s) {
				t.Errorf("error message should contain %q, got %q", s, msg)
			}
		}
	})

	t.Run("HTTP status codes", func(t *testing.T) {
		tests := []struct {
			name     string
			err      *GenerationError
			wantCode int
		}{
			{"validation", NewValidationError("msg"), 400},
			{"auth", NewAuthenticationError("p", "msg"), 401},
			{"rate limit", NewRateLimitError("p", "msg"), 429},
			{"not found", NewNotFoundError("msg"), 404},
			{"timeout", NewTimeoutError("p", "msg"), 408},
			{"unavailable", NewServiceUnavailableError("p", "msg"), 503},
			{"internal", NewInternalError("p", "msg"), 500},
			{"exhausted", NewExhaustedFailoverError(nil, 3), 502},
			{"zero", &GenerationError{}, 500},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.wantCode, tt.err.HTTPStatusCode())
			})
		}
	})
}

func TestNewExhaustedFailoverError(t *testing.T) {
	last := NewRateLimitError("b", "quota exceeded")
	err := NewExhaustedFailoverError(last, 3)

	assert.Equal(t, CodeExhaustedFailover, err.Code)
	assert.Equal(t, "b", err.Provider)
	assert.True(t, err.Retryable)
	assert.Same(t, last, err.Cause)
	assert.Contains(t, err.Message, "quota exceeded")
	assert.NotEmpty(t, err.SuggestedFix)

	empty := NewExhaustedFailoverError(nil, 0)
	assert.Nil(t, empty.Cause)
	assert.NotEmpty(t, empty.SuggestedFix)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap("p", nil))

	structured := NewContentPolicyError("", "nope")
	wrapped := Wrap("p", fmt.Errorf("call: %w", structured))
	require.NotNil(t, wrapped)
	assert.Equal(t, CodeContentPolicy, wrapped.Code)
	assert.Equal(t, "p", wrapped.Provider)
	assert.Empty(t, structured.Provider, "original must not be mutated")

	assert.Equal(t, CodeTimeout, Wrap("p", context.DeadlineExceeded).Code)
	assert.Equal(t, CodeCancelled, Wrap("p", context.Canceled).Code)
	assert.Equal(t, CodeServiceUnavailable, Wrap("p", fmt.Errorf("dial tcp: refused")).Code)
}

func TestIsRequestScoped(t *testing.T) {
	assert.True(t, IsRequestScoped(CodeContentPolicy))
	assert.True(t, IsRequestScoped(CodeInvalidRequest))
	assert.False(t, IsRequestScoped(CodeRateLimit))
	assert.False(t, IsRequestScoped(CodeAuthentication))
}
