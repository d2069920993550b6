package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
)

func TestReadLimitedBody_AllowsWithinLimit(t *testing.T) {
	body, err := ReadLimitedBody(strings.NewReader("hello"), 10)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestReadLimitedBody_RejectsOversize(t *testing.T) {
	body, err := ReadLimitedBody(strings.NewReader("helloworld"), 5)
	assert.True(t, errors.Is(err, ErrResponseBodyTooLarge))
	assert.Equal(t, "hello", string(body))
}

func TestDoJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"value":"done"}`))
		case "/limited":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
		case "/policy":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad prompt"}`))
		case "/detail":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"detail":"model loading"}`))
		case "/garbage":
			_, _ = w.Write([]byte(`not json`))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	client := server.Client()

	var out struct {
		Value string `json:"value"`
	}
	err := DoJSON(ctx, client, JSONCall{
		Provider: "p",
		URL:      server.URL + "/ok",
		Headers:  map[string]string{"Authorization": "Bearer k"},
		Body:     map[string]string{"prompt": "x"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "done", out.Value)

	tests := []struct {
		path     string
		wantCode string
		wantMsg  string
	}{
		{"/limited", genErrors.CodeRateLimit, "slow down"},
		{"/policy", genErrors.CodeInvalidRequest, "bad prompt"},
		{"/detail", genErrors.CodeServiceUnavailable, "model loading"},
		{"/garbage", genErrors.CodeServiceUnavailable, "unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := DoJSON(ctx, client, JSONCall{Provider: "p", URL: server.URL + tt.path, Body: struct{}{}}, &out)
			genErr, ok := genErrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, genErr.Code)
			assert.Contains(t, genErr.Message, tt.wantMsg)
			assert.Equal(t, "p", genErr.Provider)
		})
	}

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := DoJSON(ctx, client, JSONCall{Provider: "p", Method: http.MethodGet, URL: server.URL + "/slow"}, nil)
		genErr, ok := genErrors.As(err)
		require.True(t, ok)
		assert.Equal(t, genErrors.CodeTimeout, genErr.Code)
	})
}
