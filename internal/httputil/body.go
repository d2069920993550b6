// Package httputil provides helpers for calling generation backends over HTTP.
package httputil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
)

const (
	// DefaultMaxResponseBodyBytes caps upstream response bodies to 32MB;
	// base64 images are large.
	DefaultMaxResponseBodyBytes int64 = 32 * 1024 * 1024
)

var ErrResponseBodyTooLarge = errors.New("response body too large")

// ReadLimitedBody reads up to maxBytes from reader and returns ErrResponseBodyTooLarge when exceeded.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	limited := io.LimitReader(reader, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		body = body[:int(maxBytes)]
		return body, ErrResponseBodyTooLarge
	}
	return body, nil
}

// JSONCall is one JSON request to a backend.
type JSONCall struct {
	Provider string
	Method   string
	URL      string
	Headers  map[string]string
	Body     any
}

// DoJSON sends call, maps transport failures and non-2xx statuses to
// GenerationErrors attributed to call.Provider, and decodes a 2xx body into dest.
func DoJSON(ctx context.Context, client *http.Client, call JSONCall, dest any) error {
	var reader io.Reader
	if call.Body != nil {
		payload, err := json.Marshal(call.Body)
		if err != nil {
			return genErrors.NewInternalError(call.Provider, fmt.Sprintf("marshal request: %v", err))
		}
		reader = bytes.NewReader(payload)
	}

	method := call.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, call.URL, reader)
	if err != nil {
		return genErrors.NewInternalError(call.Provider, fmt.Sprintf("create request: %v", err))
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return genErrors.Wrap(call.Provider, err)
	}
	defer resp.Body.Close()

	body, err := ReadLimitedBody(resp.Body, DefaultMaxResponseBodyBytes)
	if err != nil {
		return genErrors.NewServiceUnavailableError(call.Provider, fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return genErrors.FromStatus(call.Provider, resp.StatusCode, errorMessage(body, resp.Status))
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return genErrors.NewServiceUnavailableError(call.Provider, fmt.Sprintf("unmarshal response: %v", err))
	}
	return nil
}

// errorMessage extracts a readable message from common error body shapes:
// {"error":{"message":...}}, {"error":"..."}, {"detail":"..."}.
func errorMessage(body []byte, fallback string) string {
	var shaped struct {
		Error  json.RawMessage `json:"error"`
		Detail string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &shaped); err == nil {
		if len(shaped.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(shaped.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var plain string
			if json.Unmarshal(shaped.Error, &plain) == nil && plain != "" {
				return plain
			}
		}
		if shaped.Detail != "" {
			return shaped.Detail
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 512 {
		return text
	}
	return fallback
}
