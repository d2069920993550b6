package api //nolint:revive // package name is intentional

import (
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Message      string `json:"message"`
	Code         string `json:"code"`
	Provider     string `json:"provider,omitempty"`
	Retryable    bool   `json:"retryable"`
	SuggestedFix string `json:"suggested_fix,omitempty"`
}

func newErrorResponse(genErr *genErrors.GenerationError) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{
		Message:      genErr.Message,
		Code:         genErr.Code,
		Provider:     genErr.Provider,
		Retryable:    genErr.Retryable,
		SuggestedFix: genErr.SuggestedFix,
	}}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	genErr, ok := genErrors.As(err)
	if !ok {
		genErr = genErrors.NewInternalError("", err.Error())
	}
	if genErr.HTTPStatusCode() >= http.StatusInternalServerError {
		logger.Error("request failed", "code", genErr.Code, "provider", genErr.Provider, "error", genErr.Message)
	}
	writeJSON(w, logger, genErr.HTTPStatusCode(), newErrorResponse(genErr))
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
