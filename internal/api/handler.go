// Package api provides the HTTP surface of the generation gateway.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/genmux"
	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
	"github.com/blueberrycongee/genmux/pkg/provider"
	"github.com/blueberrycongee/genmux/pkg/types"
)

// Handler serves generation, provider and stats endpoints over a Client.
type Handler struct {
	client      *genmux.Client
	logger      *slog.Logger
	maxBodySize int64
	waitTimeout time.Duration
}

// HandlerConfig contains configuration for Handler.
type HandlerConfig struct {
	MaxBodySize int64         // Maximum request body size in bytes
	WaitTimeout time.Duration // Upper bound for ?wait=true submissions
}

// NewHandler creates a new handler that wraps genmux.Client.
func NewHandler(client *genmux.Client, logger *slog.Logger, cfg *HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		client:      client,
		logger:      logger,
		maxBodySize: DefaultMaxBodySize,
		waitTimeout: 2 * time.Minute,
	}
	if cfg != nil {
		if cfg.MaxBodySize > 0 {
			h.maxBodySize = cfg.MaxBodySize
		}
		if cfg.WaitTimeout > 0 {
			h.waitTimeout = cfg.WaitTimeout
		}
	}
	return h
}

// SubmitGeneration handles POST /v1/generations. The request is queued and
// acknowledged with 202 unless it hits the cache; with ?wait=true the
// handler blocks until the result is terminal.
func (h *Handler) SubmitGeneration(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRequest(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
		defer cancel()

		res, err := h.client.Generate(ctx, req)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, newGenerationResponse(res))
		return
	}

	sub, err := h.client.Submit(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	status := http.StatusAccepted
	if sub.CacheHit {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/v1/generations/"+sub.ID)
	writeJSON(w, h.logger, status, sub)
}

// EstimateCost handles POST /v1/generations:estimate.
func (h *Handler) EstimateCost(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRequest(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	est, err := h.client.EstimateCost(req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, est)
}

// GetGeneration handles GET /v1/generations/{id}.
func (h *Handler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	res, err := h.client.PollStatus(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, newGenerationResponse(res))
}

// GetGenerationImage handles GET /v1/generations/{id}/image and writes the raw
// image bytes.
func (h *Handler) GetGenerationImage(w http.ResponseWriter, r *http.Request) {
	payload, err := h.client.FetchResult(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "image/"+payload.Format)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload.Image)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload.Image); err != nil {
		h.logger.Warn("failed to write image", "error", err)
	}
}

// CancelGeneration handles DELETE /v1/generations/{id}.
func (h *Handler) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.client.Cancel(id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := h.client.PollStatus(id)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, newGenerationResponse(res))
}

// ListProviders handles GET /v1/providers.
func (h *Handler) ListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"object": "list",
		"data":   h.client.Providers(),
	})
}

// CheckProviderHealth handles GET /v1/providers/{id}/health.
func (h *Handler) CheckProviderHealth(w http.ResponseWriter, r *http.Request) {
	res, err := h.client.CheckProviderHealth(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// CacheStats handles GET /v1/stats/cache.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.client.CacheStats(r.Context())
	if err != nil {
		writeError(w, h.logger, genErrors.NewCacheUnavailableError(err.Error()))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, stats)
}

// QueueStats handles GET /v1/stats/queue.
func (h *Handler) QueueStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.client.QueueStats())
}

// InvalidateTag handles DELETE /v1/cache/tags/{tag}.
func (h *Handler) InvalidateTag(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	n, err := h.client.InvalidateTag(r.Context(), tag)
	if err != nil {
		writeError(w, h.logger, genErrors.NewCacheUnavailableError(err.Error()))
		return
	}
	h.logger.Info("cache tag invalidated", "tag", tag, "deleted", n)
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"tag": tag, "deleted": n})
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. The gateway is ready when the cache
// backend answers and at least one provider is online.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"cache": "ok", "providers": "ok"}
	ready := true

	if err := h.client.Ping(r.Context()); err != nil {
		checks["cache"] = err.Error()
		ready = false
	}
	online := 0
	for _, d := range h.client.Providers() {
		if d.Status == provider.StatusOnline {
			online++
		}
	}
	if online == 0 {
		checks["providers"] = "no provider online"
		ready = false
	}

	status := http.StatusOK
	body := map[string]any{"status": "ok", "checks": checks}
	if !ready {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
	}
	writeJSON(w, h.logger, status, body)
}

func (h *Handler) decodeRequest(r *http.Request) (*types.GenerationRequest, error) {
	defer func() { _ = r.Body.Close() }()

	// Limit request body size to prevent OOM
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
	if err != nil {
		return nil, genErrors.NewInvalidRequestError("", "failed to read request body")
	}
	if int64(len(body)) > h.maxBodySize {
		return nil, genErrors.NewInvalidRequestError("", "request body too large")
	}

	var req types.GenerationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, genErrors.NewInvalidRequestError("", "invalid JSON: "+err.Error())
	}
	return &req, nil
}

// generationResponse omits image bytes; they are served by the image route.
type generationResponse struct {
	ID          string                     `json:"id"`
	RequestID   string                     `json:"request_id"`
	Status      types.Status               `json:"status"`
	Image       *imageInfo                 `json:"image,omitempty"`
	Metadata    types.ResultMetadata       `json:"metadata"`
	Error       *genErrors.GenerationError `json:"error,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
}

type imageInfo struct {
	URL    string `json:"url"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bytes  int    `json:"bytes"`
}

func newGenerationResponse(res *types.GenerationResult) generationResponse {
	out := generationResponse{
		ID:          res.ID,
		RequestID:   res.RequestID,
		Status:      res.Status,
		Metadata:    res.Metadata,
		Error:       res.Error,
		CreatedAt:   res.CreatedAt,
		UpdatedAt:   res.UpdatedAt,
		CompletedAt: res.CompletedAt,
	}
	if res.Payload != nil {
		out.Image = &imageInfo{
			URL:    "/v1/generations/" + res.ID + "/image",
			Format: res.Payload.Format,
			Width:  res.Payload.Width,
			Height: res.Payload.Height,
			Bytes:  len(res.Payload.Image),
		}
	}
	return out
}
