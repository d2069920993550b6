package api //nolint:revive // package name is intentional

import (
	"net/http"
)

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Generations
	mux.HandleFunc("POST /v1/generations", h.SubmitGeneration)
	mux.HandleFunc("POST /v1/generations:estimate", h.EstimateCost)
	mux.HandleFunc("GET /v1/generations/{id}", h.GetGeneration)
	mux.HandleFunc("GET /v1/generations/{id}/image", h.GetGenerationImage)
	mux.HandleFunc("DELETE /v1/generations/{id}", h.CancelGeneration)

	// Providers
	mux.HandleFunc("GET /v1/providers", h.ListProviders)
	mux.HandleFunc("GET /v1/providers/{id}/health", h.CheckProviderHealth)

	// Cache and queue
	mux.HandleFunc("GET /v1/stats/cache", h.CacheStats)
	mux.HandleFunc("GET /v1/stats/queue", h.QueueStats)
	mux.HandleFunc("DELETE /v1/cache/tags/{tag}", h.InvalidateTag)

	// Probes
	mux.HandleFunc("GET /health/live", h.Live)
	mux.HandleFunc("GET /health/ready", h.Ready)
}

// RouteInfo describes an API route.
type RouteInfo struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// GetRoutes returns information about all registered routes.
func GetRoutes() []RouteInfo {
	return []RouteInfo{
		{Method: "POST", Path: "/v1/generations", Description: "Submit a generation; ?wait=true blocks until done", Category: "generation"},
		{Method: "POST", Path: "/v1/generations:estimate", Description: "Estimate the cost of a generation", Category: "generation"},
		{Method: "GET", Path: "/v1/generations/{id}", Description: "Poll generation status", Category: "generation"},
		{Method: "GET", Path: "/v1/generations/{id}/image", Description: "Download the generated image", Category: "generation"},
		{Method: "DELETE", Path: "/v1/generations/{id}", Description: "Cancel a generation", Category: "generation"},

		{Method: "GET", Path: "/v1/providers", Description: "List providers and their status", Category: "provider"},
		{Method: "GET", Path: "/v1/providers/{id}/health", Description: "Probe one provider", Category: "provider"},

		{Method: "GET", Path: "/v1/stats/cache", Description: "Cache statistics", Category: "stats"},
		{Method: "GET", Path: "/v1/stats/queue", Description: "Queue statistics", Category: "stats"},
		{Method: "DELETE", Path: "/v1/cache/tags/{tag}", Description: "Invalidate cache entries by tag", Category: "cache"},

		{Method: "GET", Path: "/health/live", Description: "Liveness probe", Category: "health"},
		{Method: "GET", Path: "/health/ready", Description: "Readiness probe", Category: "health"},
	}
}
