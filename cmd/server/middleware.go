package main

import (
	"net/http"

	"github.com/blueberrycongee/genmux/internal/config"
	"github.com/blueberrycongee/genmux/internal/metrics"
	"github.com/blueberrycongee/genmux/internal/observability"
)

// buildMiddlewareStack wraps next so CORS runs first and metrics see the
// request id.
func buildMiddlewareStack(cfg *config.Config, next http.Handler) http.Handler {
	handler := metrics.Middleware(next)
	handler = observability.RequestIDMiddleware(handler)
	handler = corsMiddleware(cfg.CORS, handler)
	return handler
}
