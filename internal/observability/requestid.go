// Package observability provides request IDs, redacting structured logging
// and tracing for the gateway.
package observability

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request ID in both directions.
	RequestIDHeader = "X-Request-ID"
	// CorrelationIDHeader is accepted on input when RequestIDHeader is absent.
	CorrelationIDHeader = "X-Correlation-ID"
)

// validRequestID bounds caller-supplied IDs to log- and header-safe text.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

type requestIDKey struct{}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// incomingRequestID returns the first valid ID among the accepted headers.
func incomingRequestID(h http.Header) (string, bool) {
	for _, name := range []string{RequestIDHeader, CorrelationIDHeader} {
		if id := strings.TrimSpace(h.Get(name)); validRequestID.MatchString(id) {
			return id, true
		}
	}
	return "", false
}

// RequestIDMiddleware keeps a valid caller-supplied ID or assigns a UUID,
// stores it in the request context and echoes it as RequestIDHeader. Client
// submissions made under that context adopt it as their request ID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := incomingRequestID(r.Header)
		if !ok {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ContextWithRequestID(r.Context(), id)))
	})
}
