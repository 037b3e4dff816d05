package middleware

import (
	"net/http"
)

const (
	// DefaultMaxBodySize is 1MB for public endpoints
	DefaultMaxBodySize int64 = 1 << 20 // 1MB

	// WebhookMaxBodySize is 256KB; gateway payloads are small JSON envelopes
	WebhookMaxBodySize int64 = 256 << 10
)

// RequestSize limits the size of incoming request bodies.
//
// It wraps the request body with http.MaxBytesReader to enforce the limit.
// If the body exceeds maxBytes, reads fail and the handler returns 413.
func RequestSize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// PublicRequestSize limits request bodies to 1MB for public endpoints.
func PublicRequestSize() func(http.Handler) http.Handler {
	return RequestSize(DefaultMaxBodySize)
}

// WebhookRequestSize limits gateway webhook bodies to 256KB.
func WebhookRequestSize() func(http.Handler) http.Handler {
	return RequestSize(WebhookMaxBodySize)
}
