// Package shield is the middleware stack in front of the rtlwatch HTTP
// API: security headers, body limits, request tracing and HEAD handling.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(10 << 20) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the middleware for a local JSON API, outermost
// first: HeadToGet, SecurityHeaders, MaxBody, TraceID.
func DefaultStack(maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(maxBody),
		TraceID,
	}
}
