// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	"github.com/callscribe/callscribe/internal/log"
)

// Logging creates a middleware that emits a structured access log line per request.
func Logging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			lw := &metricsWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(lw, r)

			logger := log.WithComponentFromContext(r.Context(), "http")
			logger.Info().
				Str("event", "http.request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", lw.statusCode).
				Int64("bytes", lw.written).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
