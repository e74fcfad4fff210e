package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
)

// Logging middleware logs HTTP requests
func Logging(log *slog.Logger) func(http.Handler) http.Handler {
	log = logger.OrDiscard(log).With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)

			next.ServeHTTP(rw, r)

			level := slog.LevelInfo
			if rw.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", rw.statusCode,
				"bytes", rw.bytesWritten,
				"duration", time.Since(start),
			)
		})
	}
}
