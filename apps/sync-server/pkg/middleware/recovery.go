package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

// Recovery middleware recovers from panics
func Recovery(log *slog.Logger) func(http.Handler) http.Handler {
	log = logger.OrDiscard(log).With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("handler panicked",
						"method", r.Method, "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					if err := json.NewEncoder(w).Encode(model.ErrInternalServer); err != nil {
						log.Error("failed to encode panic response", "error", err)
					}
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
