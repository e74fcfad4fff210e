package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/metrics"
)

// Metrics middleware records request counts, latency and response size
func Metrics(m metrics.Collector) func(http.Handler) http.Handler {
	m = metrics.OrNop(m)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)

			next.ServeHTTP(rw, r)

			m.HTTPRequest(r.Method, routePattern(r), rw.statusCode, time.Since(start), rw.bytesWritten)
		})
	}
}

// routePattern keeps label cardinality bounded by using the mux template
func routePattern(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
