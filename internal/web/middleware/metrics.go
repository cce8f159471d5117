package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-finder/internal/observability"
)

// Metrics records per-request duration labelled by method, route pattern and
// status code. The chi route pattern keeps label cardinality bounded.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = "unmatched"
			}
			observability.HTTPRequestDuration.
				WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).
				Observe(time.Since(start).Seconds())
		})
	}
}
