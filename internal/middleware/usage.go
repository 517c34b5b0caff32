package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// EndpointRecorder increments the per-(endpoint, method) counter.
type EndpointRecorder interface {
	IncrementEndpointUsage(ctx context.Context, endpoint, method string) error
}

// UsageRecorder counts every routed request against its route template.
// Recording is fire-and-forget: it runs after the response and a failed
// upsert only produces a log line, never a failed request. It must be
// installed on the router (mux.Router.Use) so the matched route is
// available.
func UsageRecorder(rec EndpointRecorder, logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					endpoint = tpl
				}
			}
			method := r.Method

			next.ServeHTTP(w, r)

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rec.IncrementEndpointUsage(ctx, endpoint, method); err != nil {
					logger.Warn("endpoint usage record failed", "error", err, "endpoint", endpoint, "method", method)
				}
			}()
		})
	}
}
