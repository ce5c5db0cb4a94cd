package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kupo-index/kupo/internal/metrics"
)

// statusRecorder captures the status code a handler wrote, since
// http.ResponseWriter doesn't expose it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// tracer records {method, path, status} for each request via zap and
// the kupo_http_requests_total counter (spec §4.3 "A tracer middleware
// records {method, path, status} for each request"), the same
// request-scoped-logger-fields idiom the teacher's transport layer
// uses.
func tracer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(started)),
			)
			metrics.ObserveHTTPRequest(r.Method, r.URL.Path, rec.status)
		})
	}
}
