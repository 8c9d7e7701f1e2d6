package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/logging"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/metrics"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/ratelimit"
)

// responseWriter wraps http.ResponseWriter to capture the status code for
// logging and metrics, mirroring infrastructure/middleware's own wrapper.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// loggingMiddleware logs every request with a trace ID, the same shape as
// infrastructure/middleware.LoggingMiddleware.
func loggingMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" {
				traceID = logging.NewTraceID()
			}
			ctx := logging.WithTraceID(r.Context(), traceID)
			r = r.WithContext(ctx)
			w.Header().Set("X-Trace-ID", traceID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Info(ctx, "http request", map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   wrapped.statusCode,
				"duration": time.Since(start).String(),
			})
		})
	}
}

// metricsMiddleware records HTTP metrics per request, the same shape as
// infrastructure/middleware.MetricsMiddleware.
func metricsMiddleware(serviceName string, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.IncrementInFlight()
			defer m.DecrementInFlight()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			m.RecordHTTPRequest(serviceName, r.Method, path, strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

// rateLimitMiddleware caps the inbound request rate per daemon process —
// protects a broker or authority's single event-processor goroutine from a
// burst of controller retries, which would otherwise just queue up behind
// each other on the same serialized Execute call.
func rateLimitMiddleware(limiter *ratelimit.RateLimiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.LimitExceeded() {
				writeError(w, cperrors.New(cperrors.ErrCodeInternal, "rate limit exceeded", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
