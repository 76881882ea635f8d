package middleware

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are paths without dynamic segments.
var staticRoutes = map[string]bool{
	"/":        true,
	"/events":  true,
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// eventSubresources are the fixed segments allowed after /events/{id}.
var eventSubresources = map[string]bool{
	"members":   true,
	"locations": true,
	"live":      true,
	"rules":     true,
}

// normalizePath converts paths with dynamic segments to route patterns to prevent
// cardinality explosion in metrics. This maps paths like /events/123/live to
// /events/{id}/live.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(path, "/")

	switch {
	case strings.HasPrefix(path, "/events/"):
		if len(parts) == 3 && parts[2] != "" {
			return "/events/{id}"
		}
		if len(parts) == 4 && eventSubresources[parts[3]] {
			return "/events/{id}/" + parts[3]
		}
		// /events/{id}/members/{user_id}/sharing
		if len(parts) == 6 && parts[3] == "members" && parts[5] == "sharing" {
			return "/events/{id}/members/{user_id}/sharing"
		}
	case strings.HasPrefix(path, "/rules/"):
		if len(parts) == 3 && parts[2] != "" {
			return "/rules/{id}"
		}
	case strings.HasPrefix(path, "/users/"):
		// /users/{id}/notifications/ws
		if len(parts) == 5 && parts[3] == "notifications" && parts[4] == "ws" {
			return "/users/{id}/notifications/ws"
		}
	}

	// Unknown paths collapse into one series so scanners cannot grow the label set.
	return "other"
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

// Hijack lets WebSocket upgrades pass through the metrics middleware.
func (mrw *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	mrw.wroteHeader = true
	mrw.statusCode = http.StatusSwitchingProtocols
	return http.NewResponseController(mrw.ResponseWriter).Hijack()
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// It captures duration, request/response sizes, and request counts.
// Health check endpoints (/health, /ready) are excluded from metrics to avoid cardinality issues.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Exclude health check endpoints from metrics
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			// Wrap response writer to capture status and size
			mrw := newMetricsResponseWriter(w)

			// Get request size from Content-Length header
			requestSize := int64(0)
			if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
				if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
					requestSize = size
				}
			}

			// Call the next handler
			next.ServeHTTP(mrw, r)

			// Calculate duration in seconds
			duration := time.Since(start).Seconds()

			// Normalize path to prevent cardinality explosion
			normalizedPath := normalizePath(r.URL.Path)

			// Record metrics
			metrics.ObserveHTTPRequest(
				r.Method,
				normalizedPath,
				strconv.Itoa(mrw.statusCode),
				duration,
				requestSize,
				mrw.size,
			)
		})
	}
}
