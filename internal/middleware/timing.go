package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/scriptgen/backend/internal/logger"
)

// DefaultSlowThreshold marks requests worth a warning.
const DefaultSlowThreshold = 500 * time.Millisecond

// Timing adds a Server-Timing header and warns about slow requests.
func Timing(log *logger.Logger, slow time.Duration) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("http")
	if slow <= 0 {
		slow = DefaultSlowThreshold
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if passthrough(r) {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			wrapped := &timingResponseWriter{statusResponseWriter: statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}, start: start}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			if duration > slow {
				log.Warn(r.Context(), "slow request", map[string]interface{}{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      wrapped.statusCode,
					"duration_ms": duration.Milliseconds(),
				})
			}
		})
	}
}

// timingResponseWriter sets Server-Timing just before headers go out.
type timingResponseWriter struct {
	statusResponseWriter
	start       time.Time
	wroteHeader bool
}

func (w *timingResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.Header().Set("Server-Timing", formatServerTiming(time.Since(w.start)))
	}
	w.statusResponseWriter.WriteHeader(code)
}

func (w *timingResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func formatServerTiming(d time.Duration) string {
	ms := float64(d.Nanoseconds()) / 1e6
	return "app;dur=" + strconv.FormatFloat(ms, 'f', 2, 64)
}
