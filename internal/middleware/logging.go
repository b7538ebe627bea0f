package middleware

import (
	"net/http"
	"time"

	"github.com/Nicouicich/savium-backend-sub002/internal/common/logging"
	"github.com/Nicouicich/savium-backend-sub002/internal/identity"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logging logs every HTTP request with method, path, status and
// duration. Denials surface at warn level so throttling activity is
// visible without debug logging.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		fields := []logging.Field{
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", wrapped.statusCode),
			logging.Int64("duration_ms", time.Since(start).Milliseconds()),
			logging.String("client_ip", identity.ClientIP(r)),
		}
		if ua := r.Header.Get("User-Agent"); ua != "" {
			fields = append(fields, logging.String("user_agent", ua))
		}

		switch {
		case wrapped.statusCode >= 500:
			logging.Error("http request completed", nil, fields...)
		case wrapped.statusCode >= 400:
			logging.Warn("http request completed", fields...)
		default:
			logging.Info("http request completed", fields...)
		}
	})
}
