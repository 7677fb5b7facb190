package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/keydrop-backend/pkg/logger"
)

// Logging writes one line per request. Probe and scrape paths log at debug.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logg == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": ClientIP(r),
			})

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			ctx = logg.WithFields(ctx, map[string]any{
				"status":      rec.status,
				"bytes":       rec.bytes,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			switch {
			case isProbe(r.URL.Path):
				logg.Debug(ctx, "request.complete")
			case rec.status >= http.StatusInternalServerError:
				logg.Warn(ctx, "request.complete")
			default:
				logg.Info(ctx, "request.complete")
			}
		})
	}
}

func isProbe(path string) bool {
	return strings.HasPrefix(path, "/health/") || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}
