package httpserver

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/workflo/cmsauth/internal/logutil"
)

type (
	statusRecorder struct {
		http.ResponseWriter
		status int
		size   int
	}
)

const RequestIDHeader = "X-Request-Id"

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(buf []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(buf)
	s.size += n
	return n, err
}

// LogRequests attaches a request scoped logger to the request context and
// logs one line per request once the handler returns.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)
		log := logutil.GetOrDefault(r.Context()).With().Str("request.id", reqID).Logger()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(logutil.WithLogger(r.Context(), log)))
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		ev := log.Info()
		if rec.status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("http.method", r.Method).
			Str("http.path", r.URL.Path).
			Int("http.status", rec.status).
			Int("http.size", rec.size).
			Dur("http.duration", time.Since(start)).
			Msg("Request served")
	})
}
