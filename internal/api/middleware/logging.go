// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/lognexus/internal/logger"
)

var log = logger.WithPrefix("http")

// responseWriter records the status and body size. Flush and Hijack pass
// through for the stream endpoints.
type responseWriter struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(status int) {
	if !rw.wroteHeader {
		rw.status = status
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	if !rw.wroteHeader {
		rw.status = http.StatusSwitchingProtocols
		rw.wroteHeader = true
	}
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

type ctxKey struct{}

// RequestID returns the id RequestLogger assigned to r, or "".
func RequestID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// validRequestID accepts ids a proxy or agent may have set, as long as they
// are short and safe to echo into logs.
func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// RequestLogger tags every request with an X-Request-ID and logs the
// outcome. Server errors log at error level and client errors at warn;
// successful requests are only logged when verbose.
func RequestLogger(verbose bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get("X-Request-ID")
			if !validRequestID(id) {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)

			wrapped := wrap(w)
			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))

			line := "[%s] %s %s %d %dB %v"
			args := []any{id, r.Method, r.URL.Path, wrapped.status, wrapped.size, time.Since(start).Round(time.Microsecond)}
			switch {
			case wrapped.status >= 500:
				log.Errorf(line, args...)
			case wrapped.status >= 400:
				log.Warnf(line, args...)
			case verbose:
				log.Infof(line, args...)
			}
		})
	}
}
