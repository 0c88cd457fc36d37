// Package middleware carries the HTTP middleware the gateway server stacks
// around the S3 handler.
package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/swiftgate/swiftgate/internal/accesslog"
	"github.com/swiftgate/swiftgate/internal/metrics"
	"github.com/swiftgate/swiftgate/internal/ratelimit"
	"github.com/swiftgate/swiftgate/internal/s3err"
)

var requestIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._\-]`)

var requestCounter uint64

func generateRequestID() string {
	n := atomic.AddUint64(&requestCounter, 1)
	return fmt.Sprintf("%d-%06d", time.Now().UnixMilli()%1000000, n)
}

// RequestID adds an X-Request-Id header to every response, reusing a
// sanitized client-provided one when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = generateRequestID()
		} else {
			id = requestIDSanitizer.ReplaceAllString(id, "")
			if len(id) > 128 {
				id = id[:128]
			}
			if id == "" {
				id = generateRequestID()
			}
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// PanicRecovery catches panics, logs the stack trace, and returns an S3
// InternalError document.
func PanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered",
					"request_id", w.Header().Get("X-Request-Id"),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				s3err.Write(w, w.Header().Get("X-Request-Id"), s3err.InternalError, r.URL.Path)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status and bytes written for the
// observability middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(p []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(p)
	sr.bytes += int64(n)
	return n, err
}

// Observe records request metrics and, when logger is non-nil, an access-log
// entry per request.
func Observe(collector *metrics.Collector, logger *accesslog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(sr, r)
		if sr.status == 0 {
			sr.status = http.StatusOK
		}

		collector.ObserveRequest(r.Method, sr.status, time.Since(start))
		if logger != nil {
			logger.Log(accesslog.Entry{
				Time:     start.UTC(),
				Method:   r.Method,
				Path:     r.URL.Path,
				Status:   sr.status,
				Bytes:    sr.bytes,
				ClientIP: clientIP(r),
			})
		}
	})
}

// RateLimit rejects requests over the per-client budget with S3's SlowDown
// error.
func RateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(clientIP(r)) {
			s3err.Write(w, w.Header().Get("X-Request-Id"), s3err.ServiceSlowDown, r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
