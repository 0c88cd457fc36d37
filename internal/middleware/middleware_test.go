package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/swiftgate/swiftgate/internal/metrics"
	"github.com/swiftgate/swiftgate/internal/ratelimit"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/bkt/obj", nil))
	if rr.Header().Get("X-Request-Id") == "" {
		t.Error("expected generated X-Request-Id")
	}
}

func TestRequestID_ReusesSanitized(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/bkt/obj", nil)
	req.Header.Set("X-Request-Id", "abc<script>123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-Id"); got != "abcscript123" {
		t.Errorf("got %q, want sanitized abcscript123", got)
	}
}

func TestPanicRecovery_CatchesPanic(t *testing.T) {
	h := PanicRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/bkt/obj", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want 500", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<Code>InternalError</Code>") {
		t.Errorf("expected InternalError document:\n%s", rr.Body.String())
	}
}

func TestPanicRecovery_PassesThrough(t *testing.T) {
	h := PanicRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/bkt/obj", nil))
	if rr.Code != http.StatusTeapot {
		t.Errorf("got %d, want 418", rr.Code)
	}
}

func TestObserve_RecordsStatus(t *testing.T) {
	collector := metrics.NewCollector()
	h := Observe(collector, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/bkt/obj", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rr.Code)
	}
	if rr.Body.String() != "nope" {
		t.Errorf("body mangled: %q", rr.Body.String())
	}
}

func TestRateLimit_Rejects(t *testing.T) {
	limiter := ratelimit.NewLimiter(1, 1)
	defer limiter.Stop()

	h := RateLimit(limiter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/bkt/obj", nil)
	req.RemoteAddr = "1.2.3.4:5678"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("first request: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("second request: got %d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<Code>SlowDown</Code>") {
		t.Errorf("expected SlowDown document:\n%s", rr.Body.String())
	}
}
