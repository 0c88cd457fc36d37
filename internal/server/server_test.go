package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/swiftgate/swiftgate/internal/config"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Port = 8080
	cfg.Backend.Mode = "dev"
	cfg.Backend.DevPath = filepath.Join(t.TempDir(), "gw.db")

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s.Handler()
}

func doRequest(h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for name, vals := range header {
		for _, v := range vals {
			req.Header.Add(name, v)
		}
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServer_ObjectLifecycle(t *testing.T) {
	h := newTestServer(t)

	if rr := doRequest(h, "PUT", "/bkt", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("create bucket: got %d: %s", rr.Code, rr.Body.String())
	}

	rr := doRequest(h, "PUT", "/bkt/hello.txt", "hello", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("put object: got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Etag") == "" {
		t.Error("put response missing Etag")
	}

	rr = doRequest(h, "GET", "/bkt/hello.txt", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get object: got %d", rr.Code)
	}
	if rr.Body.String() != "hello" {
		t.Errorf("body: got %q", rr.Body.String())
	}
	if rr.Header().Get("X-Timestamp") != "" {
		t.Error("backend-internal headers must not leak to the client")
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Error("every response carries X-Request-Id")
	}

	rr = doRequest(h, "DELETE", "/bkt/hello.txt", "", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete object: got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("delete response must have no body, got %q", rr.Body.String())
	}

	rr = doRequest(h, "GET", "/bkt/hello.txt", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<Code>NoSuchKey</Code>") {
		t.Errorf("expected NoSuchKey error document:\n%s", rr.Body.String())
	}
}

func TestServer_RangedHead(t *testing.T) {
	h := newTestServer(t)
	doRequest(h, "PUT", "/bkt", "", nil)
	doRequest(h, "PUT", "/bkt/obj", "0123456789", nil)

	header := http.Header{}
	header.Set("Range", "bytes=0-3")
	rr := doRequest(h, "HEAD", "/bkt/obj", "", header)
	if rr.Code != http.StatusPartialContent {
		t.Fatalf("ranged HEAD: got %d", rr.Code)
	}
	if cr := rr.Header().Get("Content-Range"); cr != "bytes 0-3/10" {
		t.Errorf("Content-Range: got %q, want %q", cr, "bytes 0-3/10")
	}
	if cl := rr.Header().Get("Content-Length"); cl != "4" {
		t.Errorf("Content-Length: got %q, want 4", cl)
	}
}

func TestServer_Listing(t *testing.T) {
	h := newTestServer(t)
	doRequest(h, "PUT", "/bkt", "", nil)
	doRequest(h, "PUT", "/bkt/a.txt", "a", nil)
	doRequest(h, "PUT", "/bkt/b.txt", "b", nil)

	rr := doRequest(h, "GET", "/bkt", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: got %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	for _, want := range []string{"<ListBucketResult", "<Key>a.txt</Key>", "<Key>b.txt</Key>"} {
		if !strings.Contains(body, want) {
			t.Errorf("listing missing %q:\n%s", want, body)
		}
	}
}

func TestServer_MultiDelete(t *testing.T) {
	h := newTestServer(t)
	doRequest(h, "PUT", "/bkt", "", nil)
	doRequest(h, "PUT", "/bkt/a", "a", nil)

	manifest := `<Delete><Object><Key>a</Key></Object><Object><Key>ghost</Key></Object></Delete>`
	rr := doRequest(h, "POST", "/bkt?delete", manifest, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("multi delete: got %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, "<Deleted><Key>a</Key></Deleted>") {
		t.Errorf("missing Deleted entry:\n%s", body)
	}
	if !strings.Contains(body, "<Deleted><Key>ghost</Key></Deleted>") {
		t.Errorf("absent keys delete as success:\n%s", body)
	}
}

func TestServer_Versioning(t *testing.T) {
	h := newTestServer(t)
	doRequest(h, "PUT", "/bkt", "", nil)

	rr := doRequest(h, "PUT", "/bkt?versioning", "<VersioningConfiguration><Status>Enabled</Status></VersioningConfiguration>", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("put versioning: got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(h, "GET", "/bkt?versioning", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get versioning: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<Status>Enabled</Status>") {
		t.Errorf("expected Enabled status:\n%s", rr.Body.String())
	}

	// Overwrites keep serving the newest version on plain reads.
	doRequest(h, "PUT", "/bkt/obj", "first", nil)
	doRequest(h, "PUT", "/bkt/obj", "second", nil)

	rr = doRequest(h, "GET", "/bkt/obj", "", nil)
	if rr.Body.String() != "second" {
		t.Fatalf("current read: got %q", rr.Body.String())
	}
}

func TestServer_PostObjectNotImplemented(t *testing.T) {
	h := newTestServer(t)
	rr := doRequest(h, "POST", "/bkt/obj", "", nil)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("got %d, want 501", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<Code>NotImplemented</Code>") {
		t.Errorf("expected NotImplemented error document:\n%s", rr.Body.String())
	}
}

func TestServer_MissingBucket(t *testing.T) {
	h := newTestServer(t)
	rr := doRequest(h, "HEAD", "/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rr.Code)
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	h := newTestServer(t)
	if rr := doRequest(h, "GET", "/health", "", nil); rr.Code != http.StatusOK {
		t.Errorf("health: got %d", rr.Code)
	}
	if rr := doRequest(h, "GET", "/metrics", "", nil); rr.Code != http.StatusOK {
		t.Errorf("metrics: got %d", rr.Code)
	}
}
