package s3err

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/swiftgate/swiftgate/internal/backend"
	"github.com/swiftgate/swiftgate/internal/s3xml"
)

func TestMap(t *testing.T) {
	_, syntaxErr := s3xml.Parse([]byte("<broken"), "")
	_, invalidErr := s3xml.Parse([]byte("<Delete><Bogus/></Delete>"), "Delete")

	cases := []struct {
		name string
		err  error
		want string
	}{
		{"api error", NoSuchBucket, "NoSuchBucket"},
		{"wrapped api error", fmt.Errorf("handling: %w", InvalidRange), "InvalidRange"},
		{"no such key", backend.ErrNoSuchKey, "NoSuchKey"},
		{"wrapped no such key", fmt.Errorf("lookup: %w", backend.ErrNoSuchKey), "NoSuchKey"},
		{"no such container", backend.ErrNoSuchContainer, "NoSuchBucket"},
		{"xml syntax", syntaxErr, "MalformedXML"},
		{"xml invalid", invalidErr, "MalformedXML"},
		{"unknown", errors.New("boom"), "InternalError"},
		{"nil", nil, "InternalError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Map(tc.err); got.Code != tc.want {
				t.Errorf("Map(%v): got %s, want %s", tc.err, got.Code, tc.want)
			}
		})
	}
}

func TestInvalidArgument(t *testing.T) {
	err := InvalidArgument("max-keys", "banana", "Argument max-keys must be an integer")
	if err.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", err.StatusCode)
	}
	if !strings.Contains(err.Message, "max-keys=banana") {
		t.Errorf("message must carry the offending argument: %q", err.Message)
	}
}

func TestWrite(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, "req-1", NoSuchKey, "/bkt/obj")

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("Content-Type: got %q", ct)
	}
	body := rr.Body.String()
	if !strings.HasPrefix(body, "<?xml version=") {
		t.Errorf("error document must start with an XML declaration:\n%s", body)
	}
	for _, want := range []string{
		"<Error>",
		"<Code>NoSuchKey</Code>",
		"<Resource>/bkt/obj</Resource>",
		"<RequestId>req-1</RequestId>",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("error document missing %q:\n%s", want, body)
		}
	}
}
