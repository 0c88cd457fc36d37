// Package backend defines the adapter contract the gateway uses to talk to
// the native object-storage API, plus the request/response types exchanged
// across that boundary.
package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
)

var (
	// ErrNoSuchKey reports that the target object (or object version) does
	// not exist in the backend.
	ErrNoSuchKey = errors.New("backend: no such key")

	// ErrNoSuchContainer reports that the target container does not exist.
	ErrNoSuchContainer = errors.New("backend: no such container")
)

// Request is one translated backend call. A Request is owned by a single
// handling call; version lookups build fresh Requests per candidate identity
// instead of rewriting one in place.
type Request struct {
	Method    string
	Container string
	Object    string
	Query     url.Values
	Header    http.Header
	Body      io.Reader
	// ContentLength mirrors the inbound request's body length; -1 when
	// unknown (chunked upload).
	ContentLength int64
}

// Clone returns a copy of r with its own header and query maps. The body is
// shared; callers that need to re-send a body must not clone mid-read.
func (r *Request) Clone() *Request {
	c := *r
	c.Header = r.Header.Clone()
	c.Query = url.Values{}
	for k, vs := range r.Query {
		c.Query[k] = append([]string(nil), vs...)
	}
	return &c
}

// Response is the outcome of one backend call. Body is a finite, single-pass
// stream; once drained it must not be read again. Replace status and body
// wholesale instead.
type Response struct {
	Status        int
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// DiscardBody closes and detaches the body stream without reading it.
// HEAD responses must never carry body bytes.
func (r *Response) DiscardBody() {
	if r.Body != nil {
		r.Body.Close()
		r.Body = nil
	}
	r.ContentLength = 0
}

// Drain reads the body to exhaustion and discards it. Used for the backend's
// streamed bulk-delete report, whose content the S3 response never carries.
func (r *Response) Drain() error {
	if r.Body == nil {
		return nil
	}
	_, err := io.Copy(io.Discard, r.Body)
	r.Body.Close()
	r.Body = nil
	r.ContentLength = 0
	return err
}

// SetBodyBytes replaces the body with a fixed byte buffer.
func (r *Response) SetBodyBytes(b []byte) {
	r.Body = io.NopCloser(bytes.NewReader(b))
	r.ContentLength = int64(len(b))
}

// ObjectInfo is the metadata side-lookup result used during version fallback
// and manifest-expansion checks.
type ObjectInfo struct {
	ContentLength int64
	ETag          string
	ContentType   string
	// Sysmeta holds backend system metadata keyed by bare name,
	// e.g. "version-id".
	Sysmeta map[string]string
	// Meta holds user metadata keyed by bare name.
	Meta map[string]string
	// Multipart reports that the object is a manifest composed of
	// separately stored parts.
	Multipart bool
}

// Adapter executes backend calls for the gateway. Every method is a blocking
// network round trip; cancellation and timeouts follow the ctx contract of
// the concrete implementation.
type Adapter interface {
	// Do performs one backend call for req. A missing target fails with
	// ErrNoSuchKey (objects) or ErrNoSuchContainer (containers).
	Do(ctx context.Context, req *Request) (*Response, error)

	// DoQuery performs one backend call with extra query parameters, used
	// for DELETE with multipart-manifest expansion. The response body may
	// be a streamed job report.
	DoQuery(ctx context.Context, req *Request, query url.Values) (*Response, error)

	// ObjectInfo fetches object metadata without the body.
	ObjectInfo(ctx context.Context, container, object string) (*ObjectInfo, error)

	// CheckCopySource validates that the request's copy-source reference
	// resolves to a readable object. It must be called before the copy
	// write is attempted.
	CheckCopySource(ctx context.Context, req *Request) error

	// MultipartManifestDeleteQuery returns the expansion query to delete a
	// manifest object together with its parts, or nil when the target is
	// not a manifest (including when it does not exist; the DELETE call
	// itself reports that).
	MultipartManifestDeleteQuery(ctx context.Context, req *Request) (url.Values, error)
}
