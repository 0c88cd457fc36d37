// Package gateway implements S3 request semantics on top of a backend
// adapter: per-verb request shaping, response reshaping and error
// translation for the object and container resources.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/swiftgate/swiftgate/internal/backend"
	"github.com/swiftgate/swiftgate/internal/httprange"
	"github.com/swiftgate/swiftgate/internal/s3err"
	"github.com/swiftgate/swiftgate/internal/s3xml"
)

// EventFunc is invoked after a successful mutation so the server can emit
// S3-style event notifications.
type EventFunc func(event, container, object string, size int64, etag, versionID string)

// responseOverrideHeaders are the content-negotiation headers a client may
// override per request via response-<header> query parameters.
var responseOverrideHeaders = []string{
	"content-type", "content-language", "expires",
	"cache-control", "content-disposition", "content-encoding",
}

// ObjectController translates S3 object operations into backend calls.
type ObjectController struct {
	backend backend.Adapter
	onEvent EventFunc
	now     func() backend.Timestamp
}

func NewObjectController(adapter backend.Adapter, onEvent EventFunc) *ObjectController {
	return &ObjectController{
		backend: adapter,
		onEvent: onEvent,
		now:     backend.Now,
	}
}

// getOrHead is the shared GET/HEAD path: version resolution, soft-delete
// marker handling and response-header overrides.
func (c *ObjectController) getOrHead(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	versionID := req.Query.Get("versionId")

	var resp *backend.Response
	for _, cand := range c.versionCandidates(req, versionID) {
		if cand.guard != nil {
			ok, err := cand.guard(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		r, err := c.backend.Do(ctx, cand.request)
		if errors.Is(err, backend.ErrNoSuchKey) {
			continue
		}
		if err != nil {
			return nil, err
		}
		resp = r
		break
	}
	if resp == nil {
		return nil, backend.ErrNoSuchKey
	}

	if req.Method == http.MethodHead {
		resp.DiscardBody()
	}

	if resp.Header.Get("X-Amz-Meta-Deleted") != "" {
		resp.DiscardBody()
		return nil, backend.ErrNoSuchKey
	}

	for _, name := range responseOverrideHeaders {
		if v := req.Query.Get("response-" + name); v != "" {
			resp.Header.Set(name, v)
		}
	}
	return resp, nil
}

// GetObject handles GET Object, including versioned reads.
func (c *ObjectController) GetObject(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	return c.getOrHead(ctx, req)
}

// HeadObject handles HEAD Object. The backend ignores Range on HEAD, so a
// ranged HEAD response is synthesized from the full response here.
func (c *ObjectController) HeadObject(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	resp, err := c.getOrHead(ctx, req)
	if err != nil {
		return nil, err
	}
	if reqRange := req.Header.Get("Range"); reqRange != "" {
		return headRangeResponse(reqRange, resp)
	}
	return resp, nil
}

// headRangeResponse rewrites a full HEAD response to a partial-content one
// when the range spec resolves to exactly one satisfiable interval.
// Unparsable specs and multi-interval specs fall through to the full
// response; a spec with no satisfiable interval is a client error.
func headRangeResponse(reqRange string, resp *backend.Response) (*backend.Response, error) {
	lengthStr := resp.Header.Get("Content-Length")
	if lengthStr == "" {
		return resp, nil
	}
	length, err := strconv.ParseInt(lengthStr, 10, 64)
	if err != nil {
		return resp, nil
	}

	parsed, err := httprange.Parse(reqRange)
	if err != nil {
		return resp, nil
	}

	intervals := parsed.RangesForLength(length)
	switch len(intervals) {
	case 0:
		return nil, s3err.InvalidRange
	case 1:
		iv := intervals[0]
		resp.Header.Set("Content-Range", httprange.ContentRange(iv.Start, iv.End, length))
		resp.Header.Set("Content-Length", strconv.FormatInt(iv.End-iv.Start, 10))
		resp.Status = http.StatusPartialContent
		return resp, nil
	default:
		// Multi-interval HEAD ranges are a documented gap; clients get
		// the full response.
		return resp, nil
	}
}

// PutObject handles PUT Object and PUT Object (Copy).
func (c *ObjectController) PutObject(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	// Stamp the write time up front; the copy response body reports it.
	ts := c.now()
	req.Header.Set("X-Timestamp", ts.Internal())

	copySource := req.Header.Get("X-Amz-Copy-Source")
	if copySource != "" && req.Header.Get("X-Amz-Copy-Source-Range") != "" {
		return nil, s3err.InvalidArgument("x-amz-copy-source-range",
			req.Header.Get("X-Amz-Copy-Source-Range"), "Illegal copy header")
	}
	if copySource != "" {
		if err := c.backend.CheckCopySource(ctx, req); err != nil {
			return nil, err
		}
	}

	resp, err := c.backend.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	event := "s3:ObjectCreated:Put"
	if copySource != "" {
		if err := attachCopyResult(resp, ts); err != nil {
			return nil, err
		}
		scrubUserMetadata(resp.Header)
		event = "s3:ObjectCreated:Copy"
	}

	// S3 reports copy success with a 200 and an XML body; plain PUT is
	// also 200 regardless of the backend's created/accepted status.
	resp.Status = http.StatusOK

	if c.onEvent != nil {
		c.onEvent(event, req.Container, req.Object, req.ContentLength,
			strings.Trim(resp.Header.Get("Etag"), `"`), req.Query.Get("versionId"))
	}
	return resp, nil
}

// PostObject has no S3 semantics on this resource.
func (c *ObjectController) PostObject(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	return nil, s3err.NotImplemented
}

// DeleteObject handles DELETE Object, expanding manifest objects to their
// parts and normalizing the backend's bulk-delete report to S3's bodyless
// 204.
func (c *ObjectController) DeleteObject(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	query, err := c.backend.MultipartManifestDeleteQuery(ctx, req)
	if err != nil {
		return nil, err
	}

	// The expansion endpoint dictates the accepted content type; whatever
	// the client sent does not apply to the backend call.
	req.Header.Del("Content-Type")

	resp, err := c.backend.DoQuery(ctx, req, query)
	if err != nil {
		return nil, err
	}

	if query != nil && resp.Status == http.StatusOK {
		// The bulk deleter streams a verbose job report; S3's DELETE
		// has no body. Drain it and replace the response wholesale.
		if err := resp.Drain(); err != nil {
			return nil, err
		}
		resp.Status = http.StatusNoContent
	}

	if c.onEvent != nil {
		c.onEvent("s3:ObjectRemoved:Delete", req.Container, req.Object, 0, "", "")
	}
	return resp, nil
}

// attachCopyResult builds the CopyObjectResult body onto a successful copy
// response and forces the body-bearing headers to match.
func attachCopyResult(resp *backend.Response, ts backend.Timestamp) error {
	doc := s3xml.New("CopyObjectResult")
	if _, err := doc.AddText(doc.Root(), "LastModified", ts.S3XMLFormat()); err != nil {
		return err
	}
	etag := strings.Trim(resp.Header.Get("Etag"), `"`)
	if _, err := doc.AddText(doc.Root(), "ETag", `"`+etag+`"`); err != nil {
		return err
	}
	body, err := doc.Serialize("", true)
	if err != nil {
		return err
	}

	resp.DiscardBody()
	resp.SetBodyBytes(body)
	resp.Header.Set("Content-Type", "application/xml")
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

// scrubUserMetadata removes every x-amz-meta-* header so a copy response
// never leaks the source object's user metadata.
func scrubUserMetadata(h http.Header) {
	for name := range h {
		if strings.HasPrefix(name, "X-Amz-Meta-") {
			delete(h, name)
		}
	}
}
