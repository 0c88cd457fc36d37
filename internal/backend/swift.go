package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// userMetaPrefix is the native header prefix for user metadata on
	// objects.
	userMetaPrefix = "X-Object-Meta-"
	// sysMetaPrefix is the native header prefix for system metadata on
	// objects.
	sysMetaPrefix = "X-Object-Sysmeta-"
	// amzMetaPrefix is the S3 header prefix for user metadata.
	amzMetaPrefix = "X-Amz-Meta-"
)

// SwiftClient implements Adapter against a Swift-style native object API:
// verbs on /v1/<account>/<container>/<object>, token auth, X-Object-Meta-*
// user metadata and multipart-manifest bulk delete.
type SwiftClient struct {
	endpoint  string // e.g. "http://127.0.0.1:8080"
	account   string
	authToken string
	client    *http.Client
}

func NewSwiftClient(endpoint, account, authToken string, timeout time.Duration) *SwiftClient {
	return &SwiftClient{
		endpoint:  strings.TrimRight(endpoint, "/"),
		account:   account,
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

func (c *SwiftClient) targetURL(container, object string, query url.Values) string {
	u := c.endpoint + "/v1/" + url.PathEscape(c.account)
	if container != "" {
		u += "/" + url.PathEscape(container)
	}
	if object != "" {
		// Object names may contain slashes that are path segments, not
		// separators to re-encode.
		segs := strings.Split(object, "/")
		for i, s := range segs {
			segs[i] = url.PathEscape(s)
		}
		u += "/" + strings.Join(segs, "/")
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *SwiftClient) Do(ctx context.Context, req *Request) (*Response, error) {
	return c.DoQuery(ctx, req, nil)
}

func (c *SwiftClient) DoQuery(ctx context.Context, req *Request, query url.Values) (*Response, error) {
	hreq, err := http.NewRequestWithContext(ctx, req.Method,
		c.targetURL(req.Container, req.Object, query), req.Body)
	if err != nil {
		return nil, fmt.Errorf("swift: build request: %w", err)
	}
	hreq.Header = translateRequestHeader(req.Header)
	hreq.Header.Set("X-Auth-Token", c.authToken)
	if req.ContentLength >= 0 {
		hreq.ContentLength = req.ContentLength
	}

	hresp, err := c.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("swift: %s %s/%s: %w", req.Method, req.Container, req.Object, err)
	}

	if hresp.StatusCode == http.StatusNotFound {
		hresp.Body.Close()
		if req.Object == "" {
			return nil, ErrNoSuchContainer
		}
		return nil, ErrNoSuchKey
	}

	return &Response{
		Status:        hresp.StatusCode,
		Header:        translateResponseHeader(hresp.Header),
		Body:          hresp.Body,
		ContentLength: hresp.ContentLength,
	}, nil
}

func (c *SwiftClient) ObjectInfo(ctx context.Context, container, object string) (*ObjectInfo, error) {
	head := &Request{
		Method:    http.MethodHead,
		Container: container,
		Object:    object,
		Header:    http.Header{},
	}
	resp, err := c.DoQuery(ctx, head, nil)
	if err != nil {
		return nil, err
	}
	resp.DiscardBody()

	info := &ObjectInfo{
		ETag:        strings.Trim(resp.Header.Get("Etag"), `"`),
		ContentType: resp.Header.Get("Content-Type"),
		Sysmeta:     map[string]string{},
		Meta:        map[string]string{},
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		info.ContentLength, _ = strconv.ParseInt(cl, 10, 64)
	}
	for name, vals := range resp.Header {
		switch {
		case strings.HasPrefix(name, sysMetaPrefix):
			info.Sysmeta[strings.ToLower(strings.TrimPrefix(name, sysMetaPrefix))] = vals[0]
		case strings.HasPrefix(name, amzMetaPrefix):
			info.Meta[strings.ToLower(strings.TrimPrefix(name, amzMetaPrefix))] = vals[0]
		}
	}
	if strings.EqualFold(resp.Header.Get("X-Static-Large-Object"), "true") {
		info.Multipart = true
	}
	return info, nil
}

func (c *SwiftClient) CheckCopySource(ctx context.Context, req *Request) error {
	source := req.Header.Get("X-Amz-Copy-Source")
	if source == "" {
		return nil
	}
	container, object, err := SplitCopySource(source)
	if err != nil {
		return err
	}
	_, err = c.ObjectInfo(ctx, container, object)
	return err
}

func (c *SwiftClient) MultipartManifestDeleteQuery(ctx context.Context, req *Request) (url.Values, error) {
	info, err := c.ObjectInfo(ctx, req.Container, req.Object)
	if err != nil {
		// A missing object is not a manifest; the DELETE itself will
		// report NoSuchKey.
		return nil, nil
	}
	if !info.Multipart {
		return nil, nil
	}
	return url.Values{"multipart-manifest": []string{"delete"}}, nil
}

// SplitCopySource parses an x-amz-copy-source header value of the form
// "/container/object" or "container/object".
func SplitCopySource(source string) (container, object string, err error) {
	src, err := url.PathUnescape(source)
	if err != nil {
		return "", "", fmt.Errorf("swift: invalid copy source %q: %w", source, err)
	}
	src = strings.TrimPrefix(src, "/")
	parts := strings.SplitN(src, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("swift: invalid copy source %q", source)
	}
	return parts[0], parts[1], nil
}

// translateRequestHeader maps S3 request headers onto their native
// equivalents: x-amz-meta-* becomes X-Object-Meta-* and the copy-source
// header becomes X-Copy-From. All other headers pass through.
func translateRequestHeader(h http.Header) http.Header {
	out := http.Header{}
	for name, vals := range h {
		switch {
		case strings.HasPrefix(name, amzMetaPrefix):
			out[userMetaPrefix+strings.TrimPrefix(name, amzMetaPrefix)] = vals
		case name == "X-Amz-Copy-Source":
			src := strings.TrimPrefix(vals[0], "/")
			out.Set("X-Copy-From", "/"+src)
		default:
			out[name] = vals
		}
	}
	return out
}

// translateResponseHeader maps native response headers back onto S3 names:
// X-Object-Meta-* becomes x-amz-meta-*. Native sysmeta headers pass through
// so the gateway can inspect them (they are stripped before the response
// leaves the server).
func translateResponseHeader(h http.Header) http.Header {
	out := http.Header{}
	for name, vals := range h {
		if strings.HasPrefix(name, userMetaPrefix) {
			out[amzMetaPrefix+strings.TrimPrefix(name, userMetaPrefix)] = vals
			continue
		}
		out[name] = vals
	}
	return out
}
