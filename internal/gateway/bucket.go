package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/swiftgate/swiftgate/internal/backend"
	"github.com/swiftgate/swiftgate/internal/s3err"
	"github.com/swiftgate/swiftgate/internal/s3xml"
)

const defaultMaxKeys = 1000

// versionsEnabledSysmeta is the container system-metadata header recording
// the bucket's versioning state.
const versionsEnabledSysmeta = "X-Container-Sysmeta-Versions-Enabled"

// BucketController translates S3 bucket operations into backend container
// calls.
type BucketController struct {
	backend backend.Adapter
	onEvent EventFunc
}

func NewBucketController(adapter backend.Adapter, onEvent EventFunc) *BucketController {
	return &BucketController{backend: adapter, onEvent: onEvent}
}

// listingEntry is one entry in the backend's JSON container listing: an
// object, or a grouped prefix when the listing was delimited (only Subdir is
// set then).
type listingEntry struct {
	Name         string `json:"name"`
	Hash         string `json:"hash"`
	Bytes        int64  `json:"bytes"`
	ContentType  string `json:"content_type"`
	LastModified string `json:"last_modified"`
	Subdir       string `json:"subdir"`
}

// ListObjects handles GET Bucket: the backend's JSON container listing is
// reshaped into a ListBucketResult document, honoring encoding-type=url.
func (c *BucketController) ListObjects(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	encodingType := req.Query.Get("encoding-type")
	if encodingType != "" && encodingType != s3xml.EncodingTypeURL {
		return nil, s3err.InvalidArgument("encoding-type", encodingType, "Invalid Encoding Method specified in Request")
	}

	maxKeys := defaultMaxKeys
	if mk := req.Query.Get("max-keys"); mk != "" {
		n, err := strconv.Atoi(mk)
		if err != nil || n < 0 {
			return nil, s3err.InvalidArgument("max-keys", mk, "Argument max-keys must be an integer between 0 and 2147483647")
		}
		maxKeys = n
	}

	query := url.Values{"format": []string{"json"}}
	// Fetch one extra entry to detect truncation.
	query.Set("limit", strconv.Itoa(maxKeys+1))
	if p := req.Query.Get("prefix"); p != "" {
		query.Set("prefix", p)
	}
	if m := req.Query.Get("marker"); m != "" {
		query.Set("marker", m)
	}
	if d := req.Query.Get("delimiter"); d != "" {
		query.Set("delimiter", d)
	}

	listReq := &backend.Request{
		Method:    http.MethodGet,
		Container: req.Container,
		Header:    http.Header{},
	}
	resp, err := c.backend.DoQuery(ctx, listReq, query)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	var entries []listingEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}

	truncated := len(entries) > maxKeys
	if truncated {
		entries = entries[:maxKeys]
	}

	doc := s3xml.New("ListBucketResult")
	doc.SetEncodingType(encodingType)
	root := doc.Root()
	if _, err := doc.AddText(root, "Name", req.Container); err != nil {
		return nil, err
	}
	if _, err := doc.AddText(root, "Prefix", req.Query.Get("prefix")); err != nil {
		return nil, err
	}
	if _, err := doc.AddText(root, "Marker", req.Query.Get("marker")); err != nil {
		return nil, err
	}
	if d := req.Query.Get("delimiter"); d != "" {
		if _, err := doc.AddText(root, "Delimiter", d); err != nil {
			return nil, err
		}
	}
	doc.Add(root, "MaxKeys").SetText(strconv.Itoa(maxKeys))
	doc.Add(root, "IsTruncated").SetText(strconv.FormatBool(truncated))
	if encodingType != "" {
		doc.Add(root, "EncodingType").SetText(encodingType)
	}

	var subdirs []string
	for _, e := range entries {
		if e.Subdir != "" {
			subdirs = append(subdirs, e.Subdir)
			continue
		}
		contents := doc.Add(root, "Contents")
		if _, err := doc.AddText(contents, "Key", e.Name); err != nil {
			return nil, err
		}
		doc.Add(contents, "LastModified").SetText(isoToS3(e.LastModified))
		doc.Add(contents, "ETag").SetText(`"` + e.Hash + `"`)
		doc.Add(contents, "Size").SetText(strconv.FormatInt(e.Bytes, 10))
		doc.Add(contents, "StorageClass").SetText("STANDARD")
	}
	for _, sd := range subdirs {
		common := doc.Add(root, "CommonPrefixes")
		if _, err := doc.AddText(common, "Prefix", sd); err != nil {
			return nil, err
		}
	}

	body, err := doc.Serialize(encodingType, true)
	if err != nil {
		return nil, err
	}
	return xmlResponse(http.StatusOK, body), nil
}

// DeleteObjects handles POST Bucket?delete: the manifest body is parsed and
// schema-validated, each named object is deleted against the backend, and a
// DeleteResult document reports the outcome per key.
func (c *BucketController) DeleteObjects(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	if req.Body == nil {
		return nil, s3err.MalformedXML
	}
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}

	manifest, err := s3xml.Parse(raw, "Delete")
	if err != nil {
		return nil, err
	}

	quiet := false
	if q := manifest.Root().SelectElement("Quiet"); q != nil {
		quiet = s3xml.Text(q) == "true"
	}

	result := s3xml.New("DeleteResult")
	for _, obj := range manifest.Root().SelectElements("Object") {
		key := s3xml.Text(obj.SelectElement("Key"))

		del := &backend.Request{
			Method:    http.MethodDelete,
			Container: req.Container,
			Object:    key,
			Header:    http.Header{},
		}
		resp, derr := c.backend.Do(ctx, del)
		switch {
		case derr == nil:
			resp.Drain()
			if !quiet {
				deleted := result.Add(result.Root(), "Deleted")
				if _, err := result.AddText(deleted, "Key", key); err != nil {
					return nil, err
				}
			}
			if c.onEvent != nil {
				c.onEvent("s3:ObjectRemoved:Delete", req.Container, key, 0, "", "")
			}
		case errors.Is(derr, backend.ErrNoSuchKey):
			// S3 reports deleting an absent key as success.
			if !quiet {
				deleted := result.Add(result.Root(), "Deleted")
				if _, err := result.AddText(deleted, "Key", key); err != nil {
					return nil, err
				}
			}
		default:
			errElem := result.Add(result.Root(), "Error")
			if _, err := result.AddText(errElem, "Key", key); err != nil {
				return nil, err
			}
			result.Add(errElem, "Code").SetText("InternalError")
			result.Add(errElem, "Message").SetText(derr.Error())
		}
	}

	body, err := result.Serialize("", true)
	if err != nil {
		return nil, err
	}
	return xmlResponse(http.StatusOK, body), nil
}

// GetVersioning handles GET Bucket?versioning.
func (c *BucketController) GetVersioning(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	head := &backend.Request{
		Method:    http.MethodHead,
		Container: req.Container,
		Header:    http.Header{},
	}
	resp, err := c.backend.Do(ctx, head)
	if err != nil {
		return nil, err
	}
	resp.DiscardBody()

	doc := s3xml.New("VersioningConfiguration")
	switch resp.Header.Get(versionsEnabledSysmeta) {
	case "True", "true":
		doc.Add(doc.Root(), "Status").SetText("Enabled")
	case "False", "false":
		doc.Add(doc.Root(), "Status").SetText("Suspended")
	}

	body, err := doc.Serialize("", true)
	if err != nil {
		return nil, err
	}
	return xmlResponse(http.StatusOK, body), nil
}

// PutVersioning handles PUT Bucket?versioning: the configuration document is
// schema-validated and recorded as container system metadata.
func (c *BucketController) PutVersioning(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	if req.Body == nil {
		return nil, s3err.MalformedXML
	}
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	doc, err := s3xml.Parse(raw, "VersioningConfiguration")
	if err != nil {
		return nil, err
	}

	status := ""
	if st := doc.Root().SelectElement("Status"); st != nil {
		status = s3xml.Text(st)
	}
	var flag string
	switch status {
	case "Enabled":
		flag = "True"
	case "Suspended":
		flag = "False"
	default:
		return nil, s3err.MalformedXML
	}

	post := &backend.Request{
		Method:    http.MethodPost,
		Container: req.Container,
		Header:    http.Header{versionsEnabledSysmeta: []string{flag}},
	}
	resp, err := c.backend.Do(ctx, post)
	if err != nil {
		return nil, err
	}
	resp.Drain()
	resp.Status = http.StatusOK
	return resp, nil
}

// CreateBucket handles PUT Bucket as a container-create passthrough.
func (c *BucketController) CreateBucket(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	resp, err := c.backend.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Drain()
	resp.Status = http.StatusOK
	return resp, nil
}

// DeleteBucket handles DELETE Bucket as a container-delete passthrough.
func (c *BucketController) DeleteBucket(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	resp, err := c.backend.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Drain()
	resp.Status = http.StatusNoContent
	return resp, nil
}

// HeadBucket handles HEAD Bucket.
func (c *BucketController) HeadBucket(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	resp, err := c.backend.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.DiscardBody()
	resp.Status = http.StatusOK
	return resp, nil
}

func xmlResponse(status int, body []byte) *backend.Response {
	resp := &backend.Response{
		Status: status,
		Header: http.Header{},
	}
	resp.SetBodyBytes(body)
	resp.Header.Set("Content-Type", "application/xml")
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return resp
}

// isoToS3 converts the backend's listing timestamp
// ("2014-06-10T22:47:32.123456") to S3's form with milliseconds and Z.
func isoToS3(ts string) string {
	if len(ts) >= 23 {
		return ts[:23] + "Z"
	}
	return ts + "Z"
}
