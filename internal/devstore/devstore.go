// Package devstore is a local backend.Adapter for development and testing:
// containers and objects persisted in a bbolt file, speaking the same
// semantics the gateway expects from the native API: user metadata,
// version-id sysmeta, manifest expansion and JSON container listings.
package devstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/swiftgate/swiftgate/internal/backend"
)

var (
	containersBucket = []byte("containers")
	objectsBucket    = []byte("objects")
)

type containerRecord struct {
	Name    string            `json:"name"`
	Sysmeta map[string]string `json:"sysmeta,omitempty"`
}

type objectRecord struct {
	Body         []byte            `json:"body"`
	ContentType  string            `json:"content_type"`
	ETag         string            `json:"etag"`
	Checksum     uint64            `json:"checksum"`
	LastModified string            `json:"last_modified"`
	Timestamp    string            `json:"timestamp"`
	Meta         map[string]string `json:"meta,omitempty"`
	Sysmeta      map[string]string `json:"sysmeta,omitempty"`
	Multipart    bool              `json:"multipart,omitempty"`
}

// Store implements backend.Adapter on a local bbolt database.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("devstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{containersBucket, objectsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func objectKey(container, object string) []byte {
	return []byte(container + "\x00" + object)
}

func (s *Store) Do(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	return s.DoQuery(ctx, req, nil)
}

func (s *Store) DoQuery(_ context.Context, req *backend.Request, query url.Values) (*backend.Response, error) {
	if req.Object == "" {
		return s.containerCall(req, query)
	}
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		return s.getObject(req)
	case http.MethodPut:
		return s.putObject(req)
	case http.MethodDelete:
		return s.deleteObject(req, query)
	default:
		return &backend.Response{Status: http.StatusMethodNotAllowed, Header: http.Header{}}, nil
	}
}

func (s *Store) getObject(req *backend.Request) (*backend.Response, error) {
	var rec *objectRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(objectsBucket).Get(objectKey(req.Container, req.Object))
		if raw == nil {
			return backend.ErrNoSuchKey
		}
		rec = &objectRecord{}
		return json.Unmarshal(raw, rec)
	})
	if err != nil {
		return nil, err
	}
	if xxhash.Sum64(rec.Body) != rec.Checksum {
		return nil, fmt.Errorf("devstore: checksum mismatch for %s/%s", req.Container, req.Object)
	}

	resp := &backend.Response{Status: http.StatusOK, Header: http.Header{}}
	resp.Header.Set("Etag", rec.ETag)
	resp.Header.Set("Content-Type", rec.ContentType)
	resp.Header.Set("Content-Length", strconv.Itoa(len(rec.Body)))
	resp.Header.Set("Last-Modified", rec.LastModified)
	resp.Header.Set("X-Timestamp", rec.Timestamp)
	for k, v := range rec.Meta {
		resp.Header.Set("X-Amz-Meta-"+k, v)
	}
	for k, v := range rec.Sysmeta {
		resp.Header.Set("X-Object-Sysmeta-"+k, v)
	}
	if rec.Multipart {
		resp.Header.Set("X-Static-Large-Object", "true")
	}
	if req.Method == http.MethodGet {
		resp.SetBodyBytes(rec.Body)
	}
	return resp, nil
}

func (s *Store) putObject(req *backend.Request) (*backend.Response, error) {
	var body []byte
	var err error

	if source := req.Header.Get("X-Amz-Copy-Source"); source != "" {
		srcContainer, srcObject, serr := backend.SplitCopySource(source)
		if serr != nil {
			return nil, serr
		}
		var src *objectRecord
		err = s.db.View(func(tx *bolt.Tx) error {
			raw := tx.Bucket(objectsBucket).Get(objectKey(srcContainer, srcObject))
			if raw == nil {
				return backend.ErrNoSuchKey
			}
			src = &objectRecord{}
			return json.Unmarshal(raw, src)
		})
		if err != nil {
			return nil, err
		}
		body = src.Body
	} else if req.Body != nil {
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
	}

	ts := req.Header.Get("X-Timestamp")
	if ts == "" {
		ts = backend.Now().Internal()
	}
	sum := md5.Sum(body)
	rec := objectRecord{
		Body:         body,
		ContentType:  req.Header.Get("Content-Type"),
		ETag:         hex.EncodeToString(sum[:]),
		Checksum:     xxhash.Sum64(body),
		LastModified: time.Now().UTC().Format(http.TimeFormat),
		Timestamp:    ts,
		Sysmeta:      map[string]string{},
	}
	if rec.ContentType == "" {
		rec.ContentType = "application/octet-stream"
	}
	for name, vals := range req.Header {
		if strings.HasPrefix(name, "X-Amz-Meta-") {
			if rec.Meta == nil {
				rec.Meta = map[string]string{}
			}
			rec.Meta[strings.TrimPrefix(name, "X-Amz-Meta-")] = vals[0]
		}
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		objects := tx.Bucket(objectsBucket)
		key := objectKey(req.Container, req.Object)

		if s.versioningEnabled(tx, req.Container) {
			rec.Sysmeta["version-id"] = ts
			// Preserve the version being overwritten in the
			// version-tracking namespace.
			if prev := objects.Get(key); prev != nil {
				var old objectRecord
				if err := json.Unmarshal(prev, &old); err == nil {
					oldID := old.Sysmeta["version-id"]
					if oldID == "" {
						oldID = old.Timestamp
					}
					vkey := objectKey(
						req.Container+backend.VersioningSuffix,
						backend.VersionedObjectName(req.Object, oldID))
					if err := objects.Put(vkey, prev); err != nil {
						return err
					}
				}
			}
		}

		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return objects.Put(key, raw)
	})
	if err != nil {
		return nil, err
	}

	resp := &backend.Response{Status: http.StatusCreated, Header: http.Header{}}
	resp.Header.Set("Etag", rec.ETag)
	return resp, nil
}

func (s *Store) deleteObject(req *backend.Request, query url.Values) (*backend.Response, error) {
	expand := query.Get("multipart-manifest") == "delete"
	err := s.db.Update(func(tx *bolt.Tx) error {
		objects := tx.Bucket(objectsBucket)
		key := objectKey(req.Container, req.Object)
		if objects.Get(key) == nil {
			return backend.ErrNoSuchKey
		}
		return objects.Delete(key)
	})
	if err != nil {
		return nil, err
	}

	if expand {
		// Mirror the native bulk deleter: a 200 with a job report the
		// caller is expected to drain.
		resp := &backend.Response{Status: http.StatusOK, Header: http.Header{}}
		resp.SetBodyBytes([]byte("Number Deleted: 1\nNumber Not Found: 0\nErrors:\n"))
		return resp, nil
	}
	return &backend.Response{Status: http.StatusNoContent, Header: http.Header{}}, nil
}

func (s *Store) containerCall(req *backend.Request, query url.Values) (*backend.Response, error) {
	switch req.Method {
	case http.MethodPut:
		err := s.db.Update(func(tx *bolt.Tx) error {
			raw, err := json.Marshal(containerRecord{Name: req.Container})
			if err != nil {
				return err
			}
			return tx.Bucket(containersBucket).Put([]byte(req.Container), raw)
		})
		if err != nil {
			return nil, err
		}
		return &backend.Response{Status: http.StatusCreated, Header: http.Header{}}, nil

	case http.MethodPost:
		err := s.db.Update(func(tx *bolt.Tx) error {
			containers := tx.Bucket(containersBucket)
			rec := containerRecord{Name: req.Container}
			if raw := containers.Get([]byte(req.Container)); raw != nil {
				if err := json.Unmarshal(raw, &rec); err != nil {
					return err
				}
			}
			if rec.Sysmeta == nil {
				rec.Sysmeta = map[string]string{}
			}
			for name, vals := range req.Header {
				if strings.HasPrefix(name, "X-Container-Sysmeta-") {
					rec.Sysmeta[strings.TrimPrefix(name, "X-Container-Sysmeta-")] = vals[0]
				}
			}
			raw, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			return containers.Put([]byte(req.Container), raw)
		})
		if err != nil {
			return nil, err
		}
		return &backend.Response{Status: http.StatusNoContent, Header: http.Header{}}, nil

	case http.MethodHead:
		var rec containerRecord
		err := s.db.View(func(tx *bolt.Tx) error {
			raw := tx.Bucket(containersBucket).Get([]byte(req.Container))
			if raw == nil {
				return backend.ErrNoSuchContainer
			}
			return json.Unmarshal(raw, &rec)
		})
		if err != nil {
			return nil, err
		}
		resp := &backend.Response{Status: http.StatusNoContent, Header: http.Header{}}
		for k, v := range rec.Sysmeta {
			resp.Header.Set("X-Container-Sysmeta-"+k, v)
		}
		return resp, nil

	case http.MethodGet:
		return s.listContainer(req, query)

	case http.MethodDelete:
		err := s.db.Update(func(tx *bolt.Tx) error {
			containers := tx.Bucket(containersBucket)
			if containers.Get([]byte(req.Container)) == nil {
				return backend.ErrNoSuchContainer
			}
			return containers.Delete([]byte(req.Container))
		})
		if err != nil {
			return nil, err
		}
		return &backend.Response{Status: http.StatusNoContent, Header: http.Header{}}, nil

	default:
		return &backend.Response{Status: http.StatusMethodNotAllowed, Header: http.Header{}}, nil
	}
}

type listingEntry struct {
	Name         string `json:"name,omitempty"`
	Hash         string `json:"hash,omitempty"`
	Bytes        int64  `json:"bytes,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	Subdir       string `json:"subdir,omitempty"`
}

func (e listingEntry) sortKey() string {
	if e.Subdir != "" {
		return e.Subdir
	}
	return e.Name
}

func (s *Store) listContainer(req *backend.Request, query url.Values) (*backend.Response, error) {
	prefix := query.Get("prefix")
	marker := query.Get("marker")
	delimiter := query.Get("delimiter")
	limit := 10000
	if l := query.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n >= 0 {
			limit = n
		}
	}

	var entries []listingEntry
	seen := map[string]bool{}
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(containersBucket).Get([]byte(req.Container)) == nil {
			return backend.ErrNoSuchContainer
		}
		c := tx.Bucket(objectsBucket).Cursor()
		scan := []byte(req.Container + "\x00")
		for k, v := c.Seek(scan); k != nil && bytes.HasPrefix(k, scan); k, v = c.Next() {
			name := string(bytes.TrimPrefix(k, scan))
			if prefix != "" && !strings.HasPrefix(name, prefix) {
				continue
			}
			if marker != "" && name <= marker {
				continue
			}
			if delimiter != "" {
				// Names sharing a segment beyond the prefix collapse
				// into one subdir entry.
				rest := strings.TrimPrefix(name, prefix)
				if i := strings.Index(rest, delimiter); i >= 0 {
					subdir := prefix + rest[:i+len(delimiter)]
					if seen[subdir] {
						continue
					}
					seen[subdir] = true
					entries = append(entries, listingEntry{Subdir: subdir})
					if len(entries) >= limit {
						break
					}
					continue
				}
			}
			var rec objectRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			lastModified := rec.LastModified
			if ts, err := backend.ParseInternal(rec.Timestamp); err == nil {
				lastModified = ts.Time().Format("2006-01-02T15:04:05.000000")
			}
			entries = append(entries, listingEntry{
				Name:         name,
				Hash:         rec.ETag,
				Bytes:        int64(len(rec.Body)),
				ContentType:  rec.ContentType,
				LastModified: lastModified,
			})
			if len(entries) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].sortKey() < entries[j].sortKey() })
	body, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	resp := &backend.Response{Status: http.StatusOK, Header: http.Header{}}
	resp.SetBodyBytes(body)
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

func (s *Store) ObjectInfo(_ context.Context, container, object string) (*backend.ObjectInfo, error) {
	var rec *objectRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(objectsBucket).Get(objectKey(container, object))
		if raw == nil {
			return backend.ErrNoSuchKey
		}
		rec = &objectRecord{}
		return json.Unmarshal(raw, rec)
	})
	if err != nil {
		return nil, err
	}
	info := &backend.ObjectInfo{
		ContentLength: int64(len(rec.Body)),
		ETag:          rec.ETag,
		ContentType:   rec.ContentType,
		Sysmeta:       map[string]string{},
		Meta:          map[string]string{},
		Multipart:     rec.Multipart,
	}
	for k, v := range rec.Sysmeta {
		info.Sysmeta[strings.ToLower(k)] = v
	}
	for k, v := range rec.Meta {
		info.Meta[strings.ToLower(k)] = v
	}
	return info, nil
}

func (s *Store) CheckCopySource(ctx context.Context, req *backend.Request) error {
	source := req.Header.Get("X-Amz-Copy-Source")
	if source == "" {
		return nil
	}
	container, object, err := backend.SplitCopySource(source)
	if err != nil {
		return err
	}
	_, err = s.ObjectInfo(ctx, container, object)
	return err
}

func (s *Store) MultipartManifestDeleteQuery(ctx context.Context, req *backend.Request) (url.Values, error) {
	info, err := s.ObjectInfo(ctx, req.Container, req.Object)
	if err != nil {
		return nil, nil
	}
	if !info.Multipart {
		return nil, nil
	}
	return url.Values{"multipart-manifest": []string{"delete"}}, nil
}

func (s *Store) versioningEnabled(tx *bolt.Tx, container string) bool {
	raw := tx.Bucket(containersBucket).Get([]byte(container))
	if raw == nil {
		return false
	}
	var rec containerRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return false
	}
	return strings.EqualFold(rec.Sysmeta["Versions-Enabled"], "true")
}
