// Package notify emits S3-style event records for mutations that pass
// through the gateway. Delivery is asynchronous; a bounded worker pool fans
// events out to the configured targets.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event is the AWS S3 event notification JSON shape.
type Event struct {
	Records []EventRecord `json:"Records"`
}

type EventRecord struct {
	EventVersion string `json:"eventVersion"`
	EventSource  string `json:"eventSource"`
	EventTime    string `json:"eventTime"`
	EventName    string `json:"eventName"`
	S3           Detail `json:"s3"`
}

type Detail struct {
	Bucket Bucket `json:"bucket"`
	Object Object `json:"object"`
}

type Bucket struct {
	Name string `json:"name"`
}

type Object struct {
	Key       string `json:"key"`
	Size      int64  `json:"size"`
	ETag      string `json:"eTag,omitempty"`
	VersionID string `json:"versionId,omitempty"`
}

// Target is one delivery destination for event payloads.
type Target interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Dispatcher queues events and delivers them to every registered target.
type Dispatcher struct {
	queue   chan []byte
	wg      sync.WaitGroup
	workers int
	timeout time.Duration

	mu      sync.Mutex
	targets []Target
}

func NewDispatcher(workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 128
	}
	return &Dispatcher{
		queue:   make(chan []byte, queueSize),
		workers: workers,
		timeout: timeout,
	}
}

// AddTarget registers a delivery target.
func (d *Dispatcher) AddTarget(t Target) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets = append(d.targets, t)
	slog.Info("notification target registered", "target", t.Name())
}

// Start launches the delivery workers. Stop drains them.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-d.queue:
					if !ok {
						return
					}
					d.deliver(payload)
				}
			}
		}()
	}
}

func (d *Dispatcher) Stop() {
	close(d.queue)
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.targets {
		if err := t.Close(); err != nil {
			slog.Warn("closing notification target", "target", t.Name(), "error", err)
		}
	}
}

// Emit enqueues one event record. The queue never blocks a request: when
// full, the event is dropped and logged.
func (d *Dispatcher) Emit(eventName, bucket, key string, size int64, etag, versionID string) {
	ev := Event{Records: []EventRecord{{
		EventVersion: "2.1",
		EventSource:  "swiftgate:s3",
		EventTime:    time.Now().UTC().Format(time.RFC3339),
		EventName:    eventName,
		S3: Detail{
			Bucket: Bucket{Name: bucket},
			Object: Object{Key: key, Size: size, ETag: etag, VersionID: versionID},
		},
	}}}
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal event", "error", err)
		return
	}
	select {
	case d.queue <- payload:
	default:
		slog.Warn("notification queue full, dropping event", "event", eventName, "bucket", bucket, "key", key)
	}
}

func (d *Dispatcher) deliver(payload []byte) {
	d.mu.Lock()
	targets := append([]Target(nil), d.targets...)
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	for _, t := range targets {
		if err := t.Publish(ctx, payload); err != nil {
			slog.Warn("event delivery failed", "target", t.Name(), "error", err)
		}
	}
}
