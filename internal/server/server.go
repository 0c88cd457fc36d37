// Package server wires the gateway together: routing, middleware, backend
// adapter selection and process lifecycle.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/swiftgate/swiftgate/internal/accesslog"
	"github.com/swiftgate/swiftgate/internal/backend"
	"github.com/swiftgate/swiftgate/internal/config"
	"github.com/swiftgate/swiftgate/internal/devstore"
	"github.com/swiftgate/swiftgate/internal/gateway"
	"github.com/swiftgate/swiftgate/internal/metrics"
	"github.com/swiftgate/swiftgate/internal/middleware"
	"github.com/swiftgate/swiftgate/internal/notify"
	"github.com/swiftgate/swiftgate/internal/ratelimit"
	"github.com/swiftgate/swiftgate/internal/s3err"
)

type Server struct {
	cfg        *config.Config
	adapter    backend.Adapter
	objects    *gateway.ObjectController
	buckets    *gateway.BucketController
	dispatcher *notify.Dispatcher
	collector  *metrics.Collector
	accessLog  *accesslog.Logger
	limiter    *ratelimit.Limiter

	closers []func() error
}

func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		collector: metrics.NewCollector(),
	}

	switch cfg.Backend.Mode {
	case "dev":
		store, err := devstore.Open(cfg.Backend.DevPath)
		if err != nil {
			return nil, fmt.Errorf("init dev backend: %w", err)
		}
		s.adapter = store
		s.closers = append(s.closers, store.Close)
		slog.Info("backend: local dev store", "path", cfg.Backend.DevPath)
	default:
		s.adapter = backend.NewSwiftClient(
			cfg.Backend.Endpoint, cfg.Backend.Account, cfg.Backend.AuthToken,
			time.Duration(cfg.Backend.TimeoutSecs)*time.Second)
		slog.Info("backend: swift", "endpoint", cfg.Backend.Endpoint, "account", cfg.Backend.Account)
	}

	if dispatcher, err := buildDispatcher(cfg.Notifications); err != nil {
		return nil, err
	} else if dispatcher != nil {
		s.dispatcher = dispatcher
	}

	onEvent := func(event, container, object string, size int64, etag, versionID string) {
		s.collector.ObserveEvent()
		if s.dispatcher != nil {
			s.dispatcher.Emit(event, container, object, size, etag, versionID)
		}
	}

	instrumented := instrumentedAdapter{Adapter: s.adapter, collector: s.collector}
	s.objects = gateway.NewObjectController(instrumented, onEvent)
	s.buckets = gateway.NewBucketController(instrumented, onEvent)

	if cfg.Logging.AccessEnabled {
		logger, err := accesslog.New(cfg.Logging.AccessPath)
		if err != nil {
			return nil, fmt.Errorf("init access logger: %w", err)
		}
		s.accessLog = logger
		s.closers = append(s.closers, logger.Close)
		slog.Info("access logging enabled", "path", cfg.Logging.AccessPath)
	}

	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	return s, nil
}

// buildDispatcher assembles the notification dispatcher from the configured
// targets; nil when no target is configured.
func buildDispatcher(cfg config.NotificationsConfig) (*notify.Dispatcher, error) {
	d := notify.NewDispatcher(cfg.MaxWorkers, cfg.QueueSize,
		time.Duration(cfg.TimeoutSecs)*time.Second)
	registered := false

	if cfg.NATSUrl != "" {
		t, err := notify.NewNATSTarget(cfg.NATSUrl, cfg.NATSSubject)
		if err != nil {
			return nil, fmt.Errorf("init nats target: %w", err)
		}
		d.AddTarget(t)
		registered = true
	}
	if len(cfg.KafkaBrokers) > 0 {
		d.AddTarget(notify.NewKafkaTarget(cfg.KafkaBrokers, cfg.KafkaTopic))
		registered = true
	}
	if cfg.RedisAddr != "" {
		d.AddTarget(notify.NewRedisTarget(cfg.RedisAddr, cfg.RedisChan, cfg.RedisList))
		registered = true
	}

	if !registered {
		return nil, nil
	}
	return d, nil
}

// Handler builds the routed, middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", s.collector.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.HandleFunc("/{bucket}", s.handleBucket)
	r.HandleFunc("/{bucket}/*", s.handleObject)

	var h http.Handler = r
	if s.limiter != nil {
		h = middleware.RateLimit(s.limiter, h)
	}
	h = middleware.Observe(s.collector, s.accessLog, h)
	h = middleware.PanicRecovery(h)
	h = middleware.RequestID(h)
	return h
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	req := toBackendRequest(r, chi.URLParam(r, "bucket"), chi.URLParam(r, "*"))

	var (
		resp *backend.Response
		err  error
	)
	switch r.Method {
	case http.MethodGet:
		resp, err = s.objects.GetObject(r.Context(), req)
	case http.MethodHead:
		resp, err = s.objects.HeadObject(r.Context(), req)
	case http.MethodPut:
		resp, err = s.objects.PutObject(r.Context(), req)
	case http.MethodPost:
		resp, err = s.objects.PostObject(r.Context(), req)
	case http.MethodDelete:
		resp, err = s.objects.DeleteObject(r.Context(), req)
	default:
		err = s3err.MethodNotAllowed
	}
	s.finish(w, r, resp, err)
}

func (s *Server) handleBucket(w http.ResponseWriter, r *http.Request) {
	req := toBackendRequest(r, chi.URLParam(r, "bucket"), "")
	query := r.URL.Query()

	var (
		resp *backend.Response
		err  error
	)
	switch {
	case r.Method == http.MethodPost && query.Has("delete"):
		resp, err = s.buckets.DeleteObjects(r.Context(), req)
	case r.Method == http.MethodGet && query.Has("versioning"):
		resp, err = s.buckets.GetVersioning(r.Context(), req)
	case r.Method == http.MethodPut && query.Has("versioning"):
		resp, err = s.buckets.PutVersioning(r.Context(), req)
	case r.Method == http.MethodGet:
		resp, err = s.buckets.ListObjects(r.Context(), req)
	case r.Method == http.MethodPut:
		resp, err = s.buckets.CreateBucket(r.Context(), req)
	case r.Method == http.MethodDelete:
		resp, err = s.buckets.DeleteBucket(r.Context(), req)
	case r.Method == http.MethodHead:
		resp, err = s.buckets.HeadBucket(r.Context(), req)
	default:
		err = s3err.MethodNotAllowed
	}
	s.finish(w, r, resp, err)
}

func (s *Server) finish(w http.ResponseWriter, r *http.Request, resp *backend.Response, err error) {
	if err != nil {
		apiErr := s3err.Map(err)
		if apiErr == s3err.InternalError {
			slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		}
		s3err.Write(w, w.Header().Get("X-Request-Id"), apiErr, r.URL.Path)
		return
	}
	writeResponse(w, resp)
}

// toBackendRequest translates the inbound HTTP request into the gateway's
// request form.
func toBackendRequest(r *http.Request, bucket, key string) *backend.Request {
	return &backend.Request{
		Method:        r.Method,
		Container:     bucket,
		Object:        key,
		Query:         r.URL.Query(),
		Header:        r.Header.Clone(),
		Body:          r.Body,
		ContentLength: r.ContentLength,
	}
}

// writeResponse copies the shaped response onto the wire and closes any
// body stream. Backend-internal headers never reach the client.
func writeResponse(w http.ResponseWriter, resp *backend.Response) {
	for name, vals := range resp.Header {
		if strings.HasPrefix(name, "X-Object-Sysmeta-") ||
			strings.HasPrefix(name, "X-Container-Sysmeta-") ||
			strings.HasPrefix(name, "X-Backend-") ||
			name == "X-Timestamp" || name == "X-Static-Large-Object" {
			continue
		}
		for _, v := range vals {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.Status)
	if resp.Body != nil {
		io.Copy(w, resp.Body)
		resp.Body.Close()
	}
}

// Run serves until a termination signal arrives, then shuts down gracefully
// within the configured timeout.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Address, s.cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	if s.dispatcher != nil {
		notifyCtx, notifyCancel := context.WithCancel(context.Background())
		defer notifyCancel()
		s.dispatcher.Start(notifyCtx)
		defer s.dispatcher.Stop()
	}

	slog.Info("swiftgate starting", "addr", addr, "backend", s.cfg.Backend.Mode)

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.Server.TLS.Enabled {
			errCh <- httpServer.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	}

	timeout := time.Duration(s.cfg.Server.ShutdownTimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown timed out", "timeout", timeout, "error", err)
		return err
	}
	slog.Info("server stopped")
	return nil
}

// instrumentedAdapter counts backend round trips, delegating everything to
// the wrapped adapter.
type instrumentedAdapter struct {
	backend.Adapter
	collector *metrics.Collector
}

func (a instrumentedAdapter) Do(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	a.collector.ObserveBackendCall(req.Method)
	return a.Adapter.Do(ctx, req)
}

func (a instrumentedAdapter) DoQuery(ctx context.Context, req *backend.Request, query url.Values) (*backend.Response, error) {
	a.collector.ObserveBackendCall(req.Method)
	return a.Adapter.DoQuery(ctx, req, query)
}

func (a instrumentedAdapter) ObjectInfo(ctx context.Context, container, object string) (*backend.ObjectInfo, error) {
	a.collector.ObserveBackendCall(http.MethodHead)
	return a.Adapter.ObjectInfo(ctx, container, object)
}

// Close releases backend and logging resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			slog.Warn("close", "error", err)
		}
	}
}
