// Package stats serves filter counters and upstream health over HTTP.
package stats

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"github.com/epithet-ssh/jsonflt/pkg/recordfilter"
	"github.com/epithet-ssh/jsonflt/pkg/upstream"
)

// FilterSource exposes a filter's counters.
type FilterSource interface {
	Name() string
	Strategy() recordfilter.Strategy
	Stats() *recordfilter.Stats
}

// BackendSource exposes upstream breaker state.
type BackendSource interface {
	Status() []upstream.BackendStatus
	Available() bool
}

// Report is the body of GET /stats.
type Report struct {
	Filter    string                   `json:"filter"`
	Strategy  string                   `json:"strategy"`
	Uptime    string                   `json:"uptime"`
	Counters  recordfilter.Snapshot    `json:"counters"`
	Upstreams []upstream.BackendStatus `json:"upstreams"`
}

type handler struct {
	filter   FilterSource
	backends BackendSource
	started  time.Time
	log      *slog.Logger
}

// NewHandler returns the router for the stats endpoints. backends may be nil.
func NewHandler(filter FilterSource, backends BackendSource, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &handler{
		filter:   filter,
		backends: backends,
		started:  time.Now(),
		log:      logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/stats", h.stats)
	r.Get("/healthz", h.healthz)
	return r
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	rep := Report{
		Filter:   h.filter.Name(),
		Strategy: h.filter.Strategy().String(),
		Uptime:   time.Since(h.started).Truncate(time.Second).String(),
		Counters: h.filter.Stats().Snapshot(),
	}
	if h.backends != nil {
		rep.Upstreams = h.backends.Status()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		h.log.Warn("failed to write stats response", "error", err)
	}
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.backends != nil && !h.backends.Available() {
		http.Error(w, "no upstream available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

// requestLogger logs each request at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

// Serve runs the stats server on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
