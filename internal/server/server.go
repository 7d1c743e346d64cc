package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/garder500/holystore/internal/config"
	"github.com/garder500/holystore/internal/metrics"
	"github.com/garder500/holystore/pkg/db"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-Id"

// Options controls the optional parts of the handler.
type Options struct {
	// Metrics records request durations when set.
	Metrics *metrics.Metrics
	// Gatherer exposes /metrics when set.
	Gatherer prometheus.Gatherer
}

// NewHandler builds the routed HTTP handler. database must be open.
func NewHandler(database *db.Database, opts Options) (http.Handler, error) {
	a, err := newAPI(database)
	if err != nil {
		return nil, err
	}
	r := mux.NewRouter()
	r.Use(loggingMiddleware(opts.Metrics))
	// versioned API root
	v1 := r.PathPrefix("/v1").Subrouter()

	RegisterObjectHandlers(v1, a)
	RegisterStatsHandlers(v1, a)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r, nil
}

// New creates a configured *http.Server with all routes registered.
func New(cfg *config.Config, database *db.Database, m *metrics.Metrics) (*http.Server, error) {
	opts := Options{Metrics: m}
	if cfg.Metrics.Enabled {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	h, err := NewHandler(database, opts)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully within the configured timeout.
func Run(ctx context.Context, cfg *config.Config, database *db.Database, m *metrics.Metrics) error {
	srv, err := New(cfg, database, m)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// logging middleware to trace requests and response status
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (l *loggingResponseWriter) WriteHeader(code int) {
	l.status = code
	l.ResponseWriter.WriteHeader(code)
}

func (l *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := l.ResponseWriter.Write(b)
	l.bytes += int64(n)
	return n, err
}

func (l *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return l.ResponseWriter
}

func loggingMiddleware(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)

			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lrw, r)
			elapsed := time.Since(start)

			log.Debug().
				Str("request_id", reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Int("status", lrw.status).
				Int64("bytes", lrw.bytes).
				Dur("duration", elapsed).
				Msg("request")

			if m != nil {
				route := r.URL.Path
				if cr := mux.CurrentRoute(r); cr != nil {
					if tpl, err := cr.GetPathTemplate(); err == nil {
						route = tpl
					}
				}
				m.RecordRequest(route, r.Method, strconv.Itoa(lrw.status), elapsed.Seconds())
			}
		})
	}
}
