// Package server exposes the query engine and index maintenance over HTTP.
//
// The caller is identified by the X-User-ID header, which the upstream
// authentication layer sets. Requests without it are rejected with 401.
// The /index routes additionally require a caller listed in
// Options.AdminUserIDs and answer 403 to everyone else.
//
// Mutation handlers of the source application report changes through
// POST /index/sync with {"type": "...", "id": n}. The server reloads the row
// from the source tables, so the body never carries content or visibility.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dshills/highlight-search/internal/indexer"
	"github.com/dshills/highlight-search/internal/logging"
	"github.com/dshills/highlight-search/internal/searcher"
	"github.com/dshills/highlight-search/internal/storage"
	"github.com/dshills/highlight-search/pkg/types"
)

// CallerHeader carries the authenticated user id
const CallerHeader = "X-User-ID"

// Searcher answers search requests
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
	Capabilities() types.Capabilities
}

// Maintainer is the index maintenance surface
type Maintainer interface {
	SyncRef(ctx context.Context, ref types.EntityRef) error
	Remove(ctx context.Context, ref types.EntityRef) (bool, error)
	StartRebuild() (func(ctx context.Context) error, error)
	Rebuilding() bool
	QueueStats() indexer.QueueStats
}

// StatusReader reports index statistics
type StatusReader interface {
	GetStatus(ctx context.Context) (*storage.IndexStatus, error)
}

// Options configures a Server
type Options struct {
	Addr              string
	ShutdownTimeout   time.Duration
	Metrics           http.Handler // served on /metrics when set
	SemanticAvailable bool
	AdminUserIDs      []string
	Logger            *slog.Logger
}

// Server is the HTTP surface
type Server struct {
	search     Searcher
	index      Maintainer
	status     StatusReader
	semantic   bool
	admins     map[string]struct{}
	metrics    http.Handler
	logger     *slog.Logger
	httpServer *http.Server
	shutdown   time.Duration

	// background rebuilds outlive their request but not the server
	ctx      context.Context
	cancel   context.CancelFunc
	rebuilds sync.WaitGroup
}

// New creates a Server
func New(search Searcher, index Maintainer, status StatusReader, opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	admins := make(map[string]struct{}, len(opts.AdminUserIDs))
	for _, id := range opts.AdminUserIDs {
		admins[id] = struct{}{}
	}

	s := &Server{
		search:   search,
		index:    index,
		status:   status,
		semantic: opts.SemanticAvailable,
		admins:   admins,
		metrics:  opts.Metrics,
		logger:   logging.OrDiscard(opts.Logger),
		shutdown: opts.ShutdownTimeout,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search", s.withCaller(s.handleSearch))
	mux.HandleFunc("GET /search/capabilities", s.withCaller(s.handleCapabilities))
	mux.HandleFunc("GET /index/status", s.withAdmin(s.handleStatus))
	mux.HandleFunc("POST /index/rebuild", s.withAdmin(s.handleRebuild))
	mux.HandleFunc("POST /index/sync", s.withAdmin(s.handleSync))
	mux.HandleFunc("DELETE /index/{type}/{id}", s.withAdmin(s.handleRemove))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return s.logRequests(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.cancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()

	s.logger.Info("http server shutting down")
	err := s.httpServer.Shutdown(shutdownCtx)
	s.cancel()
	s.rebuilds.Wait()
	return err
}

type callerKey struct{}

// withCaller rejects requests without a caller identity
func (s *Server) withCaller(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := r.Header.Get(CallerHeader)
		if caller == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + CallerHeader + " header"})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	}
}

// withAdmin admits only callers listed as admins
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.withCaller(func(w http.ResponseWriter, r *http.Request) {
		caller := callerFrom(r.Context())
		if _, ok := s.admins[caller]; !ok {
			s.logger.Warn("maintenance request denied", "caller", caller, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "caller is not an index administrator"})
			return
		}
		next(w, r)
	})
}

func callerFrom(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey{}).(string)
	return caller
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
