// Package httpapi is the transport shell around the block manager (§5/§6):
// a chi router that serializes every request into a single
// *blockmanager.Manager behind one mutex, the same role the teacher's
// internal/http.Server.mu plays around its radix tree.
package httpapi

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agenthands/kvradix/internal/blockmanager"
	"github.com/agenthands/kvradix/internal/sequence"
)

// Server holds the single shared Manager and the live sequence table. It
// performs no caching of its own beyond tracking which sequence ids are
// currently allocated.
type Server struct {
	mgr *blockmanager.Manager

	mu        sync.Mutex
	sequences map[string]*sequence.Sequence

	metrics *metrics
}

// NewServer wraps mgr behind a mutex; Routes builds the route table.
func NewServer(mgr *blockmanager.Manager) *Server {
	return &Server{
		mgr:       mgr,
		sequences: make(map[string]*sequence.Sequence),
		metrics:   newMetrics(),
	}
}

// Routes builds the chi router for this server.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.LogHandler)
	r.Use(s.RecoverHandler)

	r.Post("/v1/sequences", s.handleCreateSequence)
	r.Post("/v1/sequences/{id}/append", s.handleAppend)
	r.Delete("/v1/sequences/{id}", s.handleDelete)
	r.Get("/v1/pool", s.handlePool)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metrics.handler())

	return r
}

// newSequenceID mints a fresh uuid4 as the externally visible sequence id.
// It is not used as a cache-group id: a request that leaves cache_group_id
// unset is allocated with no cache-group.
func newSequenceID() string {
	return uuid.NewString()
}

// LogHandler wraps handlers with request logging, matching the teacher's
// internal/http.Server.LogHandler (src: internal/http/handler.go).
func (s *Server) LogHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// RecoverHandler wraps handlers with panic recovery: InvariantViolation
// panics raised inside the manager surface here as a 500, never inside
// blockmanager itself (§7).
func (s *Server) RecoverHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered", "error", err)
				writeJSONError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
