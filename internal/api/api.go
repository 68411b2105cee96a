// Package api implements the Public API: a plain net/http.ServeMux
// (Go 1.22+ method+pattern routing — no example repo's go.mod pulls in
// a third-party router, so none is carried here) exposing the JSON
// endpoints described in the specification's External Interfaces
// section, plus a small set of supplemented relation endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/opencodemem/opencodemem/internal/apierr"
	"github.com/opencodemem/opencodemem/internal/queue"
	"github.com/opencodemem/opencodemem/internal/rank"
	"github.com/opencodemem/opencodemem/internal/replicate"
	"github.com/opencodemem/opencodemem/internal/search"
	"github.com/opencodemem/opencodemem/internal/session"
	"github.com/opencodemem/opencodemem/internal/store"
	"github.com/opencodemem/opencodemem/internal/stream"
	"github.com/opencodemem/opencodemem/internal/telemetry"
)

// Version is the reported build version.
const Version = "0.1.0"

// EmbedEnqueuer is the ingest queue's producer surface for /api/events/ingest.
type EmbedEnqueuer interface {
	Enqueue(observationID int64, project, text string)
}

// Server wires every component into HTTP handlers.
type Server struct {
	Store      *store.Store
	Queue      *queue.Queue
	Search     *search.Orchestrator
	Sessions   *session.Service
	Stream     *stream.Broadcaster
	Replicator *replicate.Replicator
	Telemetry  *telemetry.Provider
	StartedAt  time.Time
	SSEEnabled bool
	Weights    rank.Weights

	diagMu     sync.Mutex
	lastSearch *search.Diagnostics
}

// recordLastSearch stashes the most recent search's diagnostics for
// /api/stats to report back. Called from handleSearch.
func (s *Server) recordLastSearch(diag search.Diagnostics) {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()
	s.lastSearch = &diag
}

func (s *Server) lastSearchDiagnostics() *search.Diagnostics {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()
	return s.lastSearch
}

// New builds the Public API's HTTP handler.
func New(s *Server) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.withTiming("health", s.handleHealth))
	mux.HandleFunc("GET /api/stats", s.withTiming("stats", s.handleStats))

	mux.HandleFunc("POST /api/sessions/init", s.withTiming("sessions.init", s.handleSessionInit))
	mux.HandleFunc("POST /api/sessions/complete", s.withTiming("sessions.complete", s.handleSessionComplete))

	mux.HandleFunc("POST /api/events/ingest", s.withTiming("events.ingest", s.handleEventsIngest))

	mux.HandleFunc("GET /api/search", s.withTiming("search", s.handleSearch))
	mux.HandleFunc("GET /api/timeline", s.withTiming("timeline", s.handleTimeline))
	mux.HandleFunc("POST /api/observations/batch", s.withTiming("observations.batch", s.handleObservationsBatch))

	mux.HandleFunc("GET /api/memory/list", s.withTiming("memory.list", s.handleMemoryList))
	mux.HandleFunc("POST /api/memory/save", s.withTiming("memory.save", s.handleMemorySave))
	mux.HandleFunc("DELETE /api/memory/{id}", s.withTiming("memory.delete", s.handleMemoryDelete))
	mux.HandleFunc("GET /api/memory/by-session", s.withTiming("memory.by_session", s.handleMemoryBySession))

	mux.HandleFunc("GET /api/context/inject", s.withTiming("context.inject", s.handleContextInject))

	mux.HandleFunc("GET /api/diagnostics/{kind}", s.withTiming("diagnostics", s.handleDiagnostics))
	mux.HandleFunc("POST /api/diagnostics/sync/replay", s.withTiming("diagnostics.replay", s.handleSyncReplay))

	mux.HandleFunc("GET /api/stream", s.handleStream)

	mux.HandleFunc("GET /api/settings", s.withTiming("settings.get", s.handleSettingsGet))
	mux.HandleFunc("POST /api/settings", s.withTiming("settings.post", s.handleSettingsPost))

	mux.HandleFunc("POST /api/cleanup/run", s.withTiming("cleanup.run", s.handleCleanupRun))
	mux.HandleFunc("POST /api/cleanup/purge", s.withTiming("cleanup.purge", s.handleCleanupPurge))

	mux.HandleFunc("GET /api/observations/{id}/relations", s.withTiming("observations.relations", s.handleObservationRelations))
	mux.HandleFunc("GET /api/observations/{id}/context", s.withTiming("observations.context", s.handleObservationContext))
	mux.HandleFunc("POST /api/observations/{id}/relate", s.withTiming("observations.relate", s.handleObservationRelate))

	return mux
}

// withTiming records request duration in the shared histogram, the
// generalization of every handler's ad hoc timing into one middleware.
// It also feeds the in-process RouteStats rollup /api/stats reads back.
func (s *Server) withTiming(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		elapsed := time.Since(start)
		if s.Telemetry != nil && s.Telemetry.Metrics != nil {
			s.Telemetry.Metrics.RequestDuration.Record(r.Context(), elapsed.Seconds())
		}
		if s.Telemetry != nil && s.Telemetry.RouteStats != nil {
			s.Telemetry.RouteStats.Record(route, elapsed.Seconds(), rec.status >= 400)
		}
	}
}

// statusRecorder captures the status code a handler wrote so withTiming
// can classify the request as an error without every handler reporting
// it explicitly.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apierr.StatusCode(err), map[string]any{
		"error": err.Error(),
		"code":  apierr.Code(err),
	})
}

// queryBool parses a boolean query parameter, defaulting to def when the
// parameter is absent or unparseable.
func queryBool(r *http.Request, key string, def bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func pathInt64(r *http.Request, key string) (int64, error) {
	raw := r.PathValue(key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apierr.New(apierr.KindInput, fmt.Sprintf("invalid %s", key), err)
	}
	return id, nil
}

