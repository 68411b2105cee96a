package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/opencodemem/opencodemem/internal/apierr"
	memcontext "github.com/opencodemem/opencodemem/internal/context"
	"github.com/opencodemem/opencodemem/internal/privacy"
	"github.com/opencodemem/opencodemem/internal/queue"
	"github.com/opencodemem/opencodemem/internal/rank"
	"github.com/opencodemem/opencodemem/internal/replicate"
	"github.com/opencodemem/opencodemem/internal/search"
	"github.com/opencodemem/opencodemem/internal/store"
	"github.com/opencodemem/opencodemem/internal/telemetry"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := []string{}
	dbOK := true
	if _, err := s.Store.Stats(); err != nil {
		dbOK = false
		checks = append(checks, "store: "+err.Error())
	}

	status := "ok"
	if !dbOK {
		status = "error"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"dbConnected":  dbOK,
		"vectorEnabled": s.Search != nil,
		"queueRunning": s.Queue != nil,
		"sseClients":   s.Stream.SubscriberCount(),
		"checks":       checks,
		"version":      Version,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Store.Stats()
	if err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "load stats", err))
		return
	}
	deadLetters, _ := s.Queue.DeadLetterCount("")
	pending, _ := s.Queue.PendingCount()

	var routes map[string]telemetry.RouteSummary
	if s.Telemetry != nil && s.Telemetry.RouteStats != nil {
		routes = s.Telemetry.RouteStats.Snapshot()
	}

	var lastSync *replicate.SyncRun
	if s.Store != nil {
		lastSync, _ = s.Store.LastSyncRun()
	}

	resp := map[string]any{
		"sessions":     stats.TotalSessions,
		"observations": stats.TotalObservations,
		"prompts":      stats.TotalPrompts,
		"memories":     stats.TotalMemories,
		"vectors":      stats.TotalVectors,
		"projects":     stats.Projects,
		"queue":        map[string]any{"pending": pending, "deadLetters": deadLetters},
		"routes":       routes,
	}
	if lastSync != nil {
		resp["lastSyncRun"] = lastSync
	}
	if diag := s.lastSearchDiagnostics(); diag != nil {
		resp["lastSearchDiagnostics"] = diag
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionInitRequest struct {
	SessionID string `json:"sessionId"`
	Project   string `json:"project"`
	Directory string `json:"directory"`
}

func (s *Server) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	var req sessionInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindInput, "invalid body", err))
		return
	}
	if req.SessionID == "" || req.Project == "" {
		writeError(w, apierr.New(apierr.KindInput, "sessionId and project are required", nil))
		return
	}
	if err := s.Sessions.Start(req.SessionID, req.Project, req.Directory); err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "start session", err))
		return
	}
	if s.Stream != nil {
		s.Stream.Publish(req.Project, req.SessionID, "session_init", req)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": req.SessionID})
}

type sessionCompleteRequest struct {
	SessionID string `json:"sessionId"`
	Project   string `json:"project"`
	Status    string `json:"status,omitempty"`
}

func (s *Server) handleSessionComplete(w http.ResponseWriter, r *http.Request) {
	var req sessionCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindInput, "invalid body", err))
		return
	}
	status := req.Status
	if status == "" {
		status = store.SessionCompleted
	}
	summary, err := s.Sessions.Complete(req.SessionID, status)
	if err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "complete session", err))
		return
	}
	if s.Stream != nil {
		s.Stream.Publish(req.Project, req.SessionID, "session_complete", map[string]any{"sessionId": req.SessionID, "status": status, "summary": summary})
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "summary": summary})
}

type eventIngestRequest struct {
	EventType string          `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Project   string          `json:"project"`
	Data      json.RawMessage `json:"data"`
	DedupKey  string          `json:"dedupKey"`
}

func (s *Server) handleEventsIngest(w http.ResponseWriter, r *http.Request) {
	var req eventIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindInput, "invalid body", err))
		return
	}
	if req.EventType == "" {
		writeError(w, apierr.New(apierr.KindInput, "eventType is required", nil))
		return
	}

	id, err := s.Queue.Enqueue(req.EventType, req.Data, req.DedupKey)
	if err != nil {
		if errors.Is(err, queue.ErrDuplicateEvent) {
			writeJSON(w, http.StatusOK, map[string]any{"queued": false, "duplicate": true, "dedupKey": req.DedupKey})
			return
		}
		writeError(w, apierr.New(apierr.KindQueueExhausted, "enqueue event", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": true, "duplicate": false, "queueMessageId": id, "dedupKey": req.DedupKey})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start := time.Now()

	weights := s.Weights
	if weights == (rank.Weights{}) {
		weights = rank.DefaultWeights()
	}
	opts := search.Options{
		Type:            q.Get("type"),
		Project:         q.Get("project"),
		Limit:           queryInt(r, "limit", 20),
		Offset:          queryInt(r, "offset", 0),
		DateStart:       q.Get("dateStart"),
		DateEnd:         q.Get("dateEnd"),
		Weights:         weights,
		DisableFTS:      !queryBool(r, "useFTS", true),
		DisableSemantic: !queryBool(r, "useSemantic", true),
	}
	results, diag, err := s.Search.Search(q.Get("query"), opts)
	if err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "search", err))
		return
	}
	s.recordLastSearch(diag)

	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		snippet := store.Truncate(r.Observation.Content, 150)
		out = append(out, map[string]any{
			"id":               r.Observation.ID,
			"title":            r.Observation.Title,
			"subtitle":         r.Observation.Type,
			"snippet":          snippet,
			"type":             r.Observation.Type,
			"created_at_epoch": r.Observation.CreatedAt,
			"prompt_number":    r.Observation.PromptNumber,
			"similarity":       int(r.Score.Score * 100),
			"scores": map[string]float64{
				"lexical":  r.Score.Lexical,
				"semantic": r.Score.Semantic,
				"recency":  r.Score.Recency,
			},
		})
	}

	var strategies []string
	if !opts.DisableFTS {
		strategies = append(strategies, "lexical")
	}
	if !diag.SemanticSkipped {
		strategies = append(strategies, "semantic")
	}
	if diag.UsedFallback {
		strategies = append(strategies, "fallback")
	}

	resp := map[string]any{
		"results":    out,
		"total":      len(out),
		"strategies": strategies,
		"timingMs":   time.Since(start).Milliseconds(),
	}
	if q.Get("includeDiagnostics") != "" {
		resp["diagnostics"] = diag
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start := time.Now()
	anchor := int64(queryInt(r, "anchor", 0))
	if anchor == 0 {
		if query := q.Get("query"); query != "" {
			resolved, err := s.Store.ResolveAnchorByQuery(q.Get("project"), query)
			if err != nil {
				writeError(w, apierr.New(apierr.KindNotFound, "no timeline anchor matches query", err))
				return
			}
			anchor = resolved
		} else {
			writeError(w, apierr.New(apierr.KindInput, "anchor or query is required", nil))
			return
		}
	}
	tl, err := s.Store.Timeline(anchor, queryInt(r, "depth_before", 3), queryInt(r, "depth_after", 3))
	if err != nil {
		writeError(w, apierr.New(apierr.KindNotFound, "timeline", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"anchor":   map[string]any{"id": tl.Focus.ID, "created_at_epoch": tl.Focus.CreatedAt},
		"before":   tl.Before,
		"after":    tl.After,
		"prompts":  tl.Prompts,
		"timingMs": time.Since(start).Milliseconds(),
	})
}

type observationsBatchRequest struct {
	IDs     []int64 `json:"ids"`
	Project string  `json:"project"`
	OrderBy string  `json:"orderBy"`
}

func (s *Server) handleObservationsBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req observationsBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindInput, "invalid body", err))
		return
	}
	var out []store.Observation
	for _, id := range req.IDs {
		o, err := s.Store.GetObservation(id)
		if err != nil {
			continue
		}
		out = append(out, *o)
	}
	switch req.OrderBy {
	case "date":
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	default:
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"observations": out,
		"count":        len(out),
		"timingMs":     time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mems, err := s.Store.ListMemories(q.Get("project"), q.Get("type"), queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "list memory", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": mems, "count": len(mems)})
}

type memorySaveRequest struct {
	Project   string         `json:"project"`
	SessionID string         `json:"sessionId,omitempty"`
	Content   string         `json:"content"`
	Summary   string         `json:"summary,omitempty"`
	Type      string         `json:"type,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleMemorySave(w http.ResponseWriter, r *http.Request) {
	var req memorySaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindInput, "invalid body", err))
		return
	}
	if req.Project == "" || req.Content == "" {
		writeError(w, apierr.New(apierr.KindInput, "project and content are required", nil))
		return
	}
	contentResult := privacy.Sanitize(req.Content)
	if contentResult.Blocked {
		writeError(w, apierr.New(apierr.KindPrivacyBlocked, contentResult.Code, nil))
		return
	}
	summaryText := req.Summary
	if summaryText != "" {
		summaryResult := privacy.Sanitize(summaryText)
		if summaryResult.Blocked {
			writeError(w, apierr.New(apierr.KindPrivacyBlocked, summaryResult.Code, nil))
			return
		}
		summaryText = summaryResult.Text
	}
	id, err := s.Store.SaveMemory(store.AddMemoryParams{
		Project:   req.Project,
		SessionID: req.SessionID,
		Content:   contentResult.Text,
		Summary:   summaryText,
		Type:      req.Type,
		Tags:      req.Tags,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "save memory", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "warnings": contentResult.Warnings})
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.DeleteMemory(id); err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "delete memory", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleMemoryBySession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mems, err := s.Store.MemoriesBySession(q.Get("project"), q.Get("sessionId"), queryInt(r, "limit", 5))
	if err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "memory by session", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": mems, "count": len(mems)})
}

func (s *Server) handleContextInject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	project := q.Get("project")
	if project == "" {
		writeError(w, apierr.New(apierr.KindInput, "project is required", nil))
		return
	}
	mems, err := s.Store.MemoriesForInjection(project, q.Get("sessionId"), queryInt(r, "maxAgeDays", 0), queryInt(r, "maxMemories", 20))
	if err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "context inject", err))
		return
	}
	maxTokens := queryInt(r, "maxTokens", 2000)
	lines, tokensUsed, truncated := memcontext.Build(mems, maxTokens)
	if len(lines) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"context": nil, "count": 0, "tokenEstimate": 0, "truncated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"context":       memcontext.Format(lines, project),
		"count":         len(lines),
		"tokenEstimate": tokensUsed,
		"truncated":     truncated,
	})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("kind") {
	case "queue":
		pending, _ := s.Queue.PendingCount()
		deadLetters, _ := s.Queue.DeadLetterCount("")
		writeJSON(w, http.StatusOK, map[string]any{"pending": pending, "deadLetters": deadLetters})
	case "search":
		writeJSON(w, http.StatusOK, map[string]any{"note": "see includeDiagnostics on /api/search"})
	case "sync":
		writeJSON(w, http.StatusOK, map[string]any{"replicatorEnabled": s.Replicator != nil})
	default:
		writeError(w, apierr.New(apierr.KindNotFound, "unknown diagnostics kind", nil))
	}
}

type syncReplayRequest struct {
	Project string `json:"project"`
}

func (s *Server) handleSyncReplay(w http.ResponseWriter, r *http.Request) {
	var req syncReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindInput, "invalid body", err))
		return
	}
	if req.Project == "" {
		writeError(w, apierr.New(apierr.KindInput, "project is required", nil))
		return
	}
	if s.Replicator == nil {
		writeError(w, apierr.New(apierr.KindConfigMigration, "replication is not enabled", nil))
		return
	}
	run, err := s.Replicator.Sync(r.Context(), req.Project)
	if err != nil {
		writeError(w, apierr.New(apierr.KindTransientExternal, "replay failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pushed":    run.Pushed,
		"conflicts": run.Conflicts,
		"failed":    run.Failed,
	})
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sseEnabled": s.SSEEnabled,
	})
}

func (s *Server) handleSettingsPost(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.New(apierr.KindInput, "invalid body", err))
		return
	}
	if v, ok := body["sseEnabled"].(bool); ok {
		s.SSEEnabled = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type cleanupRunRequest struct {
	Project     string `json:"project"`
	MaxMemories int    `json:"maxMemories"`
	MaxAgeDays  int    `json:"maxAgeDays"`
	DryRun      bool   `json:"dryRun"`
}

func (s *Server) handleCleanupRun(w http.ResponseWriter, r *http.Request) {
	var req cleanupRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindInput, "invalid body", err))
		return
	}
	if req.Project == "" {
		writeError(w, apierr.New(apierr.KindInput, "project is required", nil))
		return
	}
	ids, err := s.Store.MemoriesToClean(req.Project, req.MaxMemories, req.MaxAgeDays)
	if err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "cleanup run", err))
		return
	}
	if req.DryRun {
		writeJSON(w, http.StatusOK, map[string]any{"dryRun": true, "wouldDelete": len(ids), "ids": ids})
		return
	}
	deleted := 0
	for _, id := range ids {
		if err := s.Store.DeleteMemory(id); err != nil {
			continue
		}
		deleted++
	}
	writeJSON(w, http.StatusOK, map[string]any{"dryRun": false, "deleted": deleted, "ids": ids})
}

type cleanupPurgeRequest struct {
	Project string `json:"project"`
	Confirm bool   `json:"confirm"`
}

func (s *Server) handleCleanupPurge(w http.ResponseWriter, r *http.Request) {
	var req cleanupPurgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindInput, "invalid body", err))
		return
	}
	if !req.Confirm {
		writeError(w, apierr.New(apierr.KindInput, "confirm=true is required to purge", nil))
		return
	}
	var deleted int64
	var err error
	if req.Project == "" {
		deleted, err = s.Store.PurgeAll()
	} else {
		deleted, err = s.Store.PurgeProject(req.Project)
	}
	if err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "purge", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "project": req.Project})
}

func (s *Server) handleObservationRelations(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	rels, err := s.Store.GetRelations(id)
	if err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "get relations", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"relations": rels})
}

func (s *Server) handleObservationContext(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	depth := queryInt(r, "depth", 2)
	ctx, err := s.Store.BuildContext(id, depth)
	if err != nil {
		writeError(w, apierr.New(apierr.KindNotFound, "build context", err))
		return
	}
	writeJSON(w, http.StatusOK, ctx)
}

type relateRequest struct {
	ToID          int64  `json:"toId"`
	Type          string `json:"type"`
	Note          string `json:"note,omitempty"`
	Bidirectional bool   `json:"bidirectional,omitempty"`
}

func (s *Server) handleObservationRelate(w http.ResponseWriter, r *http.Request) {
	fromID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req relateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindInput, "invalid body", err))
		return
	}
	ids, err := s.Store.AddRelation(store.AddRelationParams{
		FromID: fromID, ToID: req.ToID, Type: req.Type, Note: req.Note, Bidirectional: req.Bidirectional,
	})
	if err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "add relation", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"relationIds": ids})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.SSEEnabled {
		writeError(w, apierr.New(apierr.KindInput, "streaming disabled by settings", nil))
		return
	}
	project := r.URL.Query().Get("project")
	sessionID := r.URL.Query().Get("sessionId")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	_, events, unsubscribe := s.Stream.Subscribe(project, sessionID)
	defer unsubscribe()

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
