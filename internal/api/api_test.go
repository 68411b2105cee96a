package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/opencodemem/opencodemem/internal/queue"
	"github.com/opencodemem/opencodemem/internal/search"
	"github.com/opencodemem/opencodemem/internal/session"
	"github.com/opencodemem/opencodemem/internal/store"
	"github.com/opencodemem/opencodemem/internal/stream"
)

func newTestServer(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.DataDir = t.TempDir()
	st, err := store.New(cfg)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	q := queue.New(st.Conn(), st.WithWriteLock, 3, 0)
	orchestrator := search.New(st, nil)
	sessions := session.New(st, nil)
	bcast := stream.New()

	h := New(&Server{
		Store:      st,
		Queue:      q,
		Search:     orchestrator,
		Sessions:   sessions,
		Stream:     bcast,
		SSEEnabled: true,
	})
	return h, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth_ReportsOK(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestSessionInitAndComplete(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/sessions/init", map[string]any{"sessionId": "s1", "project": "proj"})
	if rec.Code != http.StatusOK {
		t.Fatalf("init: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/sessions/complete", map[string]any{"sessionId": "s1", "project": "proj"})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMemorySaveThenList(t *testing.T) {
	h, st := newTestServer(t)
	if err := st.CreateSession("s1", "proj", "/tmp/proj"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/memory/save", map[string]any{
		"sessionId": "s1", "type": "decision", "content": "Chose SQLite because it is embeddable.", "project": "proj",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/memory/list?project=proj", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["count"].(float64) != 1 {
		t.Fatalf("expected 1 memory, got %v", body["count"])
	}
}

func TestCleanupPurge_RequiresConfirm(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/cleanup/purge", map[string]any{"project": "proj", "confirm": false})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without confirm, got %d", rec.Code)
	}
}

func TestObservationRelateAndFetchRelations(t *testing.T) {
	h, st := newTestServer(t)
	if err := st.CreateSession("s1", "proj", "/tmp/proj"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id1, err := st.AddObservation(store.AddObservationParams{SessionID: "s1", Type: "decision", Title: "A", Content: "aa", Project: "proj"})
	if err != nil {
		t.Fatalf("AddObservation: %v", err)
	}
	id2, err := st.AddObservation(store.AddObservationParams{SessionID: "s1", Type: "decision", Title: "B", Content: "bb", Project: "proj"})
	if err != nil {
		t.Fatalf("AddObservation: %v", err)
	}

	path := "/api/observations/" + strconv.FormatInt(id1, 10) + "/relate"
	rec := doJSON(t, h, http.MethodPost, path, map[string]any{"toId": id2, "type": "supersedes"})
	if rec.Code != http.StatusOK {
		t.Fatalf("relate: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/observations/"+strconv.FormatInt(id1, 10)+"/relations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("relations: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
