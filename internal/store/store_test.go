package store

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.DedupeWindow = time.Minute
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddObservation_DedupWithinWindow(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("sess-1", "proj", "/tmp/proj"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	p := AddObservationParams{SessionID: "sess-1", Type: "decision", Title: "Use SQLite", Content: "Chose SQLite for storage.", Project: "proj"}
	id1, err := s.AddObservation(p)
	if err != nil {
		t.Fatalf("AddObservation: %v", err)
	}
	id2, err := s.AddObservation(p)
	if err != nil {
		t.Fatalf("AddObservation dup: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected duplicate to coalesce into same id, got %d and %d", id1, id2)
	}

	obs, err := s.GetObservation(id1)
	if err != nil {
		t.Fatalf("GetObservation: %v", err)
	}
	if obs.DuplicateCount != 2 {
		t.Fatalf("expected duplicate_count 2, got %d", obs.DuplicateCount)
	}
}

func TestAddObservation_TopicKeyUpsertRevises(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("sess-1", "proj", "/tmp/proj"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	first := AddObservationParams{SessionID: "sess-1", Type: "pattern", Title: "Retry policy", Content: "v1", Project: "proj", TopicKey: "retry-policy"}
	id1, err := s.AddObservation(first)
	if err != nil {
		t.Fatalf("AddObservation: %v", err)
	}

	second := first
	second.Content = "v2, revised"
	id2, err := s.AddObservation(second)
	if err != nil {
		t.Fatalf("AddObservation revise: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected topic_key upsert to reuse id, got %d and %d", id1, id2)
	}

	obs, err := s.GetObservation(id1)
	if err != nil {
		t.Fatalf("GetObservation: %v", err)
	}
	if obs.RevisionCount != 2 {
		t.Fatalf("expected revision_count 2, got %d", obs.RevisionCount)
	}
	if obs.Content != "v2, revised" {
		t.Fatalf("expected content to be replaced by revision, got %q", obs.Content)
	}
}

func TestSearch_FindsByLexicalMatch(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("sess-1", "proj", "/tmp/proj"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := s.AddObservation(AddObservationParams{SessionID: "sess-1", Type: "bugfix", Title: "Fix race in scheduler", Content: "Fixed a data race in the cron scheduler goroutine.", Project: "proj"}); err != nil {
		t.Fatalf("AddObservation: %v", err)
	}

	results, err := s.Search("scheduler race", SearchOptions{Project: "proj"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestDeleteObservation_SoftDeleteExcludesFromRecent(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("sess-1", "proj", "/tmp/proj"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id, err := s.AddObservation(AddObservationParams{SessionID: "sess-1", Type: "note", Title: "T", Content: "C", Project: "proj"})
	if err != nil {
		t.Fatalf("AddObservation: %v", err)
	}
	if err := s.DeleteObservation(id, false); err != nil {
		t.Fatalf("DeleteObservation: %v", err)
	}
	recent, err := s.RecentObservations("proj", "", 10)
	if err != nil {
		t.Fatalf("RecentObservations: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("expected soft-deleted observation to be excluded, got %d results", len(recent))
	}
}

func TestVectors_PutAndCosineSimilarity(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("sess-1", "proj", "/tmp/proj"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id, err := s.AddObservation(AddObservationParams{SessionID: "sess-1", Type: "note", Title: "T", Content: "C", Project: "proj"})
	if err != nil {
		t.Fatalf("AddObservation: %v", err)
	}
	if err := s.PutVector(Vector{ObservationID: id, Project: "proj", Model: "test-embed", Dims: 3, Embedding: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("PutVector: %v", err)
	}
	got, err := s.GetVector(id)
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if CosineSimilarity(got.Embedding, []float32{1, 0, 0}) < 0.999 {
		t.Fatalf("expected cosine similarity ~1, got %v", CosineSimilarity(got.Embedding, []float32{1, 0, 0}))
	}
}
