package replicate

import (
	"context"
	"sync"
	"testing"
)

type fakeCollection struct {
	mu   sync.Mutex
	docs map[string]map[string]string
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: map[string]map[string]string{}}
}

func (f *fakeCollection) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id] = metadata
	return nil
}

func (f *fakeCollection) Get(ctx context.Context, id string) (map[string]string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.docs[id]
	return m, ok, nil
}

func (f *fakeCollection) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

type fakeSource struct {
	candidates []SyncCandidate
	cursor     int64
	runs       []SyncRun
}

func (f *fakeSource) ObservationsSince(project string, cursor int64, limit int) ([]SyncCandidate, error) {
	var out []SyncCandidate
	for _, c := range f.candidates {
		if c.ID > cursor {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeSource) GetSyncState(project string) (int64, error) { return f.cursor, nil }

func (f *fakeSource) SetSyncState(project string, cursor int64) error {
	f.cursor = cursor
	return nil
}

func (f *fakeSource) RecordSyncRun(run SyncRun) error {
	f.runs = append(f.runs, run)
	return nil
}

func TestSync_PushesNewObservationsAndAdvancesCursor(t *testing.T) {
	col := newFakeCollection()
	src := &fakeSource{candidates: []SyncCandidate{
		{ID: 1, Project: "p", Title: "a", Content: "aa", Embedding: []float32{0.1, 0.2}},
		{ID: 2, Project: "p", Title: "b", Content: "bb", Embedding: []float32{0.3, 0.4}},
	}}
	r := New(col, src)

	run, err := r.Sync(context.Background(), "p")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if run.Pushed != 2 {
		t.Fatalf("expected 2 pushed, got %d", run.Pushed)
	}
	if src.cursor != 2 {
		t.Fatalf("expected cursor to advance to 2, got %d", src.cursor)
	}
	if len(col.docs) != 2 {
		t.Fatalf("expected 2 documents upserted, got %d", len(col.docs))
	}
	if len(src.runs) != 1 {
		t.Fatalf("expected one recorded sync run")
	}
}

func TestSync_DetectsConflictOnDivergentContentHash(t *testing.T) {
	col := newFakeCollection()
	col.docs["1"] = map[string]string{"content_hash": "stale-hash"}
	src := &fakeSource{candidates: []SyncCandidate{
		{ID: 1, Project: "p", Title: "a", Content: "changed", Embedding: []float32{0.1}},
	}}
	r := New(col, src)

	run, err := r.Sync(context.Background(), "p")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if run.Conflicts != 1 {
		t.Fatalf("expected 1 conflict, got %d", run.Conflicts)
	}
	if run.Pushed != 1 {
		t.Fatalf("expected the conflicting doc to still be pushed (newest wins), got %d", run.Pushed)
	}
}

func TestSync_OnlyPushesObservationsPastCursor(t *testing.T) {
	col := newFakeCollection()
	src := &fakeSource{cursor: 5, candidates: []SyncCandidate{
		{ID: 3, Project: "p", Title: "old", Content: "old"},
		{ID: 6, Project: "p", Title: "new", Content: "new"},
	}}
	r := New(col, src)

	run, err := r.Sync(context.Background(), "p")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if run.Pushed != 1 {
		t.Fatalf("expected only the observation past the cursor to be pushed, got %d", run.Pushed)
	}
	if _, ok := col.docs["3"]; ok {
		t.Fatalf("did not expect observation 3 (before cursor) to be pushed")
	}
}

func TestDeleteByProject_RemovesEachID(t *testing.T) {
	col := newFakeCollection()
	col.docs["1"] = map[string]string{}
	col.docs["2"] = map[string]string{}

	r := New(col, &fakeSource{})
	if err := r.DeleteByProject(context.Background(), "p", []int64{1, 2}); err != nil {
		t.Fatalf("DeleteByProject: %v", err)
	}
	if len(col.docs) != 0 {
		t.Fatalf("expected all documents deleted, got %d remaining", len(col.docs))
	}
}
