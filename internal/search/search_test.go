package search

import (
	"errors"
	"testing"

	"github.com/opencodemem/opencodemem/internal/store"
)

type fakeStore struct {
	results  []store.SearchResult
	vectors  []store.Vector
	fallback []store.SearchResult
	byID     map[int64]store.Observation
}

func (f *fakeStore) Search(query string, opts store.SearchOptions) ([]store.SearchResult, error) {
	return f.results, nil
}

func (f *fakeStore) SubstringSearch(project, typ, query string, limit int) ([]store.SearchResult, error) {
	return f.fallback, nil
}

func (f *fakeStore) VectorsForProject(project string) ([]store.Vector, error) {
	return f.vectors, nil
}

func (f *fakeStore) GetObservation(id int64) (*store.Observation, error) {
	if o, ok := f.byID[id]; ok {
		return &o, nil
	}
	return nil, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(text string) ([]float32, error) {
	return f.vec, f.err
}

func obs(id int64, title, content, createdAt string) store.SearchResult {
	return store.SearchResult{Observation: store.Observation{ID: id, Title: title, Content: content, CreatedAt: createdAt}}
}

func TestSearch_SemanticScoresReachRanker(t *testing.T) {
	fs := &fakeStore{
		results: []store.SearchResult{
			obs(1, "unrelated one", "nothing relevant here", "2024-01-01 00:00:00"),
			obs(2, "unrelated two", "nothing relevant here", "2024-01-01 00:00:00"),
		},
		vectors: []store.Vector{
			{ObservationID: 1, Embedding: []float32{1, 0}},
			{ObservationID: 2, Embedding: []float32{0, 1}},
		},
	}
	fe := &fakeEmbedder{vec: []float32{1, 0}}
	o := New(fs, fe)

	results, diag, err := o.Search("anything", Options{Project: "proj"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if diag.SemanticSkipped {
		t.Fatalf("expected semantic strategy to run")
	}
	if len(results) != 2 || results[0].Observation.ID != 1 {
		t.Fatalf("expected observation 1 (closest embedding) to rank first, got %+v", results)
	}
}

func TestSearch_FallsBackWhenEmbedderMissing(t *testing.T) {
	fs := &fakeStore{results: []store.SearchResult{obs(1, "a", "b", "2024-01-01 00:00:00")}}
	o := New(fs, nil)
	_, diag, err := o.Search("q", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !diag.SemanticSkipped {
		t.Fatalf("expected semantic strategy to be reported as skipped")
	}
}

func TestSearch_EmbedderErrorDoesNotFailSearch(t *testing.T) {
	fs := &fakeStore{results: []store.SearchResult{obs(1, "a", "b", "2024-01-01 00:00:00")}}
	fe := &fakeEmbedder{err: errors.New("upstream down")}
	o := New(fs, fe)
	results, diag, err := o.Search("q", Options{Project: "proj"})
	if err != nil {
		t.Fatalf("Search should not fail when embedding errors: %v", err)
	}
	if !diag.SemanticSkipped || len(results) != 1 {
		t.Fatalf("expected lexical-only fallback, got diag=%+v results=%v", diag, results)
	}
}

func TestSearch_EmptyResultsFallBackToSubstringScan(t *testing.T) {
	fs := &fakeStore{
		fallback: []store.SearchResult{obs(9, "match", "strategy timings should show up here", "2024-01-01 00:00:00")},
	}
	o := New(fs, nil)
	results, diag, err := o.Search("strategy timings", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !diag.UsedFallback {
		t.Fatalf("expected fallback strategy to be used")
	}
	if len(results) != 1 || results[0].Observation.ID != 9 {
		t.Fatalf("expected fallback result to surface, got %+v", results)
	}
}

func TestSearch_DiagnosticsCarryStrategyTimingsAndEpochs(t *testing.T) {
	fs := &fakeStore{results: []store.SearchResult{obs(1, "a", "search diagnostics should contain strategy timings", "2024-01-01 00:00:00")}}
	o := New(fs, nil)
	results, diag, err := o.Search("strategy timings", Options{Project: "proj", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if len(diag.StrategyTimingsMs) == 0 {
		t.Fatalf("expected strategyTimingsMs to be populated")
	}
	if diag.EndedAtEpoch < diag.StartedAtEpoch {
		t.Fatalf("expected endedAtEpoch >= startedAtEpoch, got ended=%d started=%d", diag.EndedAtEpoch, diag.StartedAtEpoch)
	}
}

func TestSearch_DedupesResultsWithIdenticalTitles(t *testing.T) {
	fs := &fakeStore{
		results: []store.SearchResult{
			obs(1, "same title", "first", "2024-01-02 00:00:00"),
			obs(2, "same title", "second", "2024-01-01 00:00:00"),
		},
	}
	o := New(fs, nil)
	results, diag, err := o.Search("q", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected duplicate titles to collapse to one result, got %d", len(results))
	}
	if diag.FilterOutputCounts["dedupeByTitle"] != 1 {
		t.Fatalf("expected dedupeByTitle filter count to be 1, got %d", diag.FilterOutputCounts["dedupeByTitle"])
	}
}
