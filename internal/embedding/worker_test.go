package embedding

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	vec   []float32
}

func (f *fakeProvider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.vec, nil
}

type fakeStore struct {
	mu      sync.Mutex
	vectors map[int64][]float32
}

func (f *fakeStore) PutVector(observationID int64, project, model string, dims int, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vectors == nil {
		f.vectors = map[int64][]float32{}
	}
	f.vectors[observationID] = embedding
	return nil
}

func (f *fakeStore) VectorsForProject(project string) ([]int64, [][]float32, error) {
	return nil, nil, nil
}

func TestWorker_ProcessesEnqueuedJob(t *testing.T) {
	provider := &fakeProvider{vec: []float32{1, 2, 3}}
	store := &fakeStore{}
	w := NewWorker(provider, store, "test-model")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	w.Enqueue(Job{ObservationID: 42, Project: "proj", Text: "some content"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		_, ok := store.vectors[42]
		store.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected vector for observation 42 to be stored")
}

func TestSimilaritySearch_RanksByScoreAndCapsAtK(t *testing.T) {
	ids := []int64{1, 2, 3}
	vectors := [][]float32{{1, 0}, {0, 1}, {0.9, 0.1}}
	scores := SimilaritySearch([]float32{1, 0}, ids, vectors, 2)
	if len(scores) != 2 {
		t.Fatalf("expected top-2 results, got %d", len(scores))
	}
	if _, ok := scores[2]; ok {
		t.Fatalf("expected orthogonal vector to be excluded from top-2")
	}
}
