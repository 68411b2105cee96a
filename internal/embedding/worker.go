// Package embedding runs the background worker that turns newly written
// observations into vectors: an in-memory FIFO queue drained by a single
// goroutine that calls an external embedding endpoint and persists the
// result as a packed float32 blob via the store.
//
// Retry uses github.com/cenkalti/backoff/v5's generic Retry helper —
// the worker is a live retry loop re-invoking the same HTTP call, which
// is exactly the shape that library models (unlike the durable queue's
// timestamp scheduling in package queue, which stays a plain formula).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// VectorStore is the subset of the store the worker needs, kept as an
// interface so tests can substitute an in-memory fake.
type VectorStore interface {
	PutVector(observationID int64, project, model string, dims int, embedding []float32) error
	VectorsForProject(project string) (ids []int64, vectors [][]float32, err error)
}

// Provider calls an external embedding endpoint.
type Provider interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// HTTPProvider is the default Provider: a JSON POST against a configurable
// embedding endpoint, following the {input, model} / {embedding} shape
// most embedding providers expose.
type HTTPProvider struct {
	Client   *http.Client
	Endpoint string
	APIKey   string
}

type embedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed calls the endpoint once. Retries are the caller's (Worker's) job.
func (p *HTTPProvider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Input: text, Model: model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("embedding: transient upstream error: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: upstream rejected request (%s): %s", resp.Status, string(b))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	return out.Embedding, nil
}

// Job is one unit of embedding work.
type Job struct {
	ObservationID int64
	Project       string
	Text          string
}

// Worker owns the in-memory FIFO and the single consumer goroutine.
type Worker struct {
	Model       string
	MaxAttempts int
	BaseDelay   time.Duration

	provider Provider
	store    VectorStore

	mu    sync.Mutex
	queue []Job
	cond  *sync.Cond

	stop chan struct{}
	done chan struct{}
}

// NewWorker builds a Worker. Call Start to begin draining the queue.
func NewWorker(provider Provider, store VectorStore, model string) *Worker {
	w := &Worker{
		Model:       model,
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		provider:    provider,
		store:       store,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Enqueue adds a job to the tail of the FIFO. Never blocks.
func (w *Worker) Enqueue(job Job) {
	w.mu.Lock()
	w.queue = append(w.queue, job)
	w.mu.Unlock()
	w.cond.Signal()
}

// Start runs the consumer loop until Stop is called.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			job, ok := w.next()
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}()
}

// Stop signals the consumer to exit after draining in-flight work.
func (w *Worker) Stop() {
	close(w.stop)
	w.cond.Broadcast()
	<-w.done
}

func (w *Worker) next() (Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 {
		select {
		case <-w.stop:
			return Job{}, false
		default:
		}
		w.cond.Wait()
		select {
		case <-w.stop:
			if len(w.queue) == 0 {
				return Job{}, false
			}
		default:
		}
	}
	job := w.queue[0]
	w.queue = w.queue[1:]
	return job, true
}

func (w *Worker) process(ctx context.Context, job Job) {
	vec, err := backoff.Retry(ctx, func() ([]float32, error) {
		return w.provider.Embed(ctx, w.Model, job.Text)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(uint(w.MaxAttempts)))
	if err != nil {
		// Exhausted retries: the observation stays without a vector and
		// will simply be excluded from semantic search until a future
		// edit re-enqueues it. This mirrors spec's "embedding worker
		// never blocks ingestion" contract — failure here is silent by
		// design, surfaced only via /api/diagnostics vector coverage.
		return
	}
	_ = w.store.PutVector(job.ObservationID, job.Project, w.Model, len(vec), vec)
}

// SimilaritySearch computes cosine similarity between a query embedding
// and every vector stored for a project, returning the top K observation
// IDs with their scores.
func SimilaritySearch(queryVec []float32, ids []int64, vectors [][]float32, k int) map[int64]float64 {
	scores := make(map[int64]float64, len(ids))
	for i, id := range ids {
		scores[id] = cosine(queryVec, vectors[i])
	}
	if k <= 0 || len(scores) <= k {
		return scores
	}
	// Keep only the top K.
	type pair struct {
		id    int64
		score float64
	}
	pairs := make([]pair, 0, len(scores))
	for id, s := range scores {
		pairs = append(pairs, pair{id, s})
	}
	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			if pairs[j].score > pairs[i].score {
				pairs[i], pairs[j] = pairs[j], pairs[i]
			}
		}
	}
	top := make(map[int64]float64, k)
	for i := 0; i < k && i < len(pairs); i++ {
		top[pairs[i].id] = pairs[i].score
	}
	return top
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
