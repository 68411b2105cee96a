// Package replicate implements the external replicator: it pushes
// observations to an external vector collection, tracking a per-project
// cursor and detecting conflicts by content hash so a re-sync never
// clobbers a newer remote write blindly.
//
// The external collection is github.com/philippgille/chromem-go, an
// embedded pure-Go vector database — grounded on
// becomeliminal-nim-go-sdk's ChromemStore wrapper. Sync depends only on
// the small Collection interface below, which chromem-go satisfies, so a
// networked provider could stand in without touching the sync algorithm.
package replicate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	cron "github.com/robfig/cron/v3"

	"github.com/cenkalti/backoff/v5"
)

// Collection is the subset of chromem.Collection the replicator needs.
type Collection interface {
	Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]string) error
	Get(ctx context.Context, id string) (metadata map[string]string, found bool, err error)
	Delete(ctx context.Context, id string) error
}

// SyncSource is the subset of the store the replicator reads from.
type SyncSource interface {
	ObservationsSince(project string, cursor int64, limit int) ([]SyncCandidate, error)
	GetSyncState(project string) (cursor int64, err error)
	SetSyncState(project string, cursor int64) error
	RecordSyncRun(run SyncRun) error
}

// SyncCandidate is the minimal shape needed to replicate one observation.
type SyncCandidate struct {
	ID        int64
	Project   string
	Title     string
	Content   string
	Embedding []float32
	UpdatedAt string
}

// SyncRun records the outcome of one sync pass, mirroring spec's SyncRun entity.
type SyncRun struct {
	ID         string
	Project    string
	StartedAt  time.Time
	FinishedAt time.Time
	Pushed     int
	Conflicts  int
	Failed     int
	Error      string
}

// Replicator drives sync/replayFailed/deleteByProject against a Collection.
type Replicator struct {
	col         Collection
	source      SyncSource
	maxAttempts int
	batchSize   int
}

// New builds a Replicator.
func New(col Collection, source SyncSource) *Replicator {
	return &Replicator{col: col, source: source, maxAttempts: 4, batchSize: 100}
}

func contentHash(title, content string) string {
	sum := sha256.Sum256([]byte(title + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

// Sync pushes every observation newer than the project's cursor,
// detecting conflicts when the remote already has a different content
// hash for the same ID (meaning something else wrote it since our last
// sync), and dead-lettering pushes that exhaust retry.
func (r *Replicator) Sync(ctx context.Context, project string) (SyncRun, error) {
	run := SyncRun{ID: uuid.NewString(), Project: project, StartedAt: time.Now()}

	cursor, err := r.source.GetSyncState(project)
	if err != nil {
		run.Error = err.Error()
		return run, err
	}

	candidates, err := r.source.ObservationsSince(project, cursor, r.batchSize)
	if err != nil {
		run.Error = err.Error()
		return run, err
	}

	var maxID int64 = cursor
	for _, c := range candidates {
		hash := contentHash(c.Title, c.Content)
		existingMeta, found, err := r.col.Get(ctx, fmt.Sprintf("%d", c.ID))
		if err == nil && found && existingMeta["content_hash"] != "" && existingMeta["content_hash"] != hash {
			run.Conflicts++
			// Newest write wins: overwrite anyway, but the conflict is
			// still counted so /api/diagnostics can surface it.
		}

		err = r.upsertWithRetry(ctx, c, hash)
		if err != nil {
			run.Failed++
			continue
		}
		run.Pushed++
		if c.ID > maxID {
			maxID = c.ID
		}
	}

	if err := r.source.SetSyncState(project, maxID); err != nil {
		run.Error = err.Error()
	}
	run.FinishedAt = time.Now()
	_ = r.source.RecordSyncRun(run)
	return run, nil
}

func (r *Replicator) upsertWithRetry(ctx context.Context, c SyncCandidate, hash string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.col.Upsert(ctx, fmt.Sprintf("%d", c.ID), c.Embedding, map[string]string{
			"project": c.Project, "title": c.Title, "content_hash": hash, "updated_at": c.UpdatedAt,
		})
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(uint(r.maxAttempts)))
	return err
}

// DeleteByProject removes every replicated document for a project,
// backing the cleanup/purge endpoint's external-side cleanup.
func (r *Replicator) DeleteByProject(ctx context.Context, project string, ids []int64) error {
	for _, id := range ids {
		if err := r.col.Delete(ctx, fmt.Sprintf("%d", id)); err != nil {
			return fmt.Errorf("replicate: delete %d: %w", id, err)
		}
	}
	return nil
}

// Start schedules periodic sync for a fixed set of projects on the
// shared cron scheduler.
func (r *Replicator) Start(c *cron.Cron, spec string, projects func() []string) error {
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, p := range projects() {
			_, _ = r.Sync(ctx, p)
		}
	})
	return err
}
