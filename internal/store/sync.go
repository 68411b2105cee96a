package store

import (
	"database/sql"
	"time"

	"github.com/opencodemem/opencodemem/internal/replicate"
)

// ObservationsSince returns observations for a project with id > cursor,
// joined against their stored vector so the replicator can push an
// embedding alongside the text. Observations with no vector yet are
// skipped; the replicator will pick them up once the embedding worker
// catches up, since the cursor only advances on rows actually pushed.
func (s *Store) ObservationsSince(project string, cursor int64, limit int) ([]replicate.SyncCandidate, error) {
	rows, err := s.db.Query(`
		SELECT o.id, o.project, o.title, o.content, o.updated_at, v.embedding
		FROM observations o
		JOIN vectors v ON v.observation_id = o.id
		WHERE o.project = ? AND o.id > ? AND o.deleted_at IS NULL
		ORDER BY o.id ASC
		LIMIT ?`, project, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []replicate.SyncCandidate
	for rows.Next() {
		var c replicate.SyncCandidate
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Project, &c.Title, &c.Content, &c.UpdatedAt, &blob); err != nil {
			return nil, err
		}
		c.Embedding = decodeFloat32s(blob)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetSyncState returns the last-pushed observation id for a project, 0 if
// the project has never been synced.
func (s *Store) GetSyncState(project string) (int64, error) {
	var cursor int64
	err := s.db.QueryRow(`SELECT cursor FROM sync_state WHERE project = ?`, project).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return cursor, err
}

// SetSyncState upserts the sync cursor for a project.
func (s *Store) SetSyncState(project string, cursor int64) error {
	return s.WithWriteLock(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO sync_state (project, cursor, last_sync_at)
			VALUES (?, ?, datetime('now'))
			ON CONFLICT(project) DO UPDATE SET cursor = excluded.cursor, last_sync_at = excluded.last_sync_at`,
			project, cursor)
		return err
	})
}

// RecordSyncRun persists a completed replicator run for diagnostics.
func (s *Store) RecordSyncRun(run replicate.SyncRun) error {
	return s.WithWriteLock(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO sync_runs (id, project, started_at, finished_at, pushed, conflicts, failed, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.Project, run.StartedAt, run.FinishedAt, run.Pushed, run.Conflicts, run.Failed, nullableString(run.Error))
		return err
	})
}

// LastSyncRun returns the most recently finished replicator run across
// all projects, for /api/stats' "last sync" reporting. Returns nil, nil
// if no sync has ever run.
func (s *Store) LastSyncRun() (*replicate.SyncRun, error) {
	var run replicate.SyncRun
	var started, finished string
	var errStr sql.NullString
	err := s.db.QueryRow(`
		SELECT id, project, started_at, finished_at, pushed, conflicts, failed, error
		FROM sync_runs ORDER BY datetime(finished_at) DESC LIMIT 1`).
		Scan(&run.ID, &run.Project, &started, &finished, &run.Pushed, &run.Conflicts, &run.Failed, &errStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.StartedAt = parseSyncTime(started)
	run.FinishedAt = parseSyncTime(finished)
	run.Error = errStr.String
	return &run, nil
}

// parseSyncTime accepts either RFC3339 (how time.Time binds as a query
// parameter) or the plain "YYYY-MM-DD HH:MM:SS" format the rest of the
// schema stores, since sync_runs' timestamp columns hold whichever the
// driver chose when the row was inserted.
func parseSyncTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
		return t
	}
	return time.Time{}
}
