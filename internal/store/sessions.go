package store

import "database/sql"

// CreateSession upserts a session into the active state. Reusing a
// session id (a client reconnecting mid-session) resets it to active
// rather than colliding with the prior row.
func (s *Store) CreateSession(id, project, directory string) error {
	return s.WithWriteLock(func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO sessions (id, project, directory, status)
			 VALUES (?, ?, ?, 'active')
			 ON CONFLICT(id) DO UPDATE SET
			   project = excluded.project,
			   directory = excluded.directory,
			   status = 'active',
			   started_at = datetime('now'),
			   ended_at = NULL`,
			id, project, directory,
		)
		return err
	})
}

// EndSession marks a session as completed or failed with an optional summary.
func (s *Store) EndSession(id, status, summary string) error {
	if status != SessionCompleted && status != SessionFailed {
		status = SessionCompleted
	}
	return s.WithWriteLock(func(db *sql.DB) error {
		_, err := db.Exec(
			`UPDATE sessions SET status = ?, ended_at = datetime('now'), summary = ? WHERE id = ?`,
			status, nullableString(summary), id,
		)
		return err
	})
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, project, directory, started_at, ended_at, summary, status FROM sessions WHERE id = ?`, id,
	)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.Project, &sess.Directory, &sess.StartedAt, &sess.EndedAt, &sess.Summary, &sess.Status); err != nil {
		return nil, err
	}
	return &sess, nil
}

// RecentSessions returns recent sessions with observation counts.
func (s *Store) RecentSessions(project string, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 5
	}

	query := `
		SELECT s.id, s.project, s.started_at, s.ended_at, s.summary,
		       COUNT(o.id) as observation_count
		FROM sessions s
		LEFT JOIN observations o ON o.session_id = s.id AND o.deleted_at IS NULL
		WHERE 1=1
	`
	args := []any{}
	if project != "" {
		query += " AND s.project = ?"
		args = append(args, project)
	}
	query += " GROUP BY s.id ORDER BY MAX(COALESCE(o.created_at, s.started_at)) DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SessionSummary
	for rows.Next() {
		var ss SessionSummary
		if err := rows.Scan(&ss.ID, &ss.Project, &ss.StartedAt, &ss.EndedAt, &ss.Summary, &ss.ObservationCount); err != nil {
			return nil, err
		}
		results = append(results, ss)
	}
	return results, rows.Err()
}

// SetSessionSummary attaches a generated summary to a session without ending it.
func (s *Store) SetSessionSummary(id, summary string) error {
	return s.WithWriteLock(func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE sessions SET summary = ? WHERE id = ?`, summary, id)
		return err
	})
}
