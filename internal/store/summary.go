package store

import "database/sql"

// SaveSummary upserts the five-field digest for a session. At most one
// summary exists per session; a later save (e.g. a retry) replaces it.
func (s *Store) SaveSummary(sum Summary) error {
	return s.WithWriteLock(func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO summaries (id, session_id, request, investigated, learned, completed, next_steps)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(session_id) DO UPDATE SET
			   request = excluded.request,
			   investigated = excluded.investigated,
			   learned = excluded.learned,
			   completed = excluded.completed,
			   next_steps = excluded.next_steps`,
			sum.ID, sum.SessionID, nullableString(sum.Request), nullableString(sum.Investigated),
			nullableString(sum.Learned), nullableString(sum.Completed), nullableString(sum.NextSteps),
		)
		return err
	})
}

// GetSummary retrieves the summary for a session, if one exists.
func (s *Store) GetSummary(sessionID string) (*Summary, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, ifnull(request,''), ifnull(investigated,''), ifnull(learned,''),
		        ifnull(completed,''), ifnull(next_steps,''), created_at
		 FROM summaries WHERE session_id = ?`, sessionID,
	)
	var sum Summary
	if err := row.Scan(&sum.ID, &sum.SessionID, &sum.Request, &sum.Investigated, &sum.Learned,
		&sum.Completed, &sum.NextSteps, &sum.CreatedAt); err != nil {
		return nil, err
	}
	return &sum, nil
}
