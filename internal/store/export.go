package store

import (
	"database/sql"
	"time"
)

// Export dumps the full memory database for backup or migration.
func (s *Store) Export() (*ExportData, error) {
	data := &ExportData{
		Version:    "1",
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
	}

	rows, err := s.db.Query(`SELECT id, project, directory, started_at, ended_at, summary, status FROM sessions`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Project, &sess.Directory, &sess.StartedAt, &sess.EndedAt, &sess.Summary, &sess.Status); err != nil {
			_ = rows.Close()
			return nil, err
		}
		data.Sessions = append(data.Sessions, sess)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	obs, err := s.queryObservations(`
		SELECT id, session_id, type, title, content, tool_name, project, scope, topic_key,
		       revision_count, duplicate_count, last_seen_at, created_at, updated_at, deleted_at, prompt_number
		FROM observations`)
	if err != nil {
		return nil, err
	}
	data.Observations = obs

	promptRows, err := s.db.Query(`SELECT id, session_id, content, ifnull(project,''), prompt_number, created_at FROM user_prompts`)
	if err != nil {
		return nil, err
	}
	for promptRows.Next() {
		var p Prompt
		if err := promptRows.Scan(&p.ID, &p.SessionID, &p.Content, &p.Project, &p.PromptNumber, &p.CreatedAt); err != nil {
			_ = promptRows.Close()
			return nil, err
		}
		data.Prompts = append(data.Prompts, p)
	}
	if err := promptRows.Err(); err != nil {
		_ = promptRows.Close()
		return nil, err
	}
	_ = promptRows.Close()

	return data, nil
}

// Import restores sessions, observations and prompts from an ExportData
// dump. Existing rows with the same primary key are left untouched.
func (s *Store) Import(data *ExportData) (*ImportResult, error) {
	var result ImportResult
	err := s.WithWriteLock(func(db *sql.DB) error {
		for _, sess := range data.Sessions {
			status := sess.Status
			if status == "" {
				status = SessionActive
			}
			res, err := db.Exec(
				`INSERT OR IGNORE INTO sessions (id, project, directory, started_at, ended_at, summary, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				sess.ID, sess.Project, sess.Directory, sess.StartedAt, sess.EndedAt, sess.Summary, status,
			)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				result.SessionsImported++
			}
		}
		for _, obs := range data.Observations {
			res, err := db.Exec(
				`INSERT OR IGNORE INTO observations
				 (id, session_id, type, title, content, tool_name, project, scope, topic_key, normalized_hash,
				  revision_count, duplicate_count, last_seen_at, created_at, updated_at, deleted_at, prompt_number)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				obs.ID, obs.SessionID, obs.Type, obs.Title, obs.Content, obs.ToolName, obs.Project, obs.Scope, obs.TopicKey,
				hashNormalized(obs.Content), obs.RevisionCount, obs.DuplicateCount, obs.LastSeenAt, obs.CreatedAt, obs.UpdatedAt, obs.DeletedAt, obs.PromptNumber,
			)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				result.ObservationsImported++
			}
		}
		for _, p := range data.Prompts {
			res, err := db.Exec(
				`INSERT OR IGNORE INTO user_prompts (id, session_id, content, project, prompt_number, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				p.ID, p.SessionID, p.Content, p.Project, p.PromptNumber, p.CreatedAt,
			)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				result.PromptsImported++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PurgeProject deletes every session/observation/prompt row for a project,
// backing the cleanup/purge endpoint.
func (s *Store) PurgeProject(project string) (int64, error) {
	var affected int64
	err := s.WithWriteLock(func(db *sql.DB) error {
		res, err := db.Exec(`DELETE FROM relations WHERE from_id IN (SELECT id FROM observations WHERE project = ?) OR to_id IN (SELECT id FROM observations WHERE project = ?)`, project, project)
		if err != nil {
			return err
		}
		res, err = db.Exec(`DELETE FROM observations WHERE project = ?`, project)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		affected += n
		if _, err := db.Exec(`DELETE FROM user_prompts WHERE project = ?`, project); err != nil {
			return err
		}
		if _, err := db.Exec(`DELETE FROM vectors WHERE project = ?`, project); err != nil {
			return err
		}
		if _, err := db.Exec(`DELETE FROM memories WHERE project = ?`, project); err != nil {
			return err
		}
		if _, err := db.Exec(`DELETE FROM summaries WHERE session_id IN (SELECT id FROM sessions WHERE project = ?)`, project); err != nil {
			return err
		}
		if _, err := db.Exec(`DELETE FROM sessions WHERE project = ?`, project); err != nil {
			return err
		}
		return nil
	})
	return affected, err
}

// PurgeAll deletes every session/observation/prompt row across every
// known project, backing the cleanup/purge endpoint's whole-store form.
func (s *Store) PurgeAll() (int64, error) {
	stats, err := s.Stats()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, project := range stats.Projects {
		n, err := s.PurgeProject(project)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
