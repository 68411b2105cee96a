package store

import (
	"database/sql"
	"strings"
)

// AddObservation inserts a new observation, folding it into an existing one
// when the topic key matches (revision) or the content hash repeats inside
// the dedup window (duplicate). Callers are expected to have already run
// content through the privacy filter — this layer only truncates to the
// configured max length and computes the dedup hash.
func (s *Store) AddObservation(p AddObservationParams) (int64, error) {
	title := p.Title
	content := Truncate(p.Content, s.cfg.MaxObservationLength)
	scope := normalizeScope(p.Scope)
	normHash := hashNormalized(content)
	topicKey := normalizeTopicKey(p.TopicKey)

	var id int64
	err := s.WithWriteLock(func(db *sql.DB) error {
		if topicKey != "" {
			var existingID int64
			err := db.QueryRow(
				`SELECT id FROM observations
				 WHERE topic_key = ?
				   AND ifnull(project, '') = ifnull(?, '')
				   AND scope = ?
				   AND deleted_at IS NULL
				 ORDER BY datetime(updated_at) DESC, datetime(created_at) DESC
				 LIMIT 1`,
				topicKey, nullableString(p.Project), scope,
			).Scan(&existingID)
			if err == nil {
				if _, err := db.Exec(
					`UPDATE observations
					 SET type = ?, title = ?, content = ?, tool_name = ?, topic_key = ?,
					     normalized_hash = ?, revision_count = revision_count + 1,
					     last_seen_at = datetime('now'), updated_at = datetime('now')
					 WHERE id = ?`,
					p.Type, title, content, nullableString(p.ToolName), nullableString(topicKey),
					normHash, existingID,
				); err != nil {
					return err
				}
				id = existingID
				return nil
			}
			if err != sql.ErrNoRows {
				return err
			}
		}

		window := dedupeWindowExpression(s.cfg.DedupeWindow)
		var existingID int64
		err := db.QueryRow(
			`SELECT id FROM observations
			 WHERE normalized_hash = ?
			   AND ifnull(project, '') = ifnull(?, '')
			   AND scope = ? AND type = ? AND title = ?
			   AND deleted_at IS NULL
			   AND datetime(created_at) >= datetime('now', ?)
			 ORDER BY created_at DESC LIMIT 1`,
			normHash, nullableString(p.Project), scope, p.Type, title, window,
		).Scan(&existingID)
		if err == nil {
			if _, err := db.Exec(
				`UPDATE observations
				 SET duplicate_count = duplicate_count + 1,
				     last_seen_at = datetime('now'), updated_at = datetime('now')
				 WHERE id = ?`,
				existingID,
			); err != nil {
				return err
			}
			id = existingID
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}

		var promptNumber int
		if p.SessionID != "" {
			_ = db.QueryRow(
				`SELECT ifnull(MAX(prompt_number), 0) FROM user_prompts WHERE session_id = ?`, p.SessionID,
			).Scan(&promptNumber)
		}

		res, err := db.Exec(
			`INSERT INTO observations
			 (session_id, type, title, content, tool_name, project, scope, topic_key, normalized_hash, revision_count, duplicate_count, last_seen_at, updated_at, prompt_number)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 1, datetime('now'), datetime('now'), ?)`,
			p.SessionID, p.Type, title, content,
			nullableString(p.ToolName), nullableString(p.Project), scope, nullableString(topicKey), normHash, promptNumber,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// RecentObservations returns recent observations filtered by project and scope.
func (s *Store) RecentObservations(project, scope string, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, session_id, type, title, content, tool_name, project, scope, topic_key,
		       revision_count, duplicate_count, last_seen_at, created_at, updated_at, deleted_at, prompt_number
		FROM observations WHERE deleted_at IS NULL`
	args := []any{}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	if scope != "" {
		query += " AND scope = ?"
		args = append(args, scope)
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)
	return s.queryObservations(query, args...)
}

// GetObservation retrieves a single observation by ID, including soft-deleted rows.
func (s *Store) GetObservation(id int64) (*Observation, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, type, title, content, tool_name, project, scope, topic_key,
		        revision_count, duplicate_count, last_seen_at, created_at, updated_at, deleted_at, prompt_number
		 FROM observations WHERE id = ?`, id,
	)
	var o Observation
	if err := row.Scan(&o.ID, &o.SessionID, &o.Type, &o.Title, &o.Content, &o.ToolName, &o.Project, &o.Scope,
		&o.TopicKey, &o.RevisionCount, &o.DuplicateCount, &o.LastSeenAt, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt, &o.PromptNumber); err != nil {
		return nil, err
	}
	return &o, nil
}

// ResolveAnchorByQuery finds the most recent observation whose title or
// content contains query (case-insensitive), optionally scoped to a
// project, for timeline requests that anchor on free text instead of an id.
func (s *Store) ResolveAnchorByQuery(project, query string) (int64, error) {
	like := "%" + strings.ToLower(query) + "%"
	sqlQuery := `
		SELECT id FROM observations
		WHERE deleted_at IS NULL
		  AND (LOWER(title) LIKE ? OR LOWER(content) LIKE ?)`
	args := []any{like, like}
	if project != "" {
		sqlQuery += " AND ifnull(project, '') = ?"
		args = append(args, project)
	}
	sqlQuery += " ORDER BY datetime(created_at) DESC, id DESC LIMIT 1"

	var id int64
	err := s.db.QueryRow(sqlQuery, args...).Scan(&id)
	return id, err
}

// UpdateObservation applies a partial update and returns the updated row.
func (s *Store) UpdateObservation(id int64, p UpdateObservationParams) (*Observation, error) {
	existing, err := s.GetObservation(id)
	if err != nil {
		return nil, err
	}

	typ := existing.Type
	if p.Type != nil {
		typ = *p.Type
	}
	title := existing.Title
	if p.Title != nil {
		title = *p.Title
	}
	content := existing.Content
	if p.Content != nil {
		content = Truncate(*p.Content, s.cfg.MaxObservationLength)
	}
	project := derefString(existing.Project)
	if p.Project != nil {
		project = *p.Project
	}
	scope := existing.Scope
	if p.Scope != nil {
		scope = normalizeScope(*p.Scope)
	}
	topicKey := derefString(existing.TopicKey)
	if p.TopicKey != nil {
		topicKey = normalizeTopicKey(*p.TopicKey)
	}

	err = s.WithWriteLock(func(db *sql.DB) error {
		_, err := db.Exec(
			`UPDATE observations
			 SET type = ?, title = ?, content = ?, project = ?, scope = ?, topic_key = ?,
			     normalized_hash = ?, updated_at = datetime('now')
			 WHERE id = ?`,
			typ, title, content, nullableString(project), scope, nullableString(topicKey),
			hashNormalized(content), id,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetObservation(id)
}

// DeleteObservation removes an observation, hard or soft, and its relations.
func (s *Store) DeleteObservation(id int64, hardDelete bool) error {
	return s.WithWriteLock(func(db *sql.DB) error {
		if _, err := db.Exec(`DELETE FROM relations WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
			return err
		}
		if hardDelete {
			_, err := db.Exec(`DELETE FROM observations WHERE id = ?`, id)
			return err
		}
		_, err := db.Exec(`UPDATE observations SET deleted_at = datetime('now') WHERE id = ?`, id)
		return err
	})
}

func (s *Store) queryObservations(query string, args ...any) ([]Observation, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.SessionID, &o.Type, &o.Title, &o.Content, &o.ToolName, &o.Project, &o.Scope,
			&o.TopicKey, &o.RevisionCount, &o.DuplicateCount, &o.LastSeenAt, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt, &o.PromptNumber); err != nil {
			return nil, err
		}
		results = append(results, o)
	}
	return results, rows.Err()
}
