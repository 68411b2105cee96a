package store

import "database/sql"

// AddPrompt records a user prompt for a session.
func (s *Store) AddPrompt(p AddPromptParams) (int64, error) {
	var id int64
	err := s.WithWriteLock(func(db *sql.DB) error {
		res, err := db.Exec(
			`INSERT INTO user_prompts (session_id, content, project, prompt_number)
			 VALUES (?, ?, ?, (SELECT ifnull(MAX(prompt_number), 0) + 1 FROM user_prompts WHERE session_id = ?))`,
			p.SessionID, p.Content, nullableString(p.Project), p.SessionID,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// RecentPrompts returns the most recent prompts for a project.
func (s *Store) RecentPrompts(project string, limit int) ([]Prompt, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, session_id, content, ifnull(project,''), prompt_number, created_at FROM user_prompts WHERE 1=1`
	args := []any{}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []Prompt
	for rows.Next() {
		var p Prompt
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Content, &p.Project, &p.PromptNumber, &p.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// SearchPrompts full-text searches saved prompts.
func (s *Store) SearchPrompts(query string, project string, limit int) ([]Prompt, error) {
	if limit <= 0 {
		limit = 20
	}
	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return s.RecentPrompts(project, limit)
	}

	sqlQuery := `
		SELECT p.id, p.session_id, p.content, ifnull(p.project,''), p.prompt_number, p.created_at
		FROM prompts_fts f JOIN user_prompts p ON p.id = f.rowid
		WHERE prompts_fts MATCH ?`
	args := []any{ftsQuery}
	if project != "" {
		sqlQuery += " AND p.project = ?"
		args = append(args, project)
	}
	sqlQuery += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []Prompt
	for rows.Next() {
		var p Prompt
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Content, &p.Project, &p.PromptNumber, &p.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}
