package store

import "strings"

// Search runs an FTS5 lexical search over observations with optional
// type/project/scope filters. It is the lexical leg the search
// orchestrator (package search) fans out to; semantic ranking happens
// one layer up, using vectors from VectorsForProject.
func (s *Store) Search(query string, opts SearchOptions) ([]SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.MaxSearchResults
	}
	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return s.searchRecent(opts, limit)
	}

	sqlQuery := `
		SELECT o.id, o.session_id, o.type, o.title, o.content, o.tool_name, o.project, o.scope, o.topic_key,
		       o.revision_count, o.duplicate_count, o.last_seen_at, o.created_at, o.updated_at, o.deleted_at, o.prompt_number,
		       bm25(observations_fts) as rank
		FROM observations_fts f
		JOIN observations o ON o.id = f.rowid
		WHERE observations_fts MATCH ? AND o.deleted_at IS NULL`
	args := []any{ftsQuery}
	if opts.Type != "" {
		sqlQuery += " AND o.type = ?"
		args = append(args, opts.Type)
	}
	if opts.Project != "" {
		sqlQuery += " AND o.project = ?"
		args = append(args, opts.Project)
	}
	if opts.Scope != "" {
		sqlQuery += " AND o.scope = ?"
		args = append(args, opts.Scope)
	}
	if opts.DateStart != "" {
		sqlQuery += " AND datetime(o.created_at) >= datetime(?)"
		args = append(args, opts.DateStart)
	}
	if opts.DateEnd != "" {
		sqlQuery += " AND datetime(o.created_at) <= datetime(?)"
		args = append(args, opts.DateEnd)
	}
	sqlQuery += " ORDER BY rank LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Type, &r.Title, &r.Content, &r.ToolName, &r.Project, &r.Scope,
			&r.TopicKey, &r.RevisionCount, &r.DuplicateCount, &r.LastSeenAt, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.PromptNumber, &r.Rank); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchRecent is the fallback strategy when the query has no usable
// tokens (e.g. pure punctuation): most-recent observations stand in for
// a ranked result set so the caller still gets something back.
func (s *Store) searchRecent(opts SearchOptions, limit int) ([]SearchResult, error) {
	obs, err := s.RecentObservations(opts.Project, opts.Scope, limit)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, len(obs))
	for i, o := range obs {
		results[i] = SearchResult{Observation: o, Rank: 0}
	}
	return results, nil
}

// SubstringSearch is the orchestrator's last-resort strategy when neither
// the lexical nor the semantic leg turned up anything: a plain
// case-insensitive substring match on title or content, newest first.
func (s *Store) SubstringSearch(project, typ, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 100
	}
	like := "%" + strings.ToLower(query) + "%"
	sqlQuery := `SELECT id, session_id, type, title, content, tool_name, project, scope, topic_key,
	                    revision_count, duplicate_count, last_seen_at, created_at, updated_at, deleted_at, prompt_number
	             FROM observations WHERE deleted_at IS NULL AND (LOWER(title) LIKE ? OR LOWER(content) LIKE ?)`
	args := []any{like, like}
	if project != "" {
		sqlQuery += " AND project = ?"
		args = append(args, project)
	}
	if typ != "" {
		sqlQuery += " AND type = ?"
		args = append(args, typ)
	}
	sqlQuery += " ORDER BY datetime(created_at) DESC LIMIT ?"
	args = append(args, limit)

	obs, err := s.queryObservations(sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, len(obs))
	for i, o := range obs {
		results[i] = SearchResult{Observation: o, Rank: 0}
	}
	return results, nil
}
