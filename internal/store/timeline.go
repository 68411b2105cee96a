package store

// Timeline returns the chronological window of observations around a
// focus observation, in the same project/scope, for progressive
// disclosure alongside ranked search results.
func (s *Store) Timeline(observationID int64, before, after int) (*TimelineResult, error) {
	focus, err := s.GetObservation(observationID)
	if err != nil {
		return nil, err
	}
	if before <= 0 {
		before = 5
	}
	if after <= 0 {
		after = 5
	}

	beforeRows, err := s.queryObservations(`
		SELECT id, session_id, type, title, content, tool_name, project, scope, topic_key,
		       revision_count, duplicate_count, last_seen_at, created_at, updated_at, deleted_at, prompt_number
		FROM observations
		WHERE ifnull(project,'') = ifnull(?, '') AND scope = ? AND deleted_at IS NULL
		  AND datetime(created_at) < datetime(?)
		ORDER BY created_at DESC LIMIT ?`,
		focus.Project, focus.Scope, focus.CreatedAt, before,
	)
	if err != nil {
		return nil, err
	}

	afterRows, err := s.queryObservations(`
		SELECT id, session_id, type, title, content, tool_name, project, scope, topic_key,
		       revision_count, duplicate_count, last_seen_at, created_at, updated_at, deleted_at, prompt_number
		FROM observations
		WHERE ifnull(project,'') = ifnull(?, '') AND scope = ? AND deleted_at IS NULL
		  AND datetime(created_at) > datetime(?)
		ORDER BY created_at ASC LIMIT ?`,
		focus.Project, focus.Scope, focus.CreatedAt, after,
	)
	if err != nil {
		return nil, err
	}

	var sess *Session
	if s2, err := s.GetSession(focus.SessionID); err == nil {
		sess = s2
	}

	var prompts []Prompt
	if focus.SessionID != "" {
		rows, err := s.db.Query(
			`SELECT id, session_id, content, ifnull(project,''), prompt_number, created_at
			 FROM user_prompts WHERE session_id = ? ORDER BY prompt_number ASC`,
			focus.SessionID,
		)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var p Prompt
			if err := rows.Scan(&p.ID, &p.SessionID, &p.Content, &p.Project, &p.PromptNumber, &p.CreatedAt); err != nil {
				_ = rows.Close()
				return nil, err
			}
			prompts = append(prompts, p)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}

	var total int
	_ = s.db.QueryRow(
		`SELECT COUNT(*) FROM observations WHERE ifnull(project,'') = ifnull(?, '') AND scope = ? AND deleted_at IS NULL`,
		focus.Project, focus.Scope,
	).Scan(&total)

	return &TimelineResult{
		Focus:        *focus,
		Before:       toTimeline(beforeRows, false),
		After:        toTimeline(afterRows, false),
		Prompts:      prompts,
		SessionInfo:  sess,
		TotalInRange: total,
	}, nil
}

func toTimeline(obs []Observation, focus bool) []TimelineEntry {
	entries := make([]TimelineEntry, len(obs))
	for i, o := range obs {
		entries[i] = TimelineEntry{Observation: o, IsFocus: focus}
	}
	return entries
}
