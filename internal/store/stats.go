package store

// Stats reports aggregate counts across the store.
func (s *Store) Stats() (*Stats, error) {
	var stats Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&stats.TotalSessions); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM observations WHERE deleted_at IS NULL`).Scan(&stats.TotalObservations); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM user_prompts`).Scan(&stats.TotalPrompts); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&stats.TotalMemories); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM vectors`).Scan(&stats.TotalVectors); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT DISTINCT project FROM observations WHERE project IS NOT NULL AND project != ''`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		stats.Projects = append(stats.Projects, p)
	}
	return &stats, rows.Err()
}
