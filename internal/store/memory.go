package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// SaveMemory persists a curated knowledge item for a project. Content
// has already been through the privacy filter by the time it reaches
// this layer; here we only truncate and serialize the optional fields.
func (s *Store) SaveMemory(p AddMemoryParams) (int64, error) {
	typ := p.Type
	if typ == "" {
		typ = "general"
	}

	var tagsJSON, metaJSON *string
	if len(p.Tags) > 0 {
		b, err := json.Marshal(p.Tags)
		if err != nil {
			return 0, fmt.Errorf("marshal tags: %w", err)
		}
		v := string(b)
		tagsJSON = &v
	}
	if len(p.Metadata) > 0 {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshal metadata: %w", err)
		}
		v := string(b)
		metaJSON = &v
	}

	var id int64
	err := s.WithWriteLock(func(db *sql.DB) error {
		res, err := db.Exec(
			`INSERT INTO memories (project, session_id, content, summary, type, tags, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.Project, nullableString(p.SessionID), Truncate(p.Content, s.cfg.MaxObservationLength),
			nullableString(p.Summary), typ, tagsJSON, metaJSON,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// ListMemories returns memories for a project, optionally filtered by type.
func (s *Store) ListMemories(project, typ string, limit, offset int) ([]Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, project, session_id, content, summary, type, tags, metadata, created_at
	          FROM memories WHERE 1=1`
	args := []any{}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	if typ != "" {
		query += " AND type = ?"
		args = append(args, typ)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	return s.queryMemories(query, args...)
}

// MemoriesBySession returns memories recorded during a specific session.
func (s *Store) MemoriesBySession(project, sessionID string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `SELECT id, project, session_id, content, summary, type, tags, metadata, created_at
	          FROM memories WHERE session_id = ?`
	args := []any{sessionID}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)
	return s.queryMemories(query, args...)
}

// DeleteMemory removes a memory by id.
func (s *Store) DeleteMemory(id int64) error {
	return s.WithWriteLock(func(db *sql.DB) error {
		_, err := db.Exec(`DELETE FROM memories WHERE id = ?`, id)
		return err
	})
}

// MemoriesForInjection returns memories for a project ordered newest
// first, optionally excluding a session and filtering by age — the
// candidate set for context injection.
func (s *Store) MemoriesForInjection(project, excludeSessionID string, maxAgeDays, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, project, session_id, content, summary, type, tags, metadata, created_at
	          FROM memories WHERE project = ?`
	args := []any{project}
	if excludeSessionID != "" {
		query += " AND ifnull(session_id, '') != ?"
		args = append(args, excludeSessionID)
	}
	if maxAgeDays > 0 {
		query += " AND datetime(created_at) >= datetime('now', ?)"
		args = append(args, fmt.Sprintf("-%d days", maxAgeDays))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)
	return s.queryMemories(query, args...)
}

// MemoriesToClean returns ids of memories eligible for pruning for a
// project: anything older than maxAgeDays, plus anything beyond the
// newest maxMemories rows. Either bound may be zero to disable it.
func (s *Store) MemoriesToClean(project string, maxMemories, maxAgeDays int) ([]int64, error) {
	seen := map[int64]bool{}
	var ids []int64

	add := func(rows *sql.Rows, err error) error {
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		return rows.Err()
	}

	if maxAgeDays > 0 {
		rows, err := s.db.Query(
			`SELECT id FROM memories WHERE project = ? AND datetime(created_at) < datetime('now', ?)`,
			project, fmt.Sprintf("-%d days", maxAgeDays),
		)
		if err := add(rows, err); err != nil {
			return nil, err
		}
	}

	if maxMemories > 0 {
		rows, err := s.db.Query(
			`SELECT id FROM memories WHERE project = ?
			 ORDER BY created_at DESC LIMIT -1 OFFSET ?`,
			project, maxMemories,
		)
		if err := add(rows, err); err != nil {
			return nil, err
		}
	}

	return ids, nil
}

func (s *Store) queryMemories(query string, args ...any) ([]Memory, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []Memory
	for rows.Next() {
		var m Memory
		var tagsJSON, metaJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.Project, &m.SessionID, &m.Content, &m.Summary, &m.Type,
			&tagsJSON, &metaJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		if tagsJSON.Valid && tagsJSON.String != "" {
			_ = json.Unmarshal([]byte(tagsJSON.String), &m.Tags)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &m.Metadata)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
