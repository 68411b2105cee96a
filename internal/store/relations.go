package store

import "database/sql"

// AddRelation links two observations, optionally in both directions, and
// returns the IDs of the relation rows created.
func (s *Store) AddRelation(p AddRelationParams) ([]int64, error) {
	typ := p.Type
	if typ == "" {
		typ = "relates_to"
	}
	var ids []int64
	err := s.WithWriteLock(func(db *sql.DB) error {
		res, err := db.Exec(
			`INSERT OR IGNORE INTO relations (from_id, to_id, type, note) VALUES (?, ?, ?, ?)`,
			p.FromID, p.ToID, typ, nullableString(p.Note),
		)
		if err != nil {
			return err
		}
		if id, err := res.LastInsertId(); err == nil && id > 0 {
			ids = append(ids, id)
		}
		if p.Bidirectional {
			res, err := db.Exec(
				`INSERT OR IGNORE INTO relations (from_id, to_id, type, note) VALUES (?, ?, ?, ?)`,
				p.ToID, p.FromID, typ, nullableString(p.Note),
			)
			if err != nil {
				return err
			}
			if id, err := res.LastInsertId(); err == nil && id > 0 {
				ids = append(ids, id)
			}
		}
		return nil
	})
	return ids, err
}

// RemoveRelation deletes a single relation edge by ID.
func (s *Store) RemoveRelation(id int64) error {
	return s.WithWriteLock(func(db *sql.DB) error {
		_, err := db.Exec(`DELETE FROM relations WHERE id = ?`, id)
		return err
	})
}

// GetRelations returns every edge touching an observation, in either direction.
func (s *Store) GetRelations(observationID int64) ([]Relation, error) {
	rows, err := s.db.Query(
		`SELECT id, from_id, to_id, type, ifnull(note, ''), created_at
		 FROM relations WHERE from_id = ? OR to_id = ? ORDER BY created_at DESC`,
		observationID, observationID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.Type, &r.Note, &r.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// BuildContext performs a breadth-first traversal of the relation graph
// starting at observationID, up to maxDepth hops.
func (s *Store) BuildContext(observationID int64, maxDepth int) (*ContextResult, error) {
	if maxDepth <= 0 {
		maxDepth = 2
	}
	root, err := s.GetObservation(observationID)
	if err != nil {
		return nil, err
	}

	visited := map[int64]bool{observationID: true}
	type frontierNode struct {
		id    int64
		depth int
	}
	frontier := []frontierNode{{observationID, 0}}
	var connected []ContextNode

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur.depth >= maxDepth {
			continue
		}

		rows, err := s.db.Query(`
			SELECT r.to_id, r.type, ifnull(r.note,''), o.title, o.type, ifnull(o.project,''), o.created_at, 'outgoing'
			FROM relations r JOIN observations o ON o.id = r.to_id
			WHERE r.from_id = ?
			UNION ALL
			SELECT r.from_id, r.type, ifnull(r.note,''), o.title, o.type, ifnull(o.project,''), o.created_at, 'incoming'
			FROM relations r JOIN observations o ON o.id = r.from_id
			WHERE r.to_id = ?
		`, cur.id, cur.id)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var n ContextNode
			if err := rows.Scan(&n.ID, &n.RelationType, &n.Note, &n.Title, &n.Type, &n.Project, &n.CreatedAt, &n.Direction); err != nil {
				_ = rows.Close()
				return nil, err
			}
			if visited[n.ID] {
				continue
			}
			visited[n.ID] = true
			n.Depth = cur.depth + 1
			connected = append(connected, n)
			frontier = append(frontier, frontierNode{n.ID, n.Depth})
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}

	return &ContextResult{
		Root:       *root,
		Connected:  connected,
		TotalNodes: len(connected) + 1,
		MaxDepth:   maxDepth,
	}, nil
}
