package store

import (
	"database/sql"
	"encoding/binary"
	"math"
)

// PutVector stores an embedding as a packed little-endian float32 blob.
func (s *Store) PutVector(v Vector) error {
	blob := encodeFloat32s(v.Embedding)
	return s.WithWriteLock(func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO vectors (observation_id, project, model, dims, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, datetime('now'))
			 ON CONFLICT(observation_id) DO UPDATE SET
			   project = excluded.project, model = excluded.model,
			   dims = excluded.dims, embedding = excluded.embedding, created_at = excluded.created_at`,
			v.ObservationID, nullableString(v.Project), v.Model, v.Dims, blob,
		)
		return err
	})
}

// GetVector fetches the embedding for a single observation, if present.
func (s *Store) GetVector(observationID int64) (*Vector, error) {
	var v Vector
	var project sql.NullString
	var blob []byte
	err := s.db.QueryRow(
		`SELECT observation_id, project, model, dims, embedding, created_at FROM vectors WHERE observation_id = ?`,
		observationID,
	).Scan(&v.ObservationID, &project, &v.Model, &v.Dims, &blob, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.Project = project.String
	v.Embedding = decodeFloat32s(blob)
	return &v, nil
}

// VectorsForProject returns every stored vector for a project, used by the
// embedding worker's brute-force cosine similarity search.
func (s *Store) VectorsForProject(project string) ([]Vector, error) {
	rows, err := s.db.Query(
		`SELECT observation_id, ifnull(project,''), model, dims, embedding, created_at FROM vectors WHERE ifnull(project,'') = ifnull(?, '')`,
		nullableString(project),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []Vector
	for rows.Next() {
		var v Vector
		var blob []byte
		if err := rows.Scan(&v.ObservationID, &v.Project, &v.Model, &v.Dims, &blob, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Embedding = decodeFloat32s(blob)
		results = append(results, v)
	}
	return results, rows.Err()
}

func encodeFloat32s(fs []float32) []byte {
	buf := make([]byte, 4*len(fs))
	for i, f := range fs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(buf []byte) []float32 {
	n := len(buf) / 4
	fs := make([]float32, n)
	for i := 0; i < n; i++ {
		fs[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return fs
}

// CosineSimilarity computes similarity between two equal-length vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
