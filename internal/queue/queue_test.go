package queue

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestQueue(t *testing.T, maxAttempts int) (*Queue, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	schema := `
		CREATE TABLE pending_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dedup_key TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TEXT NOT NULL DEFAULT (datetime('now')),
			last_error TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE TABLE processed_events (
			dedup_key TEXT PRIMARY KEY,
			processed_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE TABLE dead_letters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			dedup_key TEXT,
			payload TEXT NOT NULL,
			reason TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("schema: %v", err)
	}

	locker := func(fn func(*sql.DB) error) error { return fn(db) }
	return New(db, locker, maxAttempts, 10*time.Millisecond), db
}

func TestEnqueue_DuplicateDedupKeyIsIgnored(t *testing.T) {
	q, _ := newTestQueue(t, 5)
	if _, err := q.Enqueue("observation", map[string]string{"a": "1"}, "dedup-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	msgs, err := q.ClaimBatch(10)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 claimed message, got %d", len(msgs))
	}
	if err := q.MarkDone(msgs[0]); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	if _, err := q.Enqueue("observation", map[string]string{"a": "1"}, "dedup-1"); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}
}

func TestMarkFailed_DeadLettersAfterMaxAttempts(t *testing.T) {
	q, db := newTestQueue(t, 2)
	if _, err := q.Enqueue("observation", map[string]string{"a": "1"}, "dedup-2"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	msgs, err := q.ClaimBatch(10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("ClaimBatch: %v (%d)", err, len(msgs))
	}
	m := msgs[0]

	if err := q.MarkFailed(m, errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	m.Attempts++
	if err := q.MarkFailed(m, errors.New("boom again")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM dead_letters WHERE dedup_key = ?`, "dedup-2").Scan(&n); err != nil {
		t.Fatalf("query dead_letters: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected message to be dead-lettered, got %d dead_letters rows", n)
	}

	var pending int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pending_messages`).Scan(&pending); err != nil {
		t.Fatalf("query pending_messages: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected pending_messages to be empty after dead-lettering, got %d", pending)
	}
}
