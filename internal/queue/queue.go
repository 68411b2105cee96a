// Package queue implements the durable PendingQueue: an idempotent,
// retryable inbox for ingest events, backed by the same SQLite database
// as the observation store. It is grounded on Hoofy's execHook/queryHook
// test-seam style (internal/memory/store.go) so retry and backoff logic
// can be exercised without a real clock.
package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateEvent is returned when an event's dedup key has already
// been processed to completion.
var ErrDuplicateEvent = errors.New("queue: duplicate event")

// Message is one durable queue entry.
type Message struct {
	ID            int64
	DedupKey      string
	EventType     string
	Payload       json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt string
	LastError     string
}

// Queue wraps the pending_messages/processed_events/dead_letters tables.
type Queue struct {
	db          *sql.DB
	writeLocker func(func(*sql.DB) error) error
	maxAttempts int
	backoffBase time.Duration
}

// New builds a Queue over an existing database connection. writeLocker
// should be the owning store's WithWriteLock so pending_messages writes
// serialize with the rest of the process's writes.
func New(db *sql.DB, writeLocker func(func(*sql.DB) error) error, maxAttempts int, backoffBase time.Duration) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if backoffBase <= 0 {
		backoffBase = 2 * time.Second
	}
	return &Queue{db: db, writeLocker: writeLocker, maxAttempts: maxAttempts, backoffBase: backoffBase}
}

// Enqueue inserts a new pending message. If dedupKey is empty a fresh
// uuid is generated. Returns ErrDuplicateEvent if the dedup key was
// already fully processed — the caller should treat this as a no-op
// success, not a failure, per the idempotency contract.
func (q *Queue) Enqueue(eventType string, payload any, dedupKey string) (string, error) {
	if dedupKey == "" {
		dedupKey = uuid.NewString()
	}
	var already bool
	if err := q.db.QueryRow(`SELECT 1 FROM processed_events WHERE dedup_key = ?`, dedupKey).Scan(new(int)); err == nil {
		already = true
	} else if err != sql.ErrNoRows {
		return "", err
	}
	if already {
		return dedupKey, ErrDuplicateEvent
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload: %w", err)
	}

	err = q.writeLocker(func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT OR IGNORE INTO pending_messages (dedup_key, event_type, payload) VALUES (?, ?, ?)`,
			dedupKey, eventType, string(body),
		)
		return err
	})
	return dedupKey, err
}

// ClaimBatch returns up to n messages that are due for processing,
// marking them "processing" so a concurrent poll loop won't double-claim
// them (single ingest processor per process, but this keeps the
// invariant explicit and testable).
func (q *Queue) ClaimBatch(n int) ([]Message, error) {
	var claimed []Message
	err := q.writeLocker(func(db *sql.DB) error {
		rows, err := db.Query(
			`SELECT id, dedup_key, event_type, payload, status, attempts, next_attempt_at, ifnull(last_error,'')
			 FROM pending_messages
			 WHERE status IN ('pending','failed') AND datetime(next_attempt_at) <= datetime('now')
			 ORDER BY next_attempt_at ASC LIMIT ?`, n,
		)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var m Message
			var payload string
			if err := rows.Scan(&m.ID, &m.DedupKey, &m.EventType, &payload, &m.Status, &m.Attempts, &m.NextAttemptAt, &m.LastError); err != nil {
				_ = rows.Close()
				return err
			}
			m.Payload = json.RawMessage(payload)
			claimed = append(claimed, m)
			ids = append(ids, m.ID)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()

		for _, id := range ids {
			if _, err := db.Exec(`UPDATE pending_messages SET status = 'processing', updated_at = datetime('now') WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

// MarkDone completes a message: removes it from the pending table and
// records its dedup key as processed so replays are ignored.
func (q *Queue) MarkDone(m Message) error {
	return q.writeLocker(func(db *sql.DB) error {
		if _, err := db.Exec(`DELETE FROM pending_messages WHERE id = ?`, m.ID); err != nil {
			return err
		}
		_, err := db.Exec(`INSERT OR IGNORE INTO processed_events (dedup_key) VALUES (?)`, m.DedupKey)
		return err
	})
}

// MarkFailed records a processing failure. Once attempts reaches
// maxAttempts, the message moves to dead_letters instead of being
// rescheduled — spec's queue-exhaustion behavior.
func (q *Queue) MarkFailed(m Message, cause error) error {
	attempts := m.Attempts + 1
	if attempts >= q.maxAttempts {
		return q.writeLocker(func(db *sql.DB) error {
			if _, err := db.Exec(
				`INSERT INTO dead_letters (source, dedup_key, payload, reason, attempts) VALUES (?, ?, ?, ?, ?)`,
				"session_ingest", m.DedupKey, string(m.Payload), "max_retries_exceeded", attempts,
			); err != nil {
				return err
			}
			_, err := db.Exec(`DELETE FROM pending_messages WHERE id = ?`, m.ID)
			return err
		})
	}

	delay := q.retryDelay(attempts)
	return q.writeLocker(func(db *sql.DB) error {
		_, err := db.Exec(
			`UPDATE pending_messages
			 SET status = 'failed', attempts = ?, last_error = ?,
			     next_attempt_at = datetime('now', ?), updated_at = datetime('now')
			 WHERE id = ?`,
			attempts, cause.Error(), fmt.Sprintf("+%d seconds", int(delay.Seconds())), m.ID,
		)
		return err
	})
}

// retryDelay computes retry_delay * 2^(attempt-1), capped at 10 minutes.
// This schedules a future row timestamp rather than driving a live retry
// loop, so it stays a plain formula here — the embedding worker and
// external replicator use cenkalti/backoff/v5's Retry helper directly
// where they're actually re-invoking a call in a loop.
func (q *Queue) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := q.backoffBase
	ceiling := 10 * time.Minute
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	if delay > ceiling {
		delay = ceiling
	}
	return delay
}

// DeadLetterCount reports how many messages a source has dead-lettered,
// used by /api/diagnostics and /api/stats. An empty source counts
// across all sources.
func (q *Queue) DeadLetterCount(source string) (int, error) {
	var n int
	var err error
	if source == "" {
		err = q.db.QueryRow(`SELECT COUNT(*) FROM dead_letters`).Scan(&n)
	} else {
		err = q.db.QueryRow(`SELECT COUNT(*) FROM dead_letters WHERE source = ?`, source).Scan(&n)
	}
	return n, err
}

// PendingCount reports the number of messages still awaiting processing.
func (q *Queue) PendingCount() (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM pending_messages WHERE status IN ('pending','failed')`).Scan(&n)
	return n, err
}
