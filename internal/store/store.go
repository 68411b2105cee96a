// Package store implements the persistent memory engine for opencodemem.
//
// It uses SQLite with FTS5 full-text search to hold sessions, prompts,
// observations, memories, summaries and vectors, plus the durable queue
// tables that back ingest and replication. Adapted from Hoofy's memory
// store (github.com/HendryAvila/Hoofy) with the schema generalized to the
// full opencodemem data model.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Config holds store configuration.
type Config struct {
	DataDir              string
	MaxObservationLength int
	MaxContextResults    int
	MaxSearchResults     int
	DedupeWindow         time.Duration
	BusyRetries          int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:              filepath.Join(home, ".opencodemem"),
		MaxObservationLength: 4000,
		MaxContextResults:    20,
		MaxSearchResults:     20,
		DedupeWindow:         15 * time.Minute,
		BusyRetries:          8,
	}
}

// Store is the persistent memory engine backed by SQLite + FTS5.
//
// All writes go through withWriteLock: modernc.org/sqlite serializes at
// the connection level, but the mutex removes reliance on SQLITE_BUSY
// retry for the common single-process case, keeping retry as the belt
// for the rare cross-process contention window.
type Store struct {
	db     *sql.DB
	cfg    Config
	writeM sync.Mutex
}

// New creates a new Store, creating the data directory if needed, opening
// SQLite in WAL mode, and applying pending migrations.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "opencodemem.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Conn exposes the raw connection for components (queue, replicate) that
// need to run their own reads against the shared database. Writes from
// outside this package must go through WithWriteLock.
func (s *Store) Conn() *sql.DB {
	return s.db
}

// WithWriteLock serializes fn against every other write in the process.
func (s *Store) WithWriteLock(fn func(*sql.DB) error) error {
	s.writeM.Lock()
	defer s.writeM.Unlock()
	return s.retryBusy(func() error { return fn(s.db) })
}

// retryBusy retries fn a bounded number of times on SQLITE_BUSY, matching
// spec §7's Store-busy handling on top of the busy_timeout pragma.
func (s *Store) retryBusy(fn func() error) error {
	retries := s.cfg.BusyRetries
	if retries <= 0 {
		retries = 8
	}
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		err = fn()
		if err == nil || !isBusyErr(err) {
			return err
		}
		time.Sleep(20 * time.Millisecond * time.Duration(attempt+1))
	}
	return err
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "busy")
}
