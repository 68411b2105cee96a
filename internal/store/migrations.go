package store

import (
	"fmt"
)

type migration struct {
	name string
	up   string
}

// migrations is the ordered schema history. Never reorder or edit an
// applied entry — append a new one instead, exactly as the teacher's
// migrate() grows the schema with IF NOT EXISTS blocks, generalized here
// into a tracked list so a stale binary refuses to run against a newer
// database (see (*Store).migrate).
var migrations = []migration{
	{
		name: "0001_sessions",
		up: `
			CREATE TABLE IF NOT EXISTS sessions (
				id         TEXT PRIMARY KEY,
				project    TEXT NOT NULL,
				directory  TEXT NOT NULL,
				started_at TEXT NOT NULL DEFAULT (datetime('now')),
				ended_at   TEXT,
				summary    TEXT
			);
		`,
	},
	{
		name: "0002_observations",
		up: `
			CREATE TABLE IF NOT EXISTS observations (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id      TEXT    NOT NULL,
				type            TEXT    NOT NULL,
				title           TEXT    NOT NULL,
				content         TEXT    NOT NULL,
				tool_name       TEXT,
				project         TEXT,
				scope           TEXT    NOT NULL DEFAULT 'project',
				topic_key       TEXT,
				normalized_hash TEXT,
				revision_count  INTEGER NOT NULL DEFAULT 1,
				duplicate_count INTEGER NOT NULL DEFAULT 1,
				last_seen_at    TEXT,
				created_at      TEXT    NOT NULL DEFAULT (datetime('now')),
				updated_at      TEXT    NOT NULL DEFAULT (datetime('now')),
				deleted_at      TEXT,
				FOREIGN KEY (session_id) REFERENCES sessions(id)
			);

			CREATE INDEX IF NOT EXISTS idx_obs_session ON observations(session_id);
			CREATE INDEX IF NOT EXISTS idx_obs_type    ON observations(type);
			CREATE INDEX IF NOT EXISTS idx_obs_project ON observations(project);
			CREATE INDEX IF NOT EXISTS idx_obs_created ON observations(created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_obs_scope   ON observations(scope);
			CREATE INDEX IF NOT EXISTS idx_obs_topic   ON observations(topic_key, project, scope, updated_at DESC);
			CREATE INDEX IF NOT EXISTS idx_obs_deleted ON observations(deleted_at);
			CREATE INDEX IF NOT EXISTS idx_obs_dedupe  ON observations(normalized_hash, project, scope, type, title, created_at DESC);

			CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
				title, content, tool_name, type, project,
				content='observations', content_rowid='id'
			);

			CREATE TRIGGER IF NOT EXISTS obs_fts_insert AFTER INSERT ON observations BEGIN
				INSERT INTO observations_fts(rowid, title, content, tool_name, type, project)
				VALUES (new.id, new.title, new.content, new.tool_name, new.type, new.project);
			END;

			CREATE TRIGGER IF NOT EXISTS obs_fts_delete AFTER DELETE ON observations BEGIN
				INSERT INTO observations_fts(observations_fts, rowid, title, content, tool_name, type, project)
				VALUES ('delete', old.id, old.title, old.content, old.tool_name, old.type, old.project);
			END;

			CREATE TRIGGER IF NOT EXISTS obs_fts_update AFTER UPDATE ON observations BEGIN
				INSERT INTO observations_fts(observations_fts, rowid, title, content, tool_name, type, project)
				VALUES ('delete', old.id, old.title, old.content, old.tool_name, old.type, old.project);
				INSERT INTO observations_fts(rowid, title, content, tool_name, type, project)
				VALUES (new.id, new.title, new.content, new.tool_name, new.type, new.project);
			END;
		`,
	},
	{
		name: "0003_prompts",
		up: `
			CREATE TABLE IF NOT EXISTS user_prompts (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT    NOT NULL,
				content    TEXT    NOT NULL,
				project    TEXT,
				created_at TEXT    NOT NULL DEFAULT (datetime('now')),
				FOREIGN KEY (session_id) REFERENCES sessions(id)
			);

			CREATE INDEX IF NOT EXISTS idx_prompts_session ON user_prompts(session_id);
			CREATE INDEX IF NOT EXISTS idx_prompts_project ON user_prompts(project);
			CREATE INDEX IF NOT EXISTS idx_prompts_created ON user_prompts(created_at DESC);

			CREATE VIRTUAL TABLE IF NOT EXISTS prompts_fts USING fts5(
				content, project, content='user_prompts', content_rowid='id'
			);

			CREATE TRIGGER IF NOT EXISTS prompt_fts_insert AFTER INSERT ON user_prompts BEGIN
				INSERT INTO prompts_fts(rowid, content, project) VALUES (new.id, new.content, new.project);
			END;

			CREATE TRIGGER IF NOT EXISTS prompt_fts_delete AFTER DELETE ON user_prompts BEGIN
				INSERT INTO prompts_fts(prompts_fts, rowid, content, project) VALUES ('delete', old.id, old.content, old.project);
			END;

			CREATE TRIGGER IF NOT EXISTS prompt_fts_update AFTER UPDATE ON user_prompts BEGIN
				INSERT INTO prompts_fts(prompts_fts, rowid, content, project) VALUES ('delete', old.id, old.content, old.project);
				INSERT INTO prompts_fts(rowid, content, project) VALUES (new.id, new.content, new.project);
			END;
		`,
	},
	{
		name: "0004_relations",
		up: `
			CREATE TABLE IF NOT EXISTS relations (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				from_id    INTEGER NOT NULL,
				to_id      INTEGER NOT NULL,
				type       TEXT    NOT NULL DEFAULT 'relates_to',
				note       TEXT,
				created_at TEXT    NOT NULL DEFAULT (datetime('now')),
				FOREIGN KEY (from_id) REFERENCES observations(id) ON DELETE CASCADE,
				FOREIGN KEY (to_id)   REFERENCES observations(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_rel_from ON relations(from_id);
			CREATE INDEX IF NOT EXISTS idx_rel_to   ON relations(to_id);
			CREATE INDEX IF NOT EXISTS idx_rel_type ON relations(type);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_rel_unique ON relations(from_id, to_id, type);
		`,
	},
	{
		name: "0005_memories_summaries_vectors",
		up: `
			CREATE TABLE IF NOT EXISTS memories (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				observation_id  INTEGER NOT NULL,
				project         TEXT,
				pinned          INTEGER NOT NULL DEFAULT 0,
				tags            TEXT,
				created_at      TEXT    NOT NULL DEFAULT (datetime('now')),
				FOREIGN KEY (observation_id) REFERENCES observations(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project);
			CREATE INDEX IF NOT EXISTS idx_memories_pinned  ON memories(pinned);

			CREATE TABLE IF NOT EXISTS summaries (
				id         TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				content    TEXT NOT NULL,
				created_at TEXT NOT NULL DEFAULT (datetime('now')),
				FOREIGN KEY (session_id) REFERENCES sessions(id)
			);

			CREATE TABLE IF NOT EXISTS vectors (
				observation_id INTEGER PRIMARY KEY,
				project        TEXT,
				model          TEXT NOT NULL,
				dims           INTEGER NOT NULL,
				embedding      BLOB NOT NULL,
				created_at     TEXT NOT NULL DEFAULT (datetime('now')),
				FOREIGN KEY (observation_id) REFERENCES observations(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_vectors_project ON vectors(project);
		`,
	},
	{
		name: "0006_queue_tables",
		up: `
			CREATE TABLE IF NOT EXISTS pending_messages (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				dedup_key     TEXT NOT NULL UNIQUE,
				event_type    TEXT NOT NULL,
				payload       TEXT NOT NULL,
				status        TEXT NOT NULL DEFAULT 'pending',
				attempts      INTEGER NOT NULL DEFAULT 0,
				next_attempt_at TEXT NOT NULL DEFAULT (datetime('now')),
				last_error    TEXT,
				created_at    TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_messages(status, next_attempt_at);

			CREATE TABLE IF NOT EXISTS processed_events (
				dedup_key   TEXT PRIMARY KEY,
				processed_at TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE IF NOT EXISTS dead_letters (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				source      TEXT NOT NULL,
				dedup_key   TEXT,
				payload     TEXT NOT NULL,
				reason      TEXT NOT NULL,
				attempts    INTEGER NOT NULL DEFAULT 0,
				created_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX IF NOT EXISTS idx_dead_letters_source ON dead_letters(source);
		`,
	},
	{
		name: "0007_sync_state",
		up: `
			CREATE TABLE IF NOT EXISTS sync_state (
				project      TEXT PRIMARY KEY,
				cursor       INTEGER NOT NULL DEFAULT 0,
				last_sync_at TEXT
			);

			CREATE TABLE IF NOT EXISTS sync_runs (
				id           TEXT PRIMARY KEY,
				project      TEXT NOT NULL,
				started_at   TEXT NOT NULL DEFAULT (datetime('now')),
				finished_at  TEXT,
				pushed       INTEGER NOT NULL DEFAULT 0,
				conflicts    INTEGER NOT NULL DEFAULT 0,
				failed       INTEGER NOT NULL DEFAULT 0,
				error        TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_sync_runs_project ON sync_runs(project, started_at DESC);
		`,
	},
	{
		// 0008 gives sessions an explicit lifecycle status, threads
		// prompt_number through observations and user_prompts, and
		// replaces the never-read/never-written memories and summaries
		// shapes from 0005 with the ones the memory/summary services
		// actually populate. Both tables were dead schema (no INSERT or
		// SELECT anywhere), so dropping and recreating them loses no data.
		name: "0008_memory_summary_status",
		up: `
			ALTER TABLE sessions ADD COLUMN status TEXT NOT NULL DEFAULT 'active';
			CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

			ALTER TABLE observations ADD COLUMN prompt_number INTEGER NOT NULL DEFAULT 0;
			ALTER TABLE user_prompts ADD COLUMN prompt_number INTEGER NOT NULL DEFAULT 0;
			CREATE UNIQUE INDEX IF NOT EXISTS idx_prompts_session_number ON user_prompts(session_id, prompt_number);

			DROP TABLE IF EXISTS memories;
			CREATE TABLE memories (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				project    TEXT    NOT NULL,
				session_id TEXT,
				content    TEXT    NOT NULL,
				summary    TEXT,
				type       TEXT    NOT NULL DEFAULT 'general',
				tags       TEXT,
				metadata   TEXT,
				created_at TEXT    NOT NULL DEFAULT (datetime('now')),
				FOREIGN KEY (session_id) REFERENCES sessions(id)
			);

			CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
			CREATE INDEX IF NOT EXISTS idx_memories_type    ON memories(type);

			DROP TABLE IF EXISTS summaries;
			CREATE TABLE summaries (
				id           TEXT PRIMARY KEY,
				session_id   TEXT NOT NULL UNIQUE,
				request      TEXT,
				investigated TEXT,
				learned      TEXT,
				completed    TEXT,
				next_steps   TEXT,
				created_at   TEXT NOT NULL DEFAULT (datetime('now')),
				FOREIGN KEY (session_id) REFERENCES sessions(id)
			);
		`,
	},
}

// migrate applies pending migrations in order and refuses to start if the
// database records a migration name that isn't in the current binary's
// list — that means a newer build touched this database.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name        TEXT PRIMARY KEY,
			applied_at  TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := s.db.Query(`SELECT name FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return err
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	known := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		known[m.name] = true
	}
	for name := range applied {
		if !known[name] {
			return fmt.Errorf("database has migration %q unknown to this build; refusing to start", name)
		}
	}

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name) VALUES (?)`, m.name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
