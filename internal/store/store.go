// Package store implements the Persistent Store: an embedded SQL database
// holding transcription tasks, calendar events, attachments, auto-task
// configs, and OAuth token metadata. The connection setup is grounded on
// ManuGH-xg2g's internal/persistence/sqlite/config.go and
// internal/library/store.go — same driver (modernc.org/sqlite, pure Go, no
// CGO), same DSN-level PRAGMA wiring for WAL mode, busy timeout, and
// foreign keys.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/echonote/engine/internal/errs"
)

const schemaVersion = 1

// busyTimeout is the 30-second busy timeout the spec requires for
// serialized writes under concurrent access.
const busyTimeout = 30 * time.Second

// Store wraps the embedded database and exposes the engine's model-level
// CRUD surface. modernc.org/sqlite has no transparent page-level cipher and
// this package encrypts nothing itself: pages are written unencrypted, and
// OAuth token columns hold ciphertext only when the caller has sealed the
// tokens through the Secrets Vault before passing them in (see oauth.go).
// Rekey always reports the cipher as unavailable.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and runs
// schema initialization.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, busyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Fatalf("store: open %q: %w", path, err)
	}

	// A single connection serializes every read and write, which avoids
	// SQLITE_BUSY under WAL; reads wait on that connection rather than
	// running in parallel with writes. Mirrors the teacher's pool sizing
	// rationale for a single-process embedded database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errs.Fatalf("store: ping %q: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for components (e.g. the Task Queue
// restart-recovery scan) that need to compose custom queries outside this
// package's model API.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transcription_tasks (
		id             TEXT PRIMARY KEY,
		source_path    TEXT NOT NULL,
		byte_size      INTEGER NOT NULL,
		duration_secs  REAL,
		status         TEXT NOT NULL CHECK(status IN ('pending','processing','completed','failed','cancelled')),
		progress       INTEGER NOT NULL DEFAULT 0 CHECK(progress BETWEEN 0 AND 100),
		source_language TEXT,
		engine_name    TEXT NOT NULL,
		output_format  TEXT NOT NULL,
		output_path    TEXT,
		error_message  TEXT,
		created_at     TEXT NOT NULL,
		started_at     TEXT,
		completed_at   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON transcription_tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON transcription_tasks(created_at);

	CREATE TABLE IF NOT EXISTS calendar_events (
		id          TEXT NOT NULL,
		source      TEXT NOT NULL,
		title       TEXT NOT NULL,
		description TEXT,
		event_type  TEXT,
		start_at    TEXT NOT NULL,
		end_at      TEXT,
		attendees   TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (source, id)
	);
	CREATE INDEX IF NOT EXISTS idx_events_start ON calendar_events(start_at);

	CREATE TABLE IF NOT EXISTS event_attachments (
		id          TEXT PRIMARY KEY,
		event_id    TEXT NOT NULL,
		event_source TEXT NOT NULL,
		kind        TEXT NOT NULL CHECK(kind IN ('recording','transcript','translation')),
		file_path   TEXT NOT NULL,
		byte_size   INTEGER NOT NULL,
		created_at  TEXT NOT NULL,
		FOREIGN KEY (event_source, event_id) REFERENCES calendar_events(source, id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_attachments_event ON event_attachments(event_source, event_id);

	CREATE TABLE IF NOT EXISTS auto_task_configs (
		event_id             TEXT NOT NULL,
		event_source         TEXT NOT NULL,
		enable_transcription BOOLEAN NOT NULL DEFAULT 0,
		enable_recording     BOOLEAN NOT NULL DEFAULT 0,
		enable_translation   BOOLEAN NOT NULL DEFAULT 0,
		languages            TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (event_source, event_id)
	);

	CREATE TABLE IF NOT EXISTS oauth_tokens (
		provider      TEXT PRIMARY KEY,
		access_token  TEXT NOT NULL,
		refresh_token TEXT,
		expires_at    TEXT,
		scope         TEXT,
		token_type    TEXT,
		stored_at     TEXT NOT NULL,
		extras        TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS speech_models (
		name        TEXT PRIMARY KEY,
		downloaded  BOOLEAN NOT NULL DEFAULT 0,
		local_path  TEXT
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errs.Fatalf("store: migrate schema: %w", err)
	}

	var current string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'schema_version'`).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES ('schema_version', ?)`, fmt.Sprint(schemaVersion))
		if err != nil {
			return errs.Fatalf("store: record schema_version: %w", err)
		}
	case err != nil:
		return errs.Fatalf("store: read schema_version: %w", err)
	default:
		if current != fmt.Sprint(schemaVersion) {
			return errs.Integrityf("store: schema_version mismatch: on disk %q, engine expects %d", current, schemaVersion)
		}
	}

	return nil
}

// WithTx runs fn inside a transaction, rolling back on any error or panic
// and committing only if fn returns nil. Mirrors the invariant the spec
// requires for execute/execute_many/script operations.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Transientf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Transientf("store: commit tx: %w", err)
	}
	return nil
}

// Backup produces a consistent on-disk copy of the database using SQLite's
// VACUUM INTO, which snapshots without requiring a shared-lock pause on
// writers.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return errs.Transientf("store: backup to %q: %w", destPath, err)
	}
	return nil
}

// Rekey attempts to rotate the database's at-rest encryption key.
// modernc.org/sqlite has no page-level cipher to rotate, so this
// always reports unavailable and leaves the database on its existing key,
// exactly the degraded path the spec documents for a cipher-less build.
func (s *Store) Rekey(newKeyHex string) bool {
	return false
}

// SchemaVersion reports the schema version recorded in the settings table.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'schema_version'`).Scan(&v)
	if err != nil {
		return 0, errs.Fatalf("store: read schema_version: %w", err)
	}
	return v, nil
}

// pathExists is a small helper models use to validate file-backed fields
// before trusting them (e.g. SpeechModelDescriptor.LocalPath).
func pathExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
