// Package sqlite implements the repository interfaces using SQLite as the
// document store.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite: no CGo, no C toolchain, and the
// same binary runs everywhere Go runs. For tests we open ":memory:"
// databases, which makes every test fully isolated.
//
// COLLECTIONS:
//   - users          one row per account
//   - video_posts    posts with their three counters
//   - comments       rows owned by a post (ON DELETE CASCADE)
//   - memberships    likedVideos / collections entries, weak post reference
//   - credentials    accounts of the local identity directory
//   - assets         uploaded objects with uploader, kind and bound flag
//   - saga_checkpoints  high-water marks of multi-step operations
//
// There are no multi-table transactions in this package. Every method is a
// single statement (or a read followed by a single statement); composing
// them safely is the consistency engine's job.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements every repository
// interface in internal/repository.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/clipstream.db"  → file-based database (persistent)
//   - ":memory:"            → in-memory database (tests)
//
// CONNECTION PRAGMAS:
// foreign_keys and busy_timeout are per-connection settings in SQLite, so
// they go into the DSN (modernc applies every _pragma to each new pooled
// connection) rather than a one-off Exec that only reaches one connection.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is its own empty database.
	// Pin the pool to one connection so all callers see the same data.
	if isMemory(dbPath) {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	// The setting is persistent for file databases and ignored for memory ones.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// migrate creates all tables. CREATE ... IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			subject       TEXT NOT NULL UNIQUE,
			user_name     TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL UNIQUE,
			first_name    TEXT NOT NULL DEFAULT '',
			last_name     TEXT NOT NULL DEFAULT '',
			phone_number  TEXT NOT NULL DEFAULT '',
			profile_photo TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// Counters never go negative: CHECK constraints here, and decrements
	// are guarded with "AND count > 0".
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS video_posts (
			id                TEXT PRIMARY KEY,
			owner_id          TEXT NOT NULL REFERENCES users(id),
			video_ref         TEXT NOT NULL,
			cover_ref         TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			count_likes       INTEGER NOT NULL DEFAULT 0 CHECK (count_likes >= 0),
			count_collections INTEGER NOT NULL DEFAULT 0 CHECK (count_collections >= 0),
			count_comments    INTEGER NOT NULL DEFAULT 0 CHECK (count_comments >= 0),
			created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_video_posts_owner_id ON video_posts(owner_id);
		CREATE INDEX IF NOT EXISTS idx_video_posts_created_at ON video_posts(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating video_posts table: %w", err)
	}

	// author_id has no foreign key: comments outlive their author's account.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS comments (
			id         TEXT PRIMARY KEY,
			post_id    TEXT NOT NULL REFERENCES video_posts(id) ON DELETE CASCADE,
			author_id  TEXT NOT NULL,
			text       TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_comments_post_id ON comments(post_id);
	`)
	if err != nil {
		return fmt.Errorf("creating comments table: %w", err)
	}

	// post_id is a weak reference with no foreign key.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS memberships (
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			post_id    TEXT NOT NULL,
			list       TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, post_id, list)
		);
		CREATE INDEX IF NOT EXISTS idx_memberships_post_id ON memberships(post_id);
	`)
	if err != nil {
		return fmt.Errorf("creating memberships table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			username      TEXT PRIMARY KEY,
			subject       TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating credentials table: %w", err)
	}

	// owner_id has no foreign key: a record may outlive its uploader when
	// the object could not be deleted.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS assets (
			key          TEXT PRIMARY KEY,
			owner_id     TEXT NOT NULL,
			kind         TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			size         INTEGER NOT NULL DEFAULT 0,
			bound        INTEGER NOT NULL DEFAULT 0,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_assets_owner_id ON assets(owner_id);
	`)
	if err != nil {
		return fmt.Errorf("creating assets table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS saga_checkpoints (
			id         TEXT PRIMARY KEY,
			operation  TEXT NOT NULL,
			completed  INTEGER NOT NULL DEFAULT 0,
			state      TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating saga_checkpoints table: %w", err)
	}

	return nil
}

// uniqueViolation reports the column of a UNIQUE constraint failure.
// SQLite formats these as "UNIQUE constraint failed: users.user_name".
func uniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	msg := err.Error()
	const marker = "UNIQUE constraint failed: "
	i := strings.Index(msg, marker)
	if i < 0 {
		return "", false
	}
	col := msg[i+len(marker):]
	if j := strings.IndexAny(col, " ,)"); j >= 0 {
		col = col[:j]
	}
	if k := strings.LastIndex(col, "."); k >= 0 {
		col = col[k+1:]
	}
	return col, true
}

// foreignKeyViolation reports whether err is SQLite refusing a write
// that would leave a dangling reference.
func foreignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
