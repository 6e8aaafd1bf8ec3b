package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// SQLiteMigrations contains the SQLite schema migrations in order
var SQLiteMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      sqliteV1Up,
		Down:    sqliteV1Down,
	},
	{
		Version: "1.1.0",
		Up:      sqliteV11Up,
		Down:    sqliteV11Down,
	},
}

const sqliteV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- One row per indexed bookmark, highlight or comment.
-- seq is the FTS rowid; id is the opaque entry identifier.
-- Timestamps are unix microseconds.
CREATE TABLE IF NOT EXISTS search_index (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    entity_type TEXT NOT NULL CHECK (entity_type IN ('bookmark', 'highlight', 'comment')),
    entity_id INTEGER NOT NULL,
    owner_user_id TEXT NOT NULL,
    content TEXT NOT NULL CHECK (length(content) > 0),
    embedding BLOB,
    source_url TEXT,
    source_domain TEXT,
    visibility TEXT CHECK (visibility IS NULL OR visibility IN ('private', 'friends', 'public')),
    title TEXT,
    body TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE(entity_type, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_search_index_owner ON search_index(owner_user_id);
CREATE INDEX IF NOT EXISTS idx_search_index_visibility ON search_index(visibility, owner_user_id);
CREATE INDEX IF NOT EXISTS idx_search_index_domain ON search_index(source_domain);
CREATE INDEX IF NOT EXISTS idx_search_index_created ON search_index(created_at);

-- Full-text search on content
CREATE VIRTUAL TABLE IF NOT EXISTS search_index_fts USING fts5(
    content,
    content='search_index',
    content_rowid='seq',
    tokenize='porter unicode61'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS search_index_ai AFTER INSERT ON search_index BEGIN
    INSERT INTO search_index_fts(rowid, content) VALUES (new.seq, new.content);
END;

CREATE TRIGGER IF NOT EXISTS search_index_ad AFTER DELETE ON search_index BEGIN
    INSERT INTO search_index_fts(search_index_fts, rowid, content) VALUES ('delete', old.seq, old.content);
END;

CREATE TRIGGER IF NOT EXISTS search_index_au AFTER UPDATE OF content ON search_index BEGIN
    INSERT INTO search_index_fts(search_index_fts, rowid, content) VALUES ('delete', old.seq, old.content);
    INSERT INTO search_index_fts(rowid, content) VALUES (new.seq, new.content);
END;
`

const sqliteV1Down = `
DROP TRIGGER IF EXISTS search_index_au;
DROP TRIGGER IF EXISTS search_index_ad;
DROP TRIGGER IF EXISTS search_index_ai;
DROP TABLE IF EXISTS search_index_fts;
DROP TABLE IF EXISTS search_index;
DROP TABLE IF EXISTS schema_version;
`

const sqliteV11Up = `
-- Semantic candidates only scan embedded rows
CREATE INDEX IF NOT EXISTS idx_search_index_embedded
    ON search_index(entity_type, created_at) WHERE embedding IS NOT NULL;
`

const sqliteV11Down = `
DROP INDEX IF EXISTS idx_search_index_embedded;
`

// migrator describes how a backend tracks applied versions
type migrator struct {
	migrations  []Migration
	tableExists string // query returning a row when schema_version exists
	insert      string
	remove      string
}

var sqliteMigrator = migrator{
	migrations:  SQLiteMigrations,
	tableExists: "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'",
	insert:      "INSERT INTO schema_version (version) VALUES (?)",
	remove:      "DELETE FROM schema_version WHERE version = ?",
}

// ApplyMigrations runs all pending SQLite migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	return sqliteMigrator.apply(ctx, db)
}

// RollbackMigration rolls back the most recent SQLite migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	return sqliteMigrator.rollback(ctx, db)
}

// currentVersion returns the highest applied version, or 0.0.0
func (m migrator) currentVersion(ctx context.Context, q querier) (*semver.Version, error) {
	var tableName string
	err := q.QueryRowContext(ctx, m.tableExists).Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := q.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", s, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

func (m migrator) apply(ctx context.Context, db *sql.DB) error {
	current, err := m.currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !current.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, m.insert, migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		current = migrationVersion
	}

	return nil
}

func (m migrator) rollback(ctx context.Context, db *sql.DB) error {
	current, err := m.currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range m.migrations {
		v, err := semver.NewVersion(m.migrations[i].Version)
		if err == nil && v.Equal(current) {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	// The first migration's Down drops schema_version itself
	if _, err := db.ExecContext(ctx, m.remove, migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}
	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	return nil
}
