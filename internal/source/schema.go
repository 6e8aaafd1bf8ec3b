package source

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteSchema is the layout SQLSource reads, as SQLite DDL. Production
// databases own their schema; this one backs local development and tests.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS bookmarks (
	id INTEGER PRIMARY KEY,
	user_id TEXT NOT NULL,
	url TEXT,
	title TEXT,
	description TEXT,
	site_name TEXT,
	visibility TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS highlights (
	id INTEGER PRIMARY KEY,
	user_id TEXT NOT NULL,
	bookmark_id INTEGER REFERENCES bookmarks(id),
	url TEXT,
	text TEXT,
	visibility TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS comments (
	id INTEGER PRIMARY KEY,
	user_id TEXT NOT NULL,
	highlight_id INTEGER NOT NULL REFERENCES highlights(id),
	body TEXT,
	deleted_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comments_highlight ON comments(highlight_id);

CREATE TABLE IF NOT EXISTS friendships (
	user_id TEXT NOT NULL,
	friend_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	PRIMARY KEY (user_id, friend_id)
);

CREATE TABLE IF NOT EXISTS bookmark_tags (
	bookmark_id INTEGER NOT NULL REFERENCES bookmarks(id),
	tag_id INTEGER NOT NULL,
	PRIMARY KEY (bookmark_id, tag_id)
);
`

// CreateSQLiteSchema creates the source tables if they do not exist
func CreateSQLiteSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		return fmt.Errorf("create source schema: %w", err)
	}
	return nil
}
