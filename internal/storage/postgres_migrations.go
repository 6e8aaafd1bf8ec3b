package storage

import (
	"context"
	"database/sql"
)

// PostgresMigrations contains the PostgreSQL schema migrations in order
var PostgresMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      postgresV1Up,
		Down:    postgresV1Down,
	},
	{
		Version: "1.1.0",
		Up:      postgresV11Up,
		Down:    postgresV11Down,
	},
}

const postgresV1Up = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS search_index (
    id UUID PRIMARY KEY,
    entity_type TEXT NOT NULL CHECK (entity_type IN ('bookmark', 'highlight', 'comment')),
    entity_id BIGINT NOT NULL,
    owner_user_id TEXT NOT NULL,
    content TEXT NOT NULL CHECK (length(content) > 0),
    content_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
    embedding VECTOR(1536),
    source_url TEXT,
    source_domain TEXT,
    visibility TEXT CHECK (visibility IS NULL OR visibility IN ('private', 'friends', 'public')),
    title TEXT,
    body TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE (entity_type, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_search_index_tsv ON search_index USING GIN (content_tsv);
CREATE INDEX IF NOT EXISTS idx_search_index_owner ON search_index (owner_user_id);
CREATE INDEX IF NOT EXISTS idx_search_index_visibility ON search_index (visibility, owner_user_id);
CREATE INDEX IF NOT EXISTS idx_search_index_domain ON search_index (source_domain);
CREATE INDEX IF NOT EXISTS idx_search_index_created ON search_index (created_at);
`

const postgresV1Down = `
DROP TABLE IF EXISTS search_index;
DROP TABLE IF EXISTS schema_version;
`

const postgresV11Up = `
CREATE INDEX IF NOT EXISTS idx_search_index_embedding
    ON search_index USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`

const postgresV11Down = `
DROP INDEX IF EXISTS idx_search_index_embedding;
`

var postgresMigrator = migrator{
	migrations:  PostgresMigrations,
	tableExists: "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = 'schema_version'",
	insert:      "INSERT INTO schema_version (version) VALUES ($1)",
	remove:      "DELETE FROM schema_version WHERE version = $1",
}

// ApplyPostgresMigrations runs all pending PostgreSQL migrations
func ApplyPostgresMigrations(ctx context.Context, db *sql.DB) error {
	return postgresMigrator.apply(ctx, db)
}

// RollbackPostgresMigration rolls back the most recent PostgreSQL migration
func RollbackPostgresMigration(ctx context.Context, db *sql.DB) error {
	return postgresMigrator.rollback(ctx, db)
}
