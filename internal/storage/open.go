package storage

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by Open
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and locates the index database
type Config struct {
	Backend string // sqlite or postgres
	Path    string // SQLite file path or ":memory:"
	DSN     string // PostgreSQL connection string
}

// Open creates the storage backend named by cfg and applies migrations
func Open(ctx context.Context, cfg Config) (Storage, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		return NewSQLiteStorage(cfg.Path)
	case BackendPostgres, "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		return NewPostgresStorage(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
