package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/highlight-search/internal/access"
	"github.com/dshills/highlight-search/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entry doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrNestedTx is returned when BeginTx is called on a transaction
	ErrNestedTx = errors.New("nested transactions not supported")
)

// Storage persists the search index and answers candidate queries
type Storage interface {
	// Entry operations
	UpsertEntry(ctx context.Context, rec types.IndexRecord) (*Entry, error)
	SetEmbedding(ctx context.Context, ref types.EntityRef, content string, vector []float32) (bool, error)
	DeleteEntry(ctx context.Context, ref types.EntityRef) (bool, error)
	GetEntry(ctx context.Context, ref types.EntityRef) (*Entry, error)
	GetEntries(ctx context.Context, refs []types.EntityRef) (map[types.EntityRef]*Entry, error)

	// Search operations
	SearchLexical(ctx context.Context, q LexicalQuery) (*LexicalResult, error)
	SearchSemantic(ctx context.Context, q SemanticQuery) ([]Hit, error)

	// Status operations
	GetStatus(ctx context.Context) (*IndexStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Entry is a stored index row
type Entry struct {
	ID string // opaque, index-internal
	types.IndexRecord
	Domain    string
	Embedding []float32 // nil when no embedding is stored
	UpdatedAt time.Time
}

// HasEmbedding reports whether the entry carries a vector
func (e *Entry) HasEmbedding() bool {
	return len(e.Embedding) > 0
}

// SortOrder selects result ordering for lexical queries
type SortOrder string

const (
	SortRelevance SortOrder = "relevance"
	SortCreated   SortOrder = "created"
)

// Filter narrows candidates structurally. Access is always applied.
type Filter struct {
	Access access.Filter
	Types  []types.EntityType

	// Refs restricts results to the listed entities when RestrictRefs is set.
	// An empty list with RestrictRefs matches nothing.
	Refs         []types.EntityRef
	RestrictRefs bool

	Domain     string // compared against the normalized source domain
	URLPattern string // '*' matches any run of characters; otherwise exact
	After      *time.Time
	Before     *time.Time
}

// LexicalQuery is a full-text candidate query
type LexicalQuery struct {
	Text   string
	Filter Filter
	SortBy SortOrder

	// Limit <= 0 returns every match
	Limit  int
	Offset int
}

// LexicalResult holds one page of lexical hits and the total match count
type LexicalResult struct {
	Hits  []Hit
	Total int
}

// SemanticQuery is a vector similarity candidate query
type SemanticQuery struct {
	Vector        []float32
	Filter        Filter
	MinSimilarity float64
	Limit         int
}

// Hit is a ranked candidate. Score is a normalized BM25 score for lexical
// hits and cosine similarity for semantic hits; higher is better.
type Hit struct {
	Ref       types.EntityRef
	Score     float64
	CreatedAt time.Time
}

// IndexStatus contains statistics about the index
type IndexStatus struct {
	Driver        string
	SchemaVersion string
	Entries       map[types.EntityType]int
	Embedded      map[types.EntityType]int
	Total         int
	TotalEmbedded int
	LastIndexedAt time.Time
	Health        HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible bool
	FTSIndexBuilt      bool
	VectorSearch       string // "sql" or "go"
}
