package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/dshills/highlight-search/internal/extractor"
	"github.com/dshills/highlight-search/pkg/types"
)

// PostgresStorage implements the Storage interface on PostgreSQL with
// tsvector full-text search and pgvector embeddings.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage connects to dsn and applies migrations
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := ApplyPostgresMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &PostgresStorage{db: db}, nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tooling and tests
func (s *PostgresStorage) DB() *sql.DB {
	return s.db
}

// BeginTx starts a new transaction
func (s *PostgresStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx, storage: s}, nil
}

type postgresTx struct {
	tx      *sql.Tx
	storage *PostgresStorage
}

func (t *postgresTx) Commit() error {
	return t.tx.Commit()
}

func (t *postgresTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *postgresTx) querier() querier {
	return t.tx
}

func (s *PostgresStorage) querier() querier {
	return s.db
}

func (s *PostgresStorage) upsertEntryWithQuerier(ctx context.Context, q querier, rec types.IndexRecord) (*Entry, error) {
	if err := validateRecord(&rec); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO search_index (
			id, entity_type, entity_id, owner_user_id, content, source_url, source_domain,
			visibility, title, body, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			owner_user_id = EXCLUDED.owner_user_id,
			embedding = CASE WHEN search_index.content = EXCLUDED.content THEN search_index.embedding ELSE NULL END,
			content = EXCLUDED.content,
			source_url = EXCLUDED.source_url,
			source_domain = EXCLUDED.source_domain,
			visibility = EXCLUDED.visibility,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		uuid.New(), string(rec.EntityType), rec.EntityID, rec.OwnerUserID, rec.Content,
		nullString(rec.SourceURL), nullString(extractor.Domain(rec.SourceURL)),
		nullString(string(rec.Visibility)), nullString(rec.Title), nullString(rec.Body),
		rec.CreatedAt.UTC(), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert %s %d: %w", rec.EntityType, rec.EntityID, err)
	}

	return s.getEntryWithQuerier(ctx, q, rec.Key())
}

func (s *PostgresStorage) UpsertEntry(ctx context.Context, rec types.IndexRecord) (*Entry, error) {
	return s.upsertEntryWithQuerier(ctx, s.querier(), rec)
}

func (s *PostgresStorage) setEmbeddingWithQuerier(ctx context.Context, q querier, ref types.EntityRef, content string, vector []float32) (bool, error) {
	if err := validateVector(vector); err != nil {
		return false, err
	}

	res, err := q.ExecContext(ctx, `
		UPDATE search_index SET embedding = $1, updated_at = $2
		WHERE entity_type = $3 AND entity_id = $4 AND content = $5
	`, pgvector.NewVector(vector), time.Now().UTC(), string(ref.Type), ref.ID, strings.TrimSpace(content))
	if err != nil {
		return false, fmt.Errorf("failed to set embedding for %s %d: %w", ref.Type, ref.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStorage) SetEmbedding(ctx context.Context, ref types.EntityRef, content string, vector []float32) (bool, error) {
	return s.setEmbeddingWithQuerier(ctx, s.querier(), ref, content, vector)
}

func (s *PostgresStorage) deleteEntryWithQuerier(ctx context.Context, q querier, ref types.EntityRef) (bool, error) {
	res, err := q.ExecContext(ctx, "DELETE FROM search_index WHERE entity_type = $1 AND entity_id = $2", string(ref.Type), ref.ID)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %d: %w", ref.Type, ref.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStorage) DeleteEntry(ctx context.Context, ref types.EntityRef) (bool, error) {
	return s.deleteEntryWithQuerier(ctx, s.querier(), ref)
}

func (s *PostgresStorage) getEntryWithQuerier(ctx context.Context, q querier, ref types.EntityRef) (*Entry, error) {
	query := "SELECT " + entryColumns + " FROM search_index si WHERE si.entity_type = $1 AND si.entity_id = $2"
	entry, err := scanPostgresEntry(q.QueryRowContext(ctx, query, string(ref.Type), ref.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *PostgresStorage) GetEntry(ctx context.Context, ref types.EntityRef) (*Entry, error) {
	return s.getEntryWithQuerier(ctx, s.querier(), ref)
}

func (s *PostgresStorage) getEntriesWithQuerier(ctx context.Context, q querier, refs []types.EntityRef) (map[types.EntityRef]*Entry, error) {
	out := make(map[types.EntityRef]*Entry, len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	args := newQueryArgs(postgresDialect)
	cond := refsCondition(refs, func(c string) string { return "si." + c }, args)
	rows, err := q.QueryContext(ctx, "SELECT "+entryColumns+" FROM search_index si WHERE "+cond, args.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		entry, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, err
		}
		out[entry.Key()] = entry
	}
	return out, rows.Err()
}

func (s *PostgresStorage) GetEntries(ctx context.Context, refs []types.EntityRef) (map[types.EntityRef]*Entry, error) {
	return s.getEntriesWithQuerier(ctx, s.querier(), refs)
}

// searchLexicalWithQuerier matches every query term with plainto_tsquery
// and ranks with ts_rank.
func (s *PostgresStorage) searchLexicalWithQuerier(ctx context.Context, q querier, lq LexicalQuery) (*LexicalResult, error) {
	terms := queryTerms(lq.Text)
	if len(terms) == 0 {
		return &LexicalResult{Hits: []Hit{}}, nil
	}

	args := newQueryArgs(postgresDialect, strings.Join(terms, " "))
	where := "si.content_tsv @@ plainto_tsquery('english', $1)"
	for _, c := range filterConditions(lq.Filter, "si", args) {
		where += " AND " + c
	}
	from := " FROM search_index si WHERE " + where

	result := &LexicalResult{}
	if lq.Limit > 0 {
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*)"+from, args.args...).Scan(&result.Total); err != nil {
			return nil, fmt.Errorf("failed to count text matches: %w", err)
		}
		if result.Total == 0 {
			result.Hits = []Hit{}
			return result, nil
		}
	}

	query := "SELECT si.entity_type, si.entity_id, si.created_at, ts_rank(si.content_tsv, plainto_tsquery('english', $1)) AS score" + from
	if lq.SortBy == SortCreated {
		query += " ORDER BY si.created_at DESC, si.entity_type, si.entity_id"
	} else {
		query += " ORDER BY score DESC, si.created_at DESC, si.entity_type, si.entity_id"
	}
	if lq.Limit > 0 {
		query += " LIMIT " + args.bind(lq.Limit) + " OFFSET " + args.bind(lq.Offset)
	}

	rows, err := q.QueryContext(ctx, query, args.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute text search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]Hit, 0)
	for rows.Next() {
		var (
			h   Hit
			typ string
		)
		if err := rows.Scan(&typ, &h.Ref.ID, &h.CreatedAt, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan text result: %w", err)
		}
		h.Ref.Type = types.EntityType(typ)
		h.CreatedAt = h.CreatedAt.UTC()
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.Hits = hits
	if lq.Limit <= 0 {
		result.Total = len(hits)
	}
	return result, nil
}

func (s *PostgresStorage) SearchLexical(ctx context.Context, q LexicalQuery) (*LexicalResult, error) {
	return s.searchLexicalWithQuerier(ctx, s.querier(), q)
}

// searchSemanticWithQuerier ranks by pgvector cosine distance (<=>)
func (s *PostgresStorage) searchSemanticWithQuerier(ctx context.Context, q querier, sq SemanticQuery) ([]Hit, error) {
	if err := validateVector(sq.Vector); err != nil {
		return nil, err
	}
	if sq.Limit <= 0 {
		return []Hit{}, nil
	}

	args := newQueryArgs(postgresDialect, pgvector.NewVector(sq.Vector))
	query := `
		SELECT si.entity_type, si.entity_id, si.created_at, 1 - (si.embedding <=> $1) AS similarity
		FROM search_index si
		WHERE si.embedding IS NOT NULL
	`
	for _, c := range filterConditions(sq.Filter, "si", args) {
		query += " AND " + c
	}
	query += " AND 1 - (si.embedding <=> $1) >= " + args.bind(sq.MinSimilarity)
	query += " ORDER BY si.embedding <=> $1, si.created_at DESC, si.entity_type, si.entity_id LIMIT " + args.bind(sq.Limit)

	rows, err := q.QueryContext(ctx, query, args.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]Hit, 0, sq.Limit)
	for rows.Next() {
		var (
			h   Hit
			typ string
		)
		if err := rows.Scan(&typ, &h.Ref.ID, &h.CreatedAt, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		h.Ref.Type = types.EntityType(typ)
		h.CreatedAt = h.CreatedAt.UTC()
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PostgresStorage) SearchSemantic(ctx context.Context, q SemanticQuery) ([]Hit, error) {
	return s.searchSemanticWithQuerier(ctx, s.querier(), q)
}

func (s *PostgresStorage) getStatusWithQuerier(ctx context.Context, q querier) (*IndexStatus, error) {
	status := &IndexStatus{
		Driver:   "postgres",
		Entries:  make(map[types.EntityType]int),
		Embedded: make(map[types.EntityType]int),
	}

	version, err := postgresMigrator.currentVersion(ctx, q)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version.String()
	status.Health.DatabaseAccessible = true
	status.Health.FTSIndexBuilt = true
	status.Health.VectorSearch = "sql"

	rows, err := q.QueryContext(ctx, `
		SELECT entity_type, COUNT(*), COUNT(embedding), MAX(updated_at)
		FROM search_index GROUP BY entity_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			typ             string
			total, embedded int
			updated         sql.NullTime
		)
		if err := rows.Scan(&typ, &total, &embedded, &updated); err != nil {
			return nil, err
		}
		status.Entries[types.EntityType(typ)] = total
		status.Embedded[types.EntityType(typ)] = embedded
		status.Total += total
		status.TotalEmbedded += embedded
		if updated.Valid && updated.Time.After(status.LastIndexedAt) {
			status.LastIndexedAt = updated.Time.UTC()
		}
	}
	return status, rows.Err()
}

func (s *PostgresStorage) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

func scanPostgresEntry(r rowScanner) (*Entry, error) {
	var (
		e                                    Entry
		typ                                  string
		embedding                            *pgvector.Vector
		url, domain, visibility, title, body sql.NullString
	)
	err := r.Scan(&e.ID, &typ, &e.EntityID, &e.OwnerUserID, &e.Content, &embedding,
		&url, &domain, &visibility, &title, &body, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.EntityType = types.EntityType(typ)
	if embedding != nil {
		e.Embedding = embedding.Slice()
	}
	e.SourceURL = url.String
	e.Domain = domain.String
	e.Visibility = types.Visibility(visibility.String)
	e.Title = title.String
	e.Body = body.String
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

// Transaction methods delegate to the querier implementations

func (t *postgresTx) UpsertEntry(ctx context.Context, rec types.IndexRecord) (*Entry, error) {
	return t.storage.upsertEntryWithQuerier(ctx, t.querier(), rec)
}

func (t *postgresTx) SetEmbedding(ctx context.Context, ref types.EntityRef, content string, vector []float32) (bool, error) {
	return t.storage.setEmbeddingWithQuerier(ctx, t.querier(), ref, content, vector)
}

func (t *postgresTx) DeleteEntry(ctx context.Context, ref types.EntityRef) (bool, error) {
	return t.storage.deleteEntryWithQuerier(ctx, t.querier(), ref)
}

func (t *postgresTx) GetEntry(ctx context.Context, ref types.EntityRef) (*Entry, error) {
	return t.storage.getEntryWithQuerier(ctx, t.querier(), ref)
}

func (t *postgresTx) GetEntries(ctx context.Context, refs []types.EntityRef) (map[types.EntityRef]*Entry, error) {
	return t.storage.getEntriesWithQuerier(ctx, t.querier(), refs)
}

func (t *postgresTx) SearchLexical(ctx context.Context, q LexicalQuery) (*LexicalResult, error) {
	return t.storage.searchLexicalWithQuerier(ctx, t.querier(), q)
}

func (t *postgresTx) SearchSemantic(ctx context.Context, q SemanticQuery) ([]Hit, error) {
	return t.storage.searchSemanticWithQuerier(ctx, t.querier(), q)
}

func (t *postgresTx) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *postgresTx) Close() error {
	return nil
}

func (t *postgresTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}
