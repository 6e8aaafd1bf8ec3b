package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/highlight-search/internal/extractor"
	"github.com/dshills/highlight-search/pkg/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tooling and tests
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

const entryColumns = `si.id, si.entity_type, si.entity_id, si.owner_user_id, si.content, si.embedding,
	si.source_url, si.source_domain, si.visibility, si.title, si.body, si.created_at, si.updated_at`

// validateRecord checks writer input before it reaches the database
func validateRecord(rec *types.IndexRecord) error {
	if !rec.EntityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", types.ErrValidation, rec.EntityType)
	}
	if !rec.Visibility.Valid() {
		return fmt.Errorf("%w: unknown visibility %q", types.ErrValidation, rec.Visibility)
	}
	rec.Content = strings.TrimSpace(rec.Content)
	if rec.Content == "" {
		return fmt.Errorf("%s %d: %w", rec.EntityType, rec.EntityID, types.ErrEmptyContent)
	}
	return nil
}

// Entry operations

// upsertEntryWithQuerier is the internal implementation that uses a querier.
// A content change clears the stored embedding since it described the old text.
func (s *SQLiteStorage) upsertEntryWithQuerier(ctx context.Context, q querier, rec types.IndexRecord) (*Entry, error) {
	if err := validateRecord(&rec); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO search_index (
			id, entity_type, entity_id, owner_user_id, content, source_url, source_domain,
			visibility, title, body, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			owner_user_id = excluded.owner_user_id,
			embedding = CASE WHEN search_index.content = excluded.content THEN search_index.embedding ELSE NULL END,
			content = excluded.content,
			source_url = excluded.source_url,
			source_domain = excluded.source_domain,
			visibility = excluded.visibility,
			title = excluded.title,
			body = excluded.body,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, query,
		uuid.NewString(), string(rec.EntityType), rec.EntityID, rec.OwnerUserID, rec.Content,
		nullString(rec.SourceURL), nullString(extractor.Domain(rec.SourceURL)),
		nullString(string(rec.Visibility)), nullString(rec.Title), nullString(rec.Body),
		rec.CreatedAt.UTC().UnixMicro(), now.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert %s %d: %w", rec.EntityType, rec.EntityID, err)
	}

	return s.getEntryWithQuerier(ctx, q, rec.Key())
}

func (s *SQLiteStorage) UpsertEntry(ctx context.Context, rec types.IndexRecord) (*Entry, error) {
	return s.upsertEntryWithQuerier(ctx, s.querier(), rec)
}

// setEmbeddingWithQuerier stores vector only if the row still holds content.
// It reports whether a row was updated.
func (s *SQLiteStorage) setEmbeddingWithQuerier(ctx context.Context, q querier, ref types.EntityRef, content string, vector []float32) (bool, error) {
	if err := validateVector(vector); err != nil {
		return false, err
	}

	res, err := q.ExecContext(ctx, `
		UPDATE search_index SET embedding = ?, updated_at = ?
		WHERE entity_type = ? AND entity_id = ? AND content = ?
	`, serializeVector(vector), time.Now().UTC().UnixMicro(), string(ref.Type), ref.ID, strings.TrimSpace(content))
	if err != nil {
		return false, fmt.Errorf("failed to set embedding for %s %d: %w", ref.Type, ref.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStorage) SetEmbedding(ctx context.Context, ref types.EntityRef, content string, vector []float32) (bool, error) {
	return s.setEmbeddingWithQuerier(ctx, s.querier(), ref, content, vector)
}

func (s *SQLiteStorage) deleteEntryWithQuerier(ctx context.Context, q querier, ref types.EntityRef) (bool, error) {
	res, err := q.ExecContext(ctx, "DELETE FROM search_index WHERE entity_type = ? AND entity_id = ?", string(ref.Type), ref.ID)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %d: %w", ref.Type, ref.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStorage) DeleteEntry(ctx context.Context, ref types.EntityRef) (bool, error) {
	return s.deleteEntryWithQuerier(ctx, s.querier(), ref)
}

func (s *SQLiteStorage) getEntryWithQuerier(ctx context.Context, q querier, ref types.EntityRef) (*Entry, error) {
	query := "SELECT " + entryColumns + " FROM search_index si WHERE si.entity_type = ? AND si.entity_id = ?"
	entry, err := scanSQLiteEntry(q.QueryRowContext(ctx, query, string(ref.Type), ref.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *SQLiteStorage) GetEntry(ctx context.Context, ref types.EntityRef) (*Entry, error) {
	return s.getEntryWithQuerier(ctx, s.querier(), ref)
}

func (s *SQLiteStorage) getEntriesWithQuerier(ctx context.Context, q querier, refs []types.EntityRef) (map[types.EntityRef]*Entry, error) {
	out := make(map[types.EntityRef]*Entry, len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	args := newQueryArgs(sqliteDialect)
	cond := refsCondition(refs, func(c string) string { return "si." + c }, args)
	rows, err := q.QueryContext(ctx, "SELECT "+entryColumns+" FROM search_index si WHERE "+cond, args.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		entry, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out[entry.Key()] = entry
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) GetEntries(ctx context.Context, refs []types.EntityRef) (map[types.EntityRef]*Entry, error) {
	return s.getEntriesWithQuerier(ctx, s.querier(), refs)
}

// Search operations

func (s *SQLiteStorage) searchLexicalWithQuerier(ctx context.Context, q querier, lq LexicalQuery) (*LexicalResult, error) {
	match := ftsMatchQuery(lq.Text)
	if match == "" {
		return &LexicalResult{Hits: []Hit{}}, nil
	}

	args := newQueryArgs(sqliteDialect, match)
	where := "search_index_fts MATCH ?"
	for _, c := range filterConditions(lq.Filter, "si", args) {
		where += " AND " + c
	}
	from := " FROM search_index_fts INNER JOIN search_index si ON si.seq = search_index_fts.rowid WHERE " + where

	result := &LexicalResult{}
	if lq.Limit > 0 {
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*)"+from, args.args...).Scan(&result.Total); err != nil {
			return nil, fmt.Errorf("failed to count FTS matches: %w", err)
		}
		if result.Total == 0 {
			result.Hits = []Hit{}
			return result, nil
		}
	}

	query := "SELECT si.entity_type, si.entity_id, si.created_at, bm25(search_index_fts) AS score" + from
	if lq.SortBy == SortCreated {
		query += " ORDER BY si.created_at DESC, si.entity_type, si.entity_id"
	} else {
		query += " ORDER BY score, si.created_at DESC, si.entity_type, si.entity_id"
	}
	pageArgs := args.args
	if lq.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		pageArgs = append(pageArgs, lq.Limit, lq.Offset)
	}

	rows, err := q.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]Hit, 0)
	for rows.Next() {
		var (
			h       Hit
			typ     string
			created int64
			bm25    float64
		)
		if err := rows.Scan(&typ, &h.Ref.ID, &created, &bm25); err != nil {
			return nil, fmt.Errorf("failed to scan FTS result: %w", err)
		}
		h.Ref.Type = types.EntityType(typ)
		h.CreatedAt = time.UnixMicro(created).UTC()
		h.Score = normalizeBM25(bm25)
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

func (s *SQLiteStorage) SearchLexical(ctx context.Context, q LexicalQuery) (*LexicalResult, error) {
	return s.searchLexicalWithQuerier(ctx, s.querier(), q)
}

func (s *SQLiteStorage) searchSemanticWithQuerier(ctx context.Context, q querier, sq SemanticQuery) ([]Hit, error) {
	if err := validateVector(sq.Vector); err != nil {
		return nil, err
	}
	if sq.Limit <= 0 {
		return []Hit{}, nil
	}

	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, q, sq)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, q, sq)
}

func (s *SQLiteStorage) SearchSemantic(ctx context.Context, q SemanticQuery) ([]Hit, error) {
	return s.searchSemanticWithQuerier(ctx, s.querier(), q)
}

// searchVectorOptimized uses the sqlite-vec extension to rank in SQL.
// vec_distance_cosine returns a distance; similarity is 1 - distance.
func searchVectorOptimized(ctx context.Context, q querier, sq SemanticQuery) ([]Hit, error) {
	blob := serializeVector(sq.Vector)
	args := newQueryArgs(sqliteDialect, blob)

	query := `
		SELECT si.entity_type, si.entity_id, si.created_at,
			1.0 - vec_distance_cosine(si.embedding, ?) AS similarity
		FROM search_index si
		WHERE si.embedding IS NOT NULL
	`
	for _, c := range filterConditions(sq.Filter, "si", args) {
		query += " AND " + c
	}
	query += " AND (1.0 - vec_distance_cosine(si.embedding, " + args.bind(blob) + ")) >= " + args.bind(sq.MinSimilarity)
	query += " ORDER BY similarity DESC, si.created_at DESC, si.entity_type, si.entity_id LIMIT " + args.bind(sq.Limit)

	rows, err := q.QueryContext(ctx, query, args.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]Hit, 0, sq.Limit)
	for rows.Next() {
		var (
			h       Hit
			typ     string
			created int64
		)
		if err := rows.Scan(&typ, &h.Ref.ID, &created, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		h.Ref.Type = types.EntityType(typ)
		h.CreatedAt = time.UnixMicro(created).UTC()
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// searchVectorFallback computes cosine similarity in Go.
// This is used when sqlite-vec extension is not available (purego builds)
func searchVectorFallback(ctx context.Context, q querier, sq SemanticQuery) ([]Hit, error) {
	args := newQueryArgs(sqliteDialect)
	query := "SELECT si.entity_type, si.entity_id, si.created_at, si.embedding FROM search_index si WHERE si.embedding IS NOT NULL"
	for _, c := range filterConditions(sq.Filter, "si", args) {
		query += " AND " + c
	}

	rows, err := q.QueryContext(ctx, query, args.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]Hit, 0)
	for rows.Next() {
		var (
			h       Hit
			typ     string
			created int64
			blob    []byte
		)
		if err := rows.Scan(&typ, &h.Ref.ID, &created, &blob); err != nil {
			return nil, err
		}

		vector := deserializeVector(blob)
		if len(vector) != len(sq.Vector) {
			continue // Dimension mismatch, skip
		}

		h.Score = cosineSimilarity(sq.Vector, vector)
		if h.Score < sq.MinSimilarity {
			continue
		}
		h.Ref.Type = types.EntityType(typ)
		h.CreatedAt = time.UnixMicro(created).UTC()
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortHits(hits)
	if len(hits) > sq.Limit {
		hits = hits[:sq.Limit]
	}
	return hits, nil
}

// Status operations

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*IndexStatus, error) {
	status := &IndexStatus{
		Driver:   DriverName,
		Entries:  make(map[types.EntityType]int),
		Embedded: make(map[types.EntityType]int),
	}

	version, err := sqliteMigrator.currentVersion(ctx, q)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version.String()
	status.Health.DatabaseAccessible = true

	rows, err := q.QueryContext(ctx, `
		SELECT entity_type, COUNT(*), COUNT(embedding), COALESCE(MAX(updated_at), 0)
		FROM search_index GROUP BY entity_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var last int64
	for rows.Next() {
		var (
			typ             string
			total, embedded int
			updated         int64
		)
		if err := rows.Scan(&typ, &total, &embedded, &updated); err != nil {
			return nil, err
		}
		status.Entries[types.EntityType(typ)] = total
		status.Embedded[types.EntityType(typ)] = embedded
		status.Total += total
		status.TotalEmbedded += embedded
		if updated > last {
			last = updated
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if last > 0 {
		status.LastIndexedAt = time.UnixMicro(last).UTC()
	}

	var name string
	err = q.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE name = 'search_index_fts'").Scan(&name)
	status.Health.FTSIndexBuilt = err == nil

	status.Health.VectorSearch = "go"
	if VectorExtensionAvailable {
		status.Health.VectorSearch = "sql"
	}

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// rowScanner is implemented by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(r rowScanner) (*Entry, error) {
	var (
		e                                    Entry
		typ                                  string
		embedding                            []byte
		url, domain, visibility, title, body sql.NullString
		created, updated                     int64
	)
	err := r.Scan(&e.ID, &typ, &e.EntityID, &e.OwnerUserID, &e.Content, &embedding,
		&url, &domain, &visibility, &title, &body, &created, &updated)
	if err != nil {
		return nil, err
	}

	e.EntityType = types.EntityType(typ)
	e.Embedding = deserializeVector(embedding)
	e.SourceURL = url.String
	e.Domain = domain.String
	e.Visibility = types.Visibility(visibility.String)
	e.Title = title.String
	e.Body = body.String
	e.CreatedAt = time.UnixMicro(created).UTC()
	e.UpdatedAt = time.UnixMicro(updated).UTC()
	return &e, nil
}

// nullString maps "" to NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Transaction methods delegate to the querier implementations

func (t *sqliteTx) UpsertEntry(ctx context.Context, rec types.IndexRecord) (*Entry, error) {
	return t.storage.upsertEntryWithQuerier(ctx, t.querier(), rec)
}

func (t *sqliteTx) SetEmbedding(ctx context.Context, ref types.EntityRef, content string, vector []float32) (bool, error) {
	return t.storage.setEmbeddingWithQuerier(ctx, t.querier(), ref, content, vector)
}

func (t *sqliteTx) DeleteEntry(ctx context.Context, ref types.EntityRef) (bool, error) {
	return t.storage.deleteEntryWithQuerier(ctx, t.querier(), ref)
}

func (t *sqliteTx) GetEntry(ctx context.Context, ref types.EntityRef) (*Entry, error) {
	return t.storage.getEntryWithQuerier(ctx, t.querier(), ref)
}

func (t *sqliteTx) GetEntries(ctx context.Context, refs []types.EntityRef) (map[types.EntityRef]*Entry, error) {
	return t.storage.getEntriesWithQuerier(ctx, t.querier(), refs)
}

func (t *sqliteTx) SearchLexical(ctx context.Context, q LexicalQuery) (*LexicalResult, error) {
	return t.storage.searchLexicalWithQuerier(ctx, t.querier(), q)
}

func (t *sqliteTx) SearchSemantic(ctx context.Context, q SemanticQuery) ([]Hit, error) {
	return t.storage.searchSemanticWithQuerier(ctx, t.querier(), q)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}
