// Package storage persists the search index and answers candidate queries.
//
// One row is kept per source entity, keyed by (entity_type, entity_id). Each
// row carries the extracted content, an optional embedding, display fields
// and the owner/visibility pair used for access filtering.
//
// # Backends
//
// SQLiteStorage stores rows in search_index with an FTS5 external-content
// table (search_index_fts) kept in sync by triggers. Embeddings are
// little-endian float32 BLOBs. PostgresStorage uses a generated tsvector
// column with a GIN index and a pgvector VECTOR(1536) column with an ivfflat
// index. Open selects a backend from Config.
//
// # Basic Usage
//
//	s, err := storage.Open(ctx, storage.Config{Backend: "sqlite", Path: "index.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	entry, err := s.UpsertEntry(ctx, rec)
//	ok, err := s.SetEmbedding(ctx, rec.Key(), rec.Content, vector)
//
// An upsert that changes content clears the stored embedding. SetEmbedding
// only writes when the row still holds the content the vector was computed
// from, so a slow embedding never overwrites a newer edit.
//
// # Queries
//
// Every query carries a Filter. Its access clause is always applied in SQL,
// before ordering and pagination, so totals and pages only ever count rows
// the caller may see:
//
//	res, err := s.SearchLexical(ctx, storage.LexicalQuery{
//	    Text:   "paul graham",
//	    Filter: storage.Filter{Access: acl, Domain: "paulgraham.com"},
//	    Limit:  20,
//	})
//	// res.Total counts every match, res.Hits holds one page
//
// Lexical queries require every term. Terms are letter/digit runs quoted
// before they reach the FTS engine, so query syntax in user input is inert.
//
// SearchSemantic ranks embedded rows by cosine similarity and drops those
// under MinSimilarity.
//
// # Build Tags
//
// CGO build (sqlite_vec tag) uses github.com/mattn/go-sqlite3 and ranks
// vectors in SQL with vec_distance_cosine:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go build (purego tag) uses modernc.org/sqlite and computes cosine
// similarity in Go:
//
//	CGO_ENABLED=0 go build -tags "purego"
//
// # Migrations
//
// Schema versions are semver strings recorded in schema_version. ApplyMigrations
// and ApplyPostgresMigrations run pending versions in order; the Rollback
// variants undo the newest one.
package storage
