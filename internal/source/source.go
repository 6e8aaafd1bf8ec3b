// Package source reads the source-of-truth tables the index is derived from.
//
// The index never writes these tables. Backfill enumerates them in primary
// key order, the query engine asks for friendships and tag members, and the
// reconciler looks up a highlight's comments.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/dshills/highlight-search/pkg/types"
)

// Lister pages through one source table in ascending primary key order.
// An empty page means the table is exhausted.
type Lister[T types.SourceRecord] interface {
	ListAfter(ctx context.Context, cursor int64, limit int) ([]T, error)
}

// HighlightLookup resolves highlights by id. Missing ids are absent from the map.
type HighlightLookup interface {
	HighlightsByID(ctx context.Context, ids []int64) (map[int64]types.Highlight, error)
}

// RecordLookup loads the current state of one source row. found is false
// when the row no longer exists. A comment comes back with its inherited
// fields set, and counts as missing when its highlight is gone.
type RecordLookup interface {
	LookupRecord(ctx context.Context, ref types.EntityRef) (rec types.SourceRecord, found bool, err error)
}

// FriendGraph answers friendship questions. Friendships are symmetric and
// only accepted ones count.
type FriendGraph interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
	IsFriend(ctx context.Context, userA, userB string) (bool, error)
}

// TagLookup lists the entities a tag applies to: the tagged bookmarks, their
// highlights and the comments on those highlights.
type TagLookup interface {
	EntitiesForTag(ctx context.Context, tagID int64) ([]types.EntityRef, error)
}

// SQLSource implements every collaborator over database/sql. It expects the
// tables bookmarks, highlights, comments, friendships and bookmark_tags.
type SQLSource struct {
	db       *sql.DB
	numbered bool // $n placeholders
}

// NewSQLSource wraps db. driver selects the placeholder style; "postgres"
// uses $n, everything else uses ?.
func NewSQLSource(db *sql.DB, driver string) *SQLSource {
	return &SQLSource{db: db, numbered: driver == "postgres" || driver == "pgx"}
}

// Open opens the source database with the given driver and DSN
func Open(ctx context.Context, driver, dsn string) (*SQLSource, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open source database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping source database: %w", err)
	}
	return NewSQLSource(db, driver), nil
}

// Close closes the database
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders for numbered dialects
func (s *SQLSource) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Bookmarks returns a lister over the bookmarks table
func (s *SQLSource) Bookmarks() Lister[types.Bookmark] { return bookmarkLister{s} }

// Highlights returns a lister over the highlights table
func (s *SQLSource) Highlights() Lister[types.Highlight] { return highlightLister{s} }

// Comments returns a lister over the comments table. Comments come back
// without inherited fields; use HighlightsByID and Comment.Inherit.
func (s *SQLSource) Comments() Lister[types.Comment] { return commentLister{s} }

type bookmarkLister struct{ s *SQLSource }

const bookmarkColumns = "id, user_id, url, title, description, site_name, visibility, created_at"

func (l bookmarkLister) ListAfter(ctx context.Context, cursor int64, limit int) ([]types.Bookmark, error) {
	rows, err := l.s.db.QueryContext(ctx, l.s.rebind(
		"SELECT "+bookmarkColumns+" FROM bookmarks WHERE id > ? ORDER BY id LIMIT ?",
	), cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks after %d: %w", cursor, err)
	}
	defer func() { _ = rows.Close() }()
	return scanBookmarks(rows, limit)
}

func scanBookmarks(rows *sql.Rows, capacity int) ([]types.Bookmark, error) {
	out := make([]types.Bookmark, 0, capacity)
	for rows.Next() {
		var (
			b                                  types.Bookmark
			url, title, desc, site, visibility sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.UserID, &url, &title, &desc, &site, &visibility, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		b.URL, b.Title, b.Description, b.SiteName = url.String, title.String, desc.String, site.String
		b.Visibility = types.ParseVisibility(visibility.String)
		out = append(out, b)
	}
	return out, rows.Err()
}

type highlightLister struct{ s *SQLSource }

const highlightColumns = "id, user_id, bookmark_id, url, text, visibility, created_at"

func (l highlightLister) ListAfter(ctx context.Context, cursor int64, limit int) ([]types.Highlight, error) {
	rows, err := l.s.db.QueryContext(ctx, l.s.rebind(
		"SELECT "+highlightColumns+" FROM highlights WHERE id > ? ORDER BY id LIMIT ?",
	), cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list highlights after %d: %w", cursor, err)
	}
	defer func() { _ = rows.Close() }()
	return scanHighlights(rows, limit)
}

func scanHighlights(rows *sql.Rows, capacity int) ([]types.Highlight, error) {
	out := make([]types.Highlight, 0, capacity)
	for rows.Next() {
		var (
			h                     types.Highlight
			bookmarkID            sql.NullInt64
			url, text, visibility sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.UserID, &bookmarkID, &url, &text, &visibility, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan highlight: %w", err)
		}
		if bookmarkID.Valid {
			id := bookmarkID.Int64
			h.BookmarkID = &id
		}
		h.URL, h.Text = url.String, text.String
		h.Visibility = types.ParseVisibility(visibility.String)
		out = append(out, h)
	}
	return out, rows.Err()
}

type commentLister struct{ s *SQLSource }

const commentColumns = "id, user_id, highlight_id, body, deleted_at, created_at"

func (l commentLister) ListAfter(ctx context.Context, cursor int64, limit int) ([]types.Comment, error) {
	rows, err := l.s.db.QueryContext(ctx, l.s.rebind(
		"SELECT "+commentColumns+" FROM comments WHERE id > ? ORDER BY id LIMIT ?",
	), cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list comments after %d: %w", cursor, err)
	}
	defer func() { _ = rows.Close() }()
	return scanComments(rows, limit)
}

func scanComments(rows *sql.Rows, capacity int) ([]types.Comment, error) {
	out := make([]types.Comment, 0, capacity)
	for rows.Next() {
		var (
			c       types.Comment
			body    sql.NullString
			deleted sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.HighlightID, &body, &deleted, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.Body = body.String
		if deleted.Valid {
			t := deleted.Time
			c.DeletedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// HighlightsByID implements HighlightLookup
func (s *SQLSource) HighlightsByID(ctx context.Context, ids []int64) (map[int64]types.Highlight, error) {
	out := make(map[int64]types.Highlight, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "SELECT " + highlightColumns + " FROM highlights WHERE id IN (" + placeholders(len(ids)) + ")"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("load highlights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	highlights, err := scanHighlights(rows, len(ids))
	if err != nil {
		return nil, err
	}
	for _, h := range highlights {
		out[h.ID] = h
	}
	return out, nil
}

// CommentsForHighlight returns every comment on a highlight, soft-deleted
// ones included so callers can drop their index rows. Inherited fields are
// left empty.
func (s *SQLSource) CommentsForHighlight(ctx context.Context, highlightID int64) ([]types.Comment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT "+commentColumns+" FROM comments WHERE highlight_id = ? ORDER BY id",
	), highlightID)
	if err != nil {
		return nil, fmt.Errorf("list comments of highlight %d: %w", highlightID, err)
	}
	defer func() { _ = rows.Close() }()
	return scanComments(rows, 0)
}

// LookupRecord implements RecordLookup
func (s *SQLSource) LookupRecord(ctx context.Context, ref types.EntityRef) (types.SourceRecord, bool, error) {
	switch ref.Type {
	case types.EntityBookmark:
		rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+bookmarkColumns+" FROM bookmarks WHERE id = ?"), ref.ID)
		if err != nil {
			return nil, false, fmt.Errorf("load bookmark %d: %w", ref.ID, err)
		}
		defer func() { _ = rows.Close() }()
		found, err := scanBookmarks(rows, 1)
		if err != nil || len(found) == 0 {
			return nil, false, err
		}
		return found[0], true, nil

	case types.EntityHighlight:
		byID, err := s.HighlightsByID(ctx, []int64{ref.ID})
		if err != nil {
			return nil, false, err
		}
		h, ok := byID[ref.ID]
		if !ok {
			return nil, false, nil
		}
		return h, true, nil

	case types.EntityComment:
		rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+commentColumns+" FROM comments WHERE id = ?"), ref.ID)
		if err != nil {
			return nil, false, fmt.Errorf("load comment %d: %w", ref.ID, err)
		}
		defer func() { _ = rows.Close() }()
		found, err := scanComments(rows, 1)
		if err != nil || len(found) == 0 {
			return nil, false, err
		}
		c := found[0]
		byID, err := s.HighlightsByID(ctx, []int64{c.HighlightID})
		if err != nil {
			return nil, false, err
		}
		h, ok := byID[c.HighlightID]
		if !ok {
			return nil, false, nil
		}
		return c.Inherit(h), true, nil
	}
	return nil, false, fmt.Errorf("%w: unknown entity type %q", types.ErrValidation, ref.Type)
}

// FriendIDs implements FriendGraph
func (s *SQLSource) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT friend_id FROM friendships WHERE user_id = ? AND status = 'accepted'
		UNION
		SELECT user_id FROM friendships WHERE friend_id = ? AND status = 'accepted'
	`), userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends of %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsFriend implements FriendGraph
func (s *SQLSource) IsFriend(ctx context.Context, userA, userB string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM friendships
		WHERE status = 'accepted'
		  AND ((user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?))
	`), userA, userB, userB, userA).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check friendship %s/%s: %w", userA, userB, err)
	}
	return n > 0, nil
}

// EntitiesForTag implements TagLookup
func (s *SQLSource) EntitiesForTag(ctx context.Context, tagID int64) ([]types.EntityRef, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT 'bookmark', bt.bookmark_id FROM bookmark_tags bt WHERE bt.tag_id = ?
		UNION ALL
		SELECT 'highlight', h.id FROM highlights h
			JOIN bookmark_tags bt ON bt.bookmark_id = h.bookmark_id WHERE bt.tag_id = ?
		UNION ALL
		SELECT 'comment', c.id FROM comments c
			JOIN highlights h ON h.id = c.highlight_id
			JOIN bookmark_tags bt ON bt.bookmark_id = h.bookmark_id WHERE bt.tag_id = ?
	`), tagID, tagID, tagID)
	if err != nil {
		return nil, fmt.Errorf("list entities for tag %d: %w", tagID, err)
	}
	defer func() { _ = rows.Close() }()

	refs := make([]types.EntityRef, 0)
	for rows.Next() {
		var (
			typ string
			ref types.EntityRef
		)
		if err := rows.Scan(&typ, &ref.ID); err != nil {
			return nil, err
		}
		ref.Type = types.EntityType(typ)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
