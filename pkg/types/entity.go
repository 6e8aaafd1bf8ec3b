package types

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies which source table an index row was derived from
type EntityType string

const (
	EntityBookmark  EntityType = "bookmark"
	EntityHighlight EntityType = "highlight"
	EntityComment   EntityType = "comment"
)

// AllEntityTypes lists every indexable entity type in a stable order
var AllEntityTypes = []EntityType{EntityBookmark, EntityHighlight, EntityComment}

// Valid reports whether t is a known entity type
func (t EntityType) Valid() bool {
	switch t {
	case EntityBookmark, EntityHighlight, EntityComment:
		return true
	}
	return false
}

// ParseEntityType parses a case-insensitive entity type name
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// ParseEntityTypes parses a comma-separated list of entity type names
func ParseEntityTypes(s string) ([]EntityType, error) {
	var out []EntityType
	for _, part := range strings.Split(s, ",") {
		t, err := ParseEntityType(part)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Visibility is the access tier copied from the source entity at index time.
// The zero value means the source carried no visibility and is treated as private.
type Visibility string

const (
	VisibilityUnset   Visibility = ""
	VisibilityPrivate Visibility = "private"
	VisibilityFriends Visibility = "friends"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is unset or one of the known tiers
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityUnset, VisibilityPrivate, VisibilityFriends, VisibilityPublic:
		return true
	}
	return false
}

// ParseVisibility maps a stored value onto a tier. Case and surrounding
// space are ignored. Blank stays unset; anything unrecognised becomes private.
func ParseVisibility(raw string) Visibility {
	v := Visibility(strings.ToLower(strings.TrimSpace(raw)))
	if v.Valid() {
		return v
	}
	return VisibilityPrivate
}

// SourceRecord is a row from one of the source-of-truth tables.
// The set of implementations is closed: Bookmark, Highlight and Comment.
type SourceRecord interface {
	EntityType() EntityType
	PrimaryKey() int64
	sourceRecord()
}

// Bookmark is a saved page
type Bookmark struct {
	ID          int64
	UserID      string
	URL         string
	Title       string
	Description string
	SiteName    string
	Visibility  Visibility
	CreatedAt   time.Time
}

func (Bookmark) EntityType() EntityType { return EntityBookmark }
func (b Bookmark) PrimaryKey() int64    { return b.ID }
func (Bookmark) sourceRecord()          {}

// Highlight is a passage selected on a page
type Highlight struct {
	ID         int64
	UserID     string
	BookmarkID *int64
	URL        string
	Text       string
	Visibility Visibility
	CreatedAt  time.Time
}

func (Highlight) EntityType() EntityType { return EntityHighlight }
func (h Highlight) PrimaryKey() int64    { return h.ID }
func (Highlight) sourceRecord()          {}

// Comment is a note attached to a highlight. Comments carry neither URL nor
// visibility of their own; both are inherited from the owning highlight.
type Comment struct {
	ID          int64
	UserID      string
	HighlightID int64
	Body        string
	DeletedAt   *time.Time
	CreatedAt   time.Time

	// Inherited from the highlight
	URL        string
	Visibility Visibility
}

func (Comment) EntityType() EntityType { return EntityComment }
func (c Comment) PrimaryKey() int64    { return c.ID }
func (Comment) sourceRecord()          {}

// Deleted reports whether the comment carries a soft-delete marker
func (c Comment) Deleted() bool {
	return c.DeletedAt != nil
}

// Inherit copies URL and visibility from the owning highlight
func (c Comment) Inherit(h Highlight) Comment {
	c.URL = h.URL
	c.Visibility = h.Visibility
	return c
}
