package extractor

import (
	"net/url"
	"strings"

	"github.com/dshills/highlight-search/pkg/types"
)

// Bookmark builds searchable text from title, description, site name and domain
func Bookmark(b types.Bookmark) string {
	return join(b.Title, b.Description, b.SiteName, Domain(b.URL))
}

// Highlight builds searchable text from the highlighted passage and domain
func Highlight(h types.Highlight) string {
	return join(h.Text, Domain(h.URL))
}

// Comment returns the trimmed comment body. Callers must drop soft-deleted
// comments before extraction.
func Comment(c types.Comment) string {
	return strings.TrimSpace(c.Body)
}

// Extract dispatches to the extractor for the record's variant.
// Soft-deleted comments extract to the empty string.
func Extract(rec types.SourceRecord) string {
	switch r := rec.(type) {
	case types.Bookmark:
		return Bookmark(r)
	case types.Highlight:
		return Highlight(r)
	case types.Comment:
		if r.Deleted() {
			return ""
		}
		return Comment(r)
	default:
		return ""
	}
}

// Record converts a source record into an index record.
// ok is false when the record must not be indexed (empty content).
// Visibility is normalised with types.ParseVisibility.
func Record(rec types.SourceRecord) (types.IndexRecord, bool) {
	content := Extract(rec)
	if content == "" {
		return types.IndexRecord{}, false
	}

	out := types.IndexRecord{
		EntityType: rec.EntityType(),
		EntityID:   rec.PrimaryKey(),
		Content:    content,
	}

	switch r := rec.(type) {
	case types.Bookmark:
		out.OwnerUserID = r.UserID
		out.SourceURL = strings.TrimSpace(r.URL)
		out.Visibility = types.ParseVisibility(string(r.Visibility))
		out.Title = strings.TrimSpace(r.Title)
		out.Body = strings.TrimSpace(r.Description)
		out.CreatedAt = r.CreatedAt
	case types.Highlight:
		out.OwnerUserID = r.UserID
		out.SourceURL = strings.TrimSpace(r.URL)
		out.Visibility = types.ParseVisibility(string(r.Visibility))
		out.Body = strings.TrimSpace(r.Text)
		out.CreatedAt = r.CreatedAt
	case types.Comment:
		out.OwnerUserID = r.UserID
		out.SourceURL = strings.TrimSpace(r.URL)
		out.Visibility = types.ParseVisibility(string(r.Visibility))
		out.Body = content
		out.CreatedAt = r.CreatedAt
	}

	return out, true
}

// Domain returns the URL hostname in lower case without a leading "www.".
// Malformed or host-less URLs return "".
func Domain(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// join trims each part and space-joins the non-empty ones
func join(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
