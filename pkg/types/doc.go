// Package types provides shared type definitions for the highlight search service.
//
// # Source records
//
// SourceRecord is a closed union over the three indexable entities:
//
//	var rec types.SourceRecord = types.Bookmark{ID: 7, UserID: "u1", Title: "How to Read"}
//
//	switch r := rec.(type) {
//	case types.Bookmark:
//	case types.Highlight:
//	case types.Comment:
//	    if r.Deleted() { ... }
//	}
//
// Comments do not carry a URL or visibility; Comment.Inherit copies both from
// the owning highlight before extraction.
//
// # Index records
//
// IndexRecord is what the index writer persists: the canonical content string,
// the owner and visibility used for access control, and display fields.
// Embeddings are always EmbeddingDimension floats.
//
// # Errors
//
// Request validation failures are reported as *ValidationError, which matches
// ErrValidation under errors.Is.
package types
