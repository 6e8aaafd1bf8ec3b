// Package extractor turns source records into the canonical text stored in the search index.
//
// Extraction is pure: no I/O, no errors, no panics on malformed input. Missing
// or malformed parts are omitted, and an empty result means "do not index".
//
// # Per-type content
//
//   - Bookmark: title, description, site name, domain
//   - Highlight: highlighted text, domain
//   - Comment: trimmed body (soft-deleted comments yield "")
//
// Parts are trimmed and joined with single spaces:
//
//	extractor.Bookmark(types.Bookmark{
//	    Title:       "How to Read",
//	    Description: "Paul Graham on reading",
//	    URL:         "https://paulgraham.com/read.html",
//	})
//	// "How to Read Paul Graham on reading paulgraham.com"
//
// # Domains
//
// Domain lowercases the URL host and strips a leading "www.". A URL that does
// not parse, or has no host, contributes nothing.
package extractor
