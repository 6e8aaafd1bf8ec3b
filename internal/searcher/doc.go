// Package searcher answers search requests over the annotation index.
//
// Three modes are supported:
//   - hybrid (default): full-text and vector similarity candidates fused with
//     Reciprocal Rank Fusion
//   - fts: full-text matching only; every query term must match
//   - semantic: cosine similarity against stored embeddings only
//
// Requests are validated before any storage or provider access. When no
// embedding provider is configured, or embedding the query fails, hybrid and
// semantic requests are answered with full-text search and the response
// metadata reports modeUsed=fts.
//
// # Reciprocal Rank Fusion
//
//	rrf(d) = Σ 1 / (k + rank(d))    k = 60
//
// Ties are broken by creation time, newest first, then by entity type and id.
// sortBy=created ignores relevance and orders by creation time alone.
//
// # Access control
//
// Every candidate query carries the caller's access predicate, so rows the
// caller may not see are excluded before counting and pagination:
//
//	owner = caller OR visibility = public
//	    OR (visibility = friends AND owner IN friends(caller))
//
// # Totals
//
// meta.total is exact: the lexical match count for fts, the size of the
// capped candidate pool for semantic, and the size of the fused union for
// hybrid.
package searcher
