// Package embedder generates vector embeddings for index content and queries.
//
// Two layers live here. Providers implement Embedder and talk to a model:
//
//   - openai: the OpenAI embeddings API (text-embedding-3-small, 1536
//     dimensions) with retry, a client-side rate limit and an LRU cache
//   - local: deterministic hash-derived unit vectors for development and tests
//
// Generator sits on top of a provider and is what the indexer and query
// engine use:
//
//	emb, err := embedder.New(embedder.Config{Provider: "openai", APIKey: key})
//	if err != nil {
//	    return err
//	}
//	gen := embedder.NewGenerator(emb, embedder.GeneratorOptions{})
//
//	vectors := gen.Generate(ctx, contents) // aligned with contents, nil = absent
//
// Generate sends at most 20 texts per provider call and pauses between calls.
// A failed call leaves only its own positions nil. Vectors that are not 1536
// components long are discarded.
//
// With no provider configured (provider "none", or "openai" without an API
// key) New returns a nil Embedder, SemanticAvailable reports false and
// Generate returns all-nil results without touching the network.
package embedder
