package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/highlight-search/pkg/types"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrUnknownProvider   = errors.New("unknown embedding provider")
)

// defaultCacheSize bounds the content-hash cache when no size is configured
const defaultCacheSize = 10000

// Embedding is one provider vector plus where it came from
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // ComputeHash of the embedded text
}

// Usable reports whether the vector fits the index embedding column
func (e *Embedding) Usable() bool {
	return e != nil && len(e.Vector) == types.EmbeddingDimension
}

func (e *Embedding) clone() *Embedding {
	c := *e
	c.Vector = slices.Clone(e.Vector)
	return &c
}

// EmbeddingRequest asks for the vector of one text
type EmbeddingRequest struct {
	Text  string
	Model string // overrides the provider default when set
}

// BatchEmbeddingRequest asks for the vectors of several texts in one call
type BatchEmbeddingRequest struct {
	Texts []string
	Model string
}

// BatchEmbeddingResponse holds one embedding per requested text, in order
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder is an embedding provider. The Generator is its only caller on
// the write path; the query engine calls it through Generator.EmbedQuery.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch returns embeddings in input order
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// Cache keeps recent embeddings keyed by content hash. Re-indexing an
// unchanged bookmark or highlight then costs no provider call.
type Cache struct {
	entries *lru.Cache[string, *Embedding]
}

// NewCache creates a cache holding at most maxLen embeddings
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = defaultCacheSize
	}
	entries, _ := lru.New[string, *Embedding](maxLen) // only fails for size <= 0
	return &Cache{entries: entries}
}

// Get returns a copy, so callers cannot mutate the cached vector
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.entries.Get(hash)
	if !ok {
		return nil, false
	}
	return emb.clone(), true
}

// Set stores emb, evicting the least recently used entry when full
func (c *Cache) Set(hash string, emb *Embedding) {
	c.entries.Add(hash, emb)
}

// Size returns the number of cached embeddings
func (c *Cache) Size() int {
	return c.entries.Len()
}

// Clear drops every entry
func (c *Cache) Clear() {
	c.entries.Purge()
}

// ComputeHash returns the hex SHA-256 of text, used as the cache key
func ComputeHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// ValidateRequest rejects blank text
func ValidateRequest(req EmbeddingRequest) error {
	if blank(req.Text) {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest rejects an empty batch or any blank text in it
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	if i := slices.IndexFunc(req.Texts, blank); i >= 0 {
		return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
	}
	return nil
}
