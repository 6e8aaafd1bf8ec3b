package types

import "time"

// EmbeddingDimension is the fixed length of every stored embedding vector.
// The ANN index column is declared with this size.
const EmbeddingDimension = 1536

// IndexRecord is the writer input for one searchable row
type IndexRecord struct {
	EntityType  EntityType
	EntityID    int64
	OwnerUserID string
	Content     string
	SourceURL   string
	Visibility  Visibility

	// Display fields returned with search results
	Title string
	Body  string

	CreatedAt time.Time
}

// Key returns the identity of the record in the index
func (r IndexRecord) Key() EntityRef {
	return EntityRef{Type: r.EntityType, ID: r.EntityID}
}

// EntityRef identifies an index row by its source entity
type EntityRef struct {
	Type EntityType
	ID   int64
}
