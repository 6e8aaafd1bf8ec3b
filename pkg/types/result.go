package types

import "time"

// SearchResult is one ranked hit returned to callers.
// Title is set for bookmarks, Text for highlights and Content for comments.
type SearchResult struct {
	Type      EntityType `json:"type"`
	ID        int64      `json:"id"`
	URL       string     `json:"url,omitempty"`
	Title     string     `json:"title,omitempty"`
	Text      string     `json:"text,omitempty"`
	Content   string     `json:"content,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	Score     float64    `json:"score"`
}

// SearchMeta describes how a search was executed
type SearchMeta struct {
	Query              string `json:"query"`
	ModeRequested      string `json:"modeRequested"`
	ModeUsed           string `json:"modeUsed"`
	SemanticSearchUsed bool   `json:"semanticSearchUsed"`
	Total              int    `json:"total"`
	Limit              int    `json:"limit"`
	Offset             int    `json:"offset"`
	SortBy             string `json:"sortBy"`
}

// Capabilities lists the statically supported search modes and entity types
type Capabilities struct {
	SupportedModes []string `json:"supportedModes"`
	SupportedTypes []string `json:"supportedTypes"`
}
