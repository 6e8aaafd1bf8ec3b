package searcher

import (
	"time"

	"github.com/dshills/highlight-search/pkg/types"
)

// ParseTimeBound parses a created-at bound given as an RFC 3339 timestamp
// or a plain date. A plain date used as an upper bound covers the whole day.
// An empty value yields nil.
func ParseTimeBound(field, raw string, upper bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, &types.ValidationError{Field: field, Value: raw, Reason: "must be an RFC 3339 timestamp or a YYYY-MM-DD date"}
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
