package types

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors
var (
	ErrValidation   = errors.New("validation failed")
	ErrEmptyContent = errors.New("content cannot be empty")
	ErrDimension    = errors.New("embedding dimension mismatch")
)

// ValidationError describes a rejected request parameter
type ValidationError struct {
	Field   string
	Value   string
	Allowed []string
	Reason  string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid %s", e.Field)
	if e.Value != "" {
		fmt.Fprintf(&b, " %q", e.Value)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Allowed) > 0 {
		fmt.Fprintf(&b, " (allowed: %s)", strings.Join(e.Allowed, ", "))
	}
	return b.String()
}

// Unwrap lets callers match with errors.Is(err, ErrValidation)
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
