// Package access decides which index rows a caller may see.
//
// A row is visible when the caller owns it, when it is public, or when it is
// shared with friends and the owner is one of the caller's friends. Rows
// without a visibility are private.
//
// The same predicate is available as a Go check (Allows) and as a SQL clause
// (Clause) so storage can apply it before pagination.
package access

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/dshills/highlight-search/pkg/types"
)

// ErrNoCaller is returned when a filter is requested without a caller identity
var ErrNoCaller = errors.New("caller identity required")

// FriendLister returns the user ids the given user is friends with
type FriendLister interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

// Filter is the access predicate for one caller
type Filter struct {
	CallerUserID string
	FriendIDs    []string
}

// Build resolves the caller's friends and returns their filter
func Build(ctx context.Context, callerUserID string, friends FriendLister) (Filter, error) {
	if strings.TrimSpace(callerUserID) == "" {
		return Filter{}, ErrNoCaller
	}

	var ids []string
	if friends != nil {
		var err error
		ids, err = friends.FriendIDs(ctx, callerUserID)
		if err != nil {
			return Filter{}, fmt.Errorf("list friends of %s: %w", callerUserID, err)
		}
	}

	return Filter{CallerUserID: callerUserID, FriendIDs: dedupe(ids, callerUserID)}, nil
}

// Allows reports whether a row with the given owner and visibility is visible
func (f Filter) Allows(ownerUserID string, visibility types.Visibility) bool {
	if f.CallerUserID == "" {
		return false
	}
	if ownerUserID == f.CallerUserID {
		return true
	}
	switch visibility {
	case types.VisibilityPublic:
		return true
	case types.VisibilityFriends:
		return f.isFriend(ownerUserID)
	default:
		return false
	}
}

func (f Filter) isFriend(userID string) bool {
	return slices.Contains(f.FriendIDs, userID)
}

// Clause renders the predicate as a SQL boolean expression over the given
// owner and visibility columns. bind registers an argument and returns its
// placeholder, so the clause works with any placeholder style.
func (f Filter) Clause(ownerCol, visibilityCol string, bind func(any) string) string {
	if f.CallerUserID == "" {
		return "1 = 0"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "(%s = %s OR %s = %s", ownerCol, bind(f.CallerUserID), visibilityCol, bind(string(types.VisibilityPublic)))

	if len(f.FriendIDs) > 0 {
		fmt.Fprintf(&b, " OR (%s = %s AND %s IN (", visibilityCol, bind(string(types.VisibilityFriends)), ownerCol)
		for i, id := range f.FriendIDs {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(bind(id))
		}
		b.WriteString("))")
	}

	b.WriteString(")")
	return b.String()
}

// dedupe sorts ids, drops blanks, duplicates and the caller
func dedupe(ids []string, caller string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" || id == caller {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
