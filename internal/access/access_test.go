package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dshills/highlight-search/pkg/types"
)

type staticFriends map[string][]string

func (s staticFriends) FriendIDs(_ context.Context, userID string) ([]string, error) {
	if userID == "broken" {
		return nil, errors.New("friendship store down")
	}
	return s[userID], nil
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	friends := staticFriends{"alice": {"carol", "bob", "bob", "", "alice"}}

	f, err := Build(ctx, "alice", friends)
	require.NoError(t, err)
	assert.Equal(t, "alice", f.CallerUserID)
	assert.Equal(t, []string{"bob", "carol"}, f.FriendIDs)

	_, err = Build(ctx, "  ", friends)
	assert.ErrorIs(t, err, ErrNoCaller)

	_, err = Build(ctx, "broken", friends)
	assert.Error(t, err)

	f, err = Build(ctx, "dave", nil)
	require.NoError(t, err)
	assert.Empty(t, f.FriendIDs)
}

func TestAllows(t *testing.T) {
	f := Filter{CallerUserID: "alice", FriendIDs: []string{"bob"}}

	tests := []struct {
		name       string
		owner      string
		visibility types.Visibility
		want       bool
	}{
		{"own private", "alice", types.VisibilityPrivate, true},
		{"own unset", "alice", types.VisibilityUnset, true},
		{"stranger public", "mallory", types.VisibilityPublic, true},
		{"stranger private", "mallory", types.VisibilityPrivate, false},
		{"stranger friends-only", "mallory", types.VisibilityFriends, false},
		{"friend friends-only", "bob", types.VisibilityFriends, true},
		{"friend private", "bob", types.VisibilityPrivate, false},
		{"friend unset is private", "bob", types.VisibilityUnset, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Allows(tt.owner, tt.visibility))
		})
	}

	assert.False(t, Filter{}.Allows("", types.VisibilityPublic), "no caller sees nothing")
}

func TestClause(t *testing.T) {
	var args []any
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	f := Filter{CallerUserID: "alice", FriendIDs: []string{"bob", "carol"}}
	got := f.Clause("si.owner_user_id", "si.visibility", bind)

	assert.Equal(t,
		"(si.owner_user_id = $1 OR si.visibility = $2 OR (si.visibility = $3 AND si.owner_user_id IN ($4, $5)))",
		got)
	assert.Equal(t, []any{"alice", "public", "friends", "bob", "carol"}, args)

	args = nil
	got = Filter{CallerUserID: "alice"}.Clause("owner", "vis", bind)
	assert.Equal(t, "(owner = $1 OR vis = $2)", got)

	assert.Equal(t, "1 = 0", Filter{}.Clause("owner", "vis", bind))
}

// A row is visible exactly when it is owned, public, or friends-only from a friend.
func TestAllows_Properties(t *testing.T) {
	users := []string{"alice", "bob", "carol", "dave", "erin"}
	visibilities := []types.Visibility{
		types.VisibilityUnset, types.VisibilityPrivate, types.VisibilityFriends, types.VisibilityPublic,
	}

	rapid.Check(t, func(rt *rapid.T) {
		caller := rapid.SampledFrom(users).Draw(rt, "caller")
		friends := rapid.SliceOfDistinct(rapid.SampledFrom(users), rapid.ID[string]).Draw(rt, "friends")
		owner := rapid.SampledFrom(users).Draw(rt, "owner")
		vis := rapid.SampledFrom(visibilities).Draw(rt, "visibility")

		f, err := Build(context.Background(), caller, staticFriends{caller: friends})
		if err != nil {
			rt.Fatalf("Build: %v", err)
		}

		isFriend := false
		for _, id := range friends {
			if id == owner && id != caller {
				isFriend = true
			}
		}
		want := owner == caller ||
			vis == types.VisibilityPublic ||
			(vis == types.VisibilityFriends && isFriend)

		if got := f.Allows(owner, vis); got != want {
			rt.Fatalf("Allows(%s, %q) for %s with friends %v = %v, want %v",
				owner, vis, caller, friends, got, want)
		}

		if strings.Contains(f.Clause("o", "v", func(any) string { return "?" }), "1 = 0") {
			rt.Fatalf("clause for a known caller must not be empty")
		}
	})
}
