package storage

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/highlight-search/internal/access"
	"github.com/dshills/highlight-search/pkg/types"
)

func TestFilterConditions_Postgres(t *testing.T) {
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := Filter{
		Access:     access.Filter{CallerUserID: "alice"},
		Types:      []types.EntityType{types.EntityBookmark},
		Domain:     "www.Example.com",
		URLPattern: "https://example.com/*",
		After:      &after,
	}

	args := newQueryArgs(postgresDialect, "query text")
	conds := filterConditions(f, "si", args)

	assert.Len(t, conds, 5)
	assert.Equal(t, "si.entity_type IN ($4)", conds[1])
	assert.Equal(t, "si.source_domain = $5", conds[2])
	assert.Equal(t, `si.source_url ILIKE $6 ESCAPE '\'`, conds[3])
	assert.Equal(t, "si.created_at >= $7", conds[4])

	assert.Equal(t, "example.com", args.args[4])
	assert.Equal(t, "https://example.com/%", args.args[5])
	assert.Equal(t, after, args.args[6])
}

func TestFilterConditions_SQLite(t *testing.T) {
	before := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f := Filter{
		Access:     access.Filter{CallerUserID: "alice"},
		URLPattern: "https://example.com/a_b",
		Before:     &before,
	}

	args := newQueryArgs(sqliteDialect)
	conds := filterConditions(f, "", args)

	assert.Len(t, conds, 3)
	assert.Equal(t, "source_url = ?", conds[1], "pattern without wildcard is exact")
	assert.Equal(t, "created_at <= ?", conds[2])
	assert.Equal(t, before.UnixMicro(), args.args[len(args.args)-1])
}

func TestFilterConditions_NoCaller(t *testing.T) {
	conds := filterConditions(Filter{}, "si", newQueryArgs(sqliteDialect))
	assert.Equal(t, []string{"1 = 0"}, conds)
}

func TestRefsCondition(t *testing.T) {
	col := func(c string) string { return c }

	args := newQueryArgs(sqliteDialect)
	assert.Equal(t, "1 = 0", refsCondition(nil, col, args))

	refs := []types.EntityRef{
		{Type: types.EntityComment, ID: 5},
		{Type: types.EntityBookmark, ID: 1},
		{Type: types.EntityBookmark, ID: 2},
	}
	got := refsCondition(refs, col, args)
	assert.Equal(t, "((entity_type = ? AND entity_id IN (SELECT value FROM json_each(?))) OR "+
		"(entity_type = ? AND entity_id IN (SELECT value FROM json_each(?))))", got)
	assert.Equal(t, []any{"bookmark", "[1,2]", "comment", "[5]"}, args.args)

	t.Run("postgres binds one array per type", func(t *testing.T) {
		args := newQueryArgs(postgresDialect)
		got := refsCondition(refs[1:], col, args)
		assert.Equal(t, "((entity_type = $1 AND entity_id = ANY($2::bigint[])))", got)
		require.Len(t, args.args, 2)
		assert.Equal(t, pq.Array([]int64{1, 2}), args.args[1])
	})
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "https://go.dev/%", likePattern("https://go.dev/*"))
	assert.Equal(t, `%100\%\_off%`, likePattern("*100%_off*"))
	assert.Equal(t, `a\\b`, likePattern(`a\b`))
}

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "example.com", NormalizeDomain(" WWW.Example.COM "))
	assert.Equal(t, "sub.example.com", NormalizeDomain("sub.example.com"))
	assert.Equal(t, "", NormalizeDomain(""))
}
