package storage

import (
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/dshills/highlight-search/pkg/types"
)

// dialect captures the SQL differences between the SQLite and PostgreSQL backends
type dialect struct {
	numbered   bool // $1 placeholders instead of ?
	like       string
	encodeTime func(time.Time) any

	// idSet renders a membership test against ids bound as one parameter,
	// so large tags stay within the driver's bind variable limit
	idSet func(q *queryArgs, ids []int64) string
}

var (
	sqliteDialect = dialect{
		like:       "LIKE",
		encodeTime: func(t time.Time) any { return t.UTC().UnixMicro() },
		idSet: func(q *queryArgs, ids []int64) string {
			return "IN (SELECT value FROM json_each(" + q.bind(jsonIDs(ids)) + "))"
		},
	}
	postgresDialect = dialect{
		numbered:   true,
		like:       "ILIKE",
		encodeTime: func(t time.Time) any { return t.UTC() },
		idSet: func(q *queryArgs, ids []int64) string {
			return "= ANY(" + q.bind(pq.Array(ids)) + "::bigint[])"
		},
	}
)

// queryArgs accumulates positional arguments and renders placeholders
type queryArgs struct {
	d    dialect
	args []any
}

func newQueryArgs(d dialect, initial ...any) *queryArgs {
	return &queryArgs{d: d, args: initial}
}

// bind registers v and returns its placeholder
func (q *queryArgs) bind(v any) string {
	q.args = append(q.args, v)
	if q.d.numbered {
		return "$" + strconv.Itoa(len(q.args))
	}
	return "?"
}

// bindTime registers a timestamp in the dialect's storage encoding
func (q *queryArgs) bindTime(t time.Time) string {
	return q.bind(q.d.encodeTime(t))
}

// bindList returns a comma separated placeholder list
func (q *queryArgs) bindList(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = q.bind(v)
	}
	return strings.Join(parts, ", ")
}

// filterConditions renders f as a list of conditions to AND together.
// Columns are qualified with alias.
func filterConditions(f Filter, alias string, q *queryArgs) []string {
	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}

	conds := []string{f.Access.Clause(col("owner_user_id"), col("visibility"), q.bind)}

	if len(f.Types) > 0 {
		vals := make([]any, len(f.Types))
		for i, t := range f.Types {
			vals[i] = string(t)
		}
		conds = append(conds, col("entity_type")+" IN ("+q.bindList(vals)+")")
	}

	if f.RestrictRefs {
		conds = append(conds, refsCondition(f.Refs, col, q))
	}

	if d := NormalizeDomain(f.Domain); d != "" {
		conds = append(conds, col("source_domain")+" = "+q.bind(d))
	}

	if p := strings.TrimSpace(f.URLPattern); p != "" {
		if strings.Contains(p, "*") {
			conds = append(conds, col("source_url")+" "+q.d.like+" "+q.bind(likePattern(p))+` ESCAPE '\'`)
		} else {
			conds = append(conds, col("source_url")+" = "+q.bind(p))
		}
	}

	if f.After != nil {
		conds = append(conds, col("created_at")+" >= "+q.bindTime(*f.After))
	}
	if f.Before != nil {
		conds = append(conds, col("created_at")+" <= "+q.bindTime(*f.Before))
	}

	return conds
}

// refsCondition matches any of refs, grouped by entity type
func refsCondition(refs []types.EntityRef, col func(string) string, q *queryArgs) string {
	if len(refs) == 0 {
		return "1 = 0"
	}

	byType := make(map[types.EntityType][]int64)
	for _, r := range refs {
		byType[r.Type] = append(byType[r.Type], r.ID)
	}

	groups := make([]string, 0, len(byType))
	for _, t := range types.AllEntityTypes {
		ids, ok := byType[t]
		if !ok {
			continue
		}
		groups = append(groups, "("+col("entity_type")+" = "+q.bind(string(t))+" AND "+col("entity_id")+" "+q.d.idSet(q, ids)+")")
	}
	if len(groups) == 0 {
		return "1 = 0"
	}
	return "(" + strings.Join(groups, " OR ") + ")"
}

// jsonIDs renders ids as a JSON array for json_each
func jsonIDs(ids []int64) string {
	b := make([]byte, 0, len(ids)*8+2)
	b = append(b, '[')
	for i, id := range ids {
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendInt(b, id, 10)
	}
	return string(append(b, ']'))
}

// likePattern converts a '*' wildcard pattern into an escaped LIKE pattern
func likePattern(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `%`)
	return r.Replace(p)
}

// NormalizeDomain lowercases a host and strips a leading "www."
func NormalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	return strings.TrimPrefix(d, "www.")
}
