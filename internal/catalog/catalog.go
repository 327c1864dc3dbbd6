// Package catalog declares the portal's query definitions: news stories,
// published datasets, user collections and submission listings. Templates
// are rendered per dialect so the same catalog serves SQL Server in
// production and sqlite or postgres elsewhere.
package catalog

import (
	"dataportal/internal/sqlexec"
	"dataportal/pkg/queryapi"
	"dataportal/pkg/result"
)

// Definition names, used for routing and metrics.
const (
	NewsList        = "news.list"
	NewsGet         = "news.get"
	NewsCreate      = "news.create"
	NewsUpdate      = "news.update"
	NewsUpdateRanks = "news.updateRanks"
	NewsDelete      = "news.delete"

	DatasetsList        = "datasets.list"
	DatasetsByShortName = "datasets.byShortName"

	CollectionsListByUser = "collections.listByUser"
	CollectionsCreate     = "collections.create"

	SubmissionsListByUser = "submissions.listByUser"
	SubmissionsRetrieve   = "submissions.retrieve"
)

// Definitions returns every definition rendered for dialect d.
func Definitions(d sqlexec.Dialect) []queryapi.Definition {
	var defs []queryapi.Definition
	defs = append(defs, news(d)...)
	defs = append(defs, datasets(d)...)
	defs = append(defs, collections(d)...)
	defs = append(defs, submissions(d)...)
	return defs
}

// New registers Definitions(d) in a fresh catalog.
func New(d sqlexec.Dialect) (*queryapi.Catalog, error) {
	c := queryapi.NewCatalog()
	if err := c.Register(Definitions(d)...); err != nil {
		return nil, err
	}
	return c, nil
}

func arg(name string, t queryapi.StorageType, r queryapi.Resolver) queryapi.ArgumentSpec {
	return queryapi.ArgumentSpec{Name: name, StorageType: t, Resolver: r}
}

// adminFlag resolves the caller's admin bit as 0 or 1 so it compares the
// same way in every dialect.
func adminFlag() queryapi.Resolver {
	inner := queryapi.Optional(queryapi.Bool(queryapi.SectionUser+".isDataSubmissionAdmin"), false)
	return func(req queryapi.Request) result.Result[any] {
		return result.Map(inner(req), func(v any) any {
			if b, _ := v.(bool); b {
				return 1
			}
			return 0
		})
	}
}

// returning renders the clause that echoes key from a modified row. SQL
// Server places OUTPUT before WHERE; the others append RETURNING.
func returning(d sqlexec.Dialect, verb, key string) (output, suffix string) {
	if d == sqlexec.DialectSQLServer {
		src := "INSERTED."
		if verb == "DELETE" {
			src = "DELETED."
		}
		return " OUTPUT " + src + key + ` AS "id"`, ""
	}
	return "", " RETURNING " + key + ` AS "id"`
}

func concat(d sqlexec.Dialect, parts ...string) string {
	op := " || "
	if d == sqlexec.DialectSQLServer {
		op = " + "
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += op + p
	}
	return out
}

func trueLiteral(d sqlexec.Dialect) string {
	if d == sqlexec.DialectPostgres {
		return "TRUE"
	}
	return "1"
}

func clamp(n, lo, hi int) int {
	switch {
	case n < lo:
		return lo
	case n > hi:
		return hi
	}
	return n
}
