// Package queryapi defines declarative query definitions: named argument
// specs that resolve values from a request tree, plus a template that
// renders the SQL text once every argument has resolved.
//
// Nothing in this package performs I/O. Execution lives in internal/sqlexec.
package queryapi

import "strings"

// Request is the request-like tree handed to resolvers. The HTTP layer
// populates the top-level keys "body", "params", "query" and "user".
type Request map[string]any

// Top-level request sections.
const (
	SectionBody   = "body"
	SectionParams = "params"
	SectionQuery  = "query"
	SectionUser   = "user"
)

// Lookup walks a dotted path (for example "body.story.headline") through
// nested maps. It reports false when any segment is missing or a non-map
// value is traversed.
func (r Request) Lookup(path string) (any, bool) {
	if r == nil || strings.TrimSpace(path) == "" {
		return nil, false
	}
	var current any = map[string]any(r)
	for _, segment := range strings.Split(path, ".") {
		node, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Request:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

// rootOf returns the first path segment.
func rootOf(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}
