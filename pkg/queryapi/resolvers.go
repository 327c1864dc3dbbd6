package queryapi

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"dataportal/pkg/result"
)

// Resolver extracts and type-checks one value from a request. Resolvers must
// be pure functions of the request.
type Resolver func(Request) result.Result[any]

func fail(format string, args ...any) result.Result[any] {
	return result.Err[any](fmt.Errorf(format, args...))
}

func missing(path string) result.Result[any] {
	return fail("%s is required", path)
}

// String resolves a string at path.
func String(path string) Resolver {
	return func(req Request) result.Result[any] {
		raw, ok := req.Lookup(path)
		if !ok || raw == nil {
			return missing(path)
		}
		s, ok := raw.(string)
		if !ok {
			return fail("%s must be a string", path)
		}
		return result.Ok[any](s)
	}
}

// NonEmptyString resolves a string at path that is not blank once trimmed.
// The trimmed value is returned.
func NonEmptyString(path string) Resolver {
	inner := String(path)
	return func(req Request) result.Result[any] {
		return result.AndThen(inner(req), func(v any) result.Result[any] {
			s := strings.TrimSpace(v.(string))
			if s == "" {
				return fail("%s must not be empty", path)
			}
			return result.Ok[any](s)
		})
	}
}

// Int resolves an integer at path. JSON numbers must carry no fractional
// part. Strings are accepted only under params and query, where every value
// arrives as text.
func Int(path string) Resolver {
	textual := isTextualSection(path)
	return func(req Request) result.Result[any] {
		raw, ok := req.Lookup(path)
		if !ok || raw == nil {
			return missing(path)
		}
		n, ok := toInt(raw, textual)
		if !ok {
			return fail("%s must be an integer", path)
		}
		return result.Ok[any](n)
	}
}

// Float resolves a number at path.
func Float(path string) Resolver {
	textual := isTextualSection(path)
	return func(req Request) result.Result[any] {
		raw, ok := req.Lookup(path)
		if !ok || raw == nil {
			return missing(path)
		}
		f, ok := toFloat(raw, textual)
		if !ok {
			return fail("%s must be a number", path)
		}
		return result.Ok[any](f)
	}
}

// Bool resolves a boolean at path. Under params and query the strings
// "true" and "false" are accepted.
func Bool(path string) Resolver {
	textual := isTextualSection(path)
	return func(req Request) result.Result[any] {
		raw, ok := req.Lookup(path)
		if !ok || raw == nil {
			return missing(path)
		}
		switch v := raw.(type) {
		case bool:
			return result.Ok[any](v)
		case string:
			if textual {
				if b, err := strconv.ParseBool(v); err == nil {
					return result.Ok[any](b)
				}
			}
		}
		return fail("%s must be a boolean", path)
	}
}

// Time resolves an RFC 3339 timestamp string at path.
func Time(path string) Resolver {
	inner := String(path)
	return func(req Request) result.Result[any] {
		return result.AndThen(inner(req), func(v any) result.Result[any] {
			ts, err := time.Parse(time.RFC3339, v.(string))
			if err != nil {
				return fail("%s must be an RFC 3339 timestamp", path)
			}
			return result.Ok[any](ts.UTC())
		})
	}
}

// IntSlice resolves an array of integers at path.
func IntSlice(path string) Resolver {
	return func(req Request) result.Result[any] {
		raw, ok := req.Lookup(path)
		if !ok || raw == nil {
			return missing(path)
		}
		items, ok := raw.([]any)
		if !ok {
			return fail("%s must be an array of integers", path)
		}
		out := make([]int, 0, len(items))
		for _, item := range items {
			n, ok := toInt(item, false)
			if !ok {
				return fail("%s must be an array of integers", path)
			}
			out = append(out, n)
		}
		return result.Ok[any](out)
	}
}

// StringSlice resolves an array of strings at path.
func StringSlice(path string) Resolver {
	return func(req Request) result.Result[any] {
		raw, ok := req.Lookup(path)
		if !ok || raw == nil {
			return missing(path)
		}
		items, ok := raw.([]any)
		if !ok {
			return fail("%s must be an array of strings", path)
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return fail("%s must be an array of strings", path)
			}
			out = append(out, s)
		}
		return result.Ok[any](out)
	}
}

// Rank pairs a record id with its display rank.
type Rank struct {
	ID   int
	Rank int
}

// RankList resolves an array of {"id": int, "rank": int} objects at path,
// rejecting duplicate ids.
func RankList(path string) Resolver {
	return func(req Request) result.Result[any] {
		raw, ok := req.Lookup(path)
		if !ok || raw == nil {
			return missing(path)
		}
		items, ok := raw.([]any)
		if !ok || len(items) == 0 {
			return fail("%s must be a non-empty array of {id, rank}", path)
		}
		seen := make(map[int]struct{}, len(items))
		out := make([]Rank, 0, len(items))
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				return fail("%s must be a non-empty array of {id, rank}", path)
			}
			id, idOK := toInt(obj["id"], false)
			rank, rankOK := toInt(obj["rank"], false)
			if !idOK || !rankOK {
				return fail("%s must be a non-empty array of {id, rank}", path)
			}
			if _, dup := seen[id]; dup {
				return fail("%s contains duplicate id %d", path, id)
			}
			seen[id] = struct{}{}
			out = append(out, Rank{ID: id, Rank: rank})
		}
		return result.Ok[any](out)
	}
}

// UserID resolves the authenticated user's id.
func UserID() Resolver {
	return Int(SectionUser + ".id")
}

// OneOf narrows a string resolver to an allowed set of values.
func OneOf(inner Resolver, path string, allowed ...string) Resolver {
	return func(req Request) result.Result[any] {
		return result.AndThen(inner(req), func(v any) result.Result[any] {
			s, ok := v.(string)
			if ok {
				for _, candidate := range allowed {
					if s == candidate {
						return result.Ok[any](s)
					}
				}
			}
			return fail("%s must be one of %s", path, strings.Join(allowed, ", "))
		})
	}
}

// Optional wraps a resolver so that it always succeeds, substituting
// fallback when the inner resolver fails.
func Optional(inner Resolver, fallback any) Resolver {
	return func(req Request) result.Result[any] {
		r := inner(req)
		if r.IsErr() {
			return result.Ok(fallback)
		}
		return r
	}
}

// Const always resolves to v.
func Const(v any) Resolver {
	return func(Request) result.Result[any] { return result.Ok(v) }
}

func isTextualSection(path string) bool {
	root := rootOf(path)
	return root == SectionParams || root == SectionQuery
}

func toInt(raw any, allowString bool) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := strconv.Atoi(v.String())
		return n, err == nil
	case string:
		if !allowString {
			return 0, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

func toFloat(raw any, allowString bool) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		if !allowString {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
