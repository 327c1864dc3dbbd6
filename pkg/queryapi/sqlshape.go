package queryapi

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// CaseWhen renders "CASE <column> WHEN <id> THEN <rank> ... END" from
// integer pairs only, in the order given. column must be a plain or
// table-qualified identifier; anything else is a programming error and
// panics.
func CaseWhen(column string, ranks []Rank) string {
	mustIdentifier(column)
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(column)
	for _, r := range ranks {
		b.WriteString(" WHEN ")
		b.WriteString(strconv.Itoa(r.ID))
		b.WriteString(" THEN ")
		b.WriteString(strconv.Itoa(r.Rank))
	}
	b.WriteString(" ELSE ")
	b.WriteString(column)
	b.WriteString(" END")
	return b.String()
}

// InList renders "(1, 2, 3)" from integers. An empty list renders "(NULL)"
// so the surrounding predicate matches nothing.
func InList(ids []int) string {
	if len(ids) == 0 {
		return "(NULL)"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// RankIDs extracts the ids of a rank list in order.
func RankIDs(ranks []Rank) []int {
	ids := make([]int, len(ranks))
	for i, r := range ranks {
		ids[i] = r.ID
	}
	return ids
}

func mustIdentifier(name string) {
	if !identifierPattern.MatchString(name) {
		panic(fmt.Sprintf("queryapi: %q is not a valid SQL identifier", name))
	}
}
