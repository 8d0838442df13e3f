package postgres

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/flowpbx/callsearch/internal/query"
)

// fieldNamePattern bounds the document field names a predicate may
// reference when building a jsonpath expression. Query paths come from
// free text; this keeps the embedded field name to a safe identifier
// shape before it's spliced into the jsonpath string (values themselves
// never are — they travel as bound jsonpath variables).
var fieldNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// buildFilter turns a predicate list into a Postgres jsonpath filter
// expression plus its bound variables, for use with
// jsonb_path_exists(data, path, vars). Returns ("", nil, true) for an
// empty predicate list, meaning "no filter" (every document matches).
func buildFilter(preds []query.Predicate) (path string, vars map[string]any, ok bool) {
	if len(preds) == 0 {
		return "", nil, true
	}

	vars = make(map[string]any)
	var clauses []string
	for i, p := range preds {
		field := p.Field()
		if !fieldNamePattern.MatchString(field) {
			// An unsafe field name degrades this predicate to "always
			// false" rather than ever reaching string concatenation.
			return "", nil, false
		}
		clause, ok := buildClause(field, p, i, vars)
		if !ok {
			return "", nil, false
		}
		clauses = append(clauses, clause)
	}

	return "$ ? (" + strings.Join(clauses, " && ") + ")", vars, true
}

func buildClause(field string, p query.Predicate, idx int, vars map[string]any) (string, bool) {
	switch p.Op {
	case query.Eq:
		name := varName(idx, 0)
		vars[name] = p.Value
		return fmt.Sprintf("@.%s == $%s", field, name), true
	case query.Ne:
		name := varName(idx, 0)
		vars[name] = p.Value
		return fmt.Sprintf("@.%s != $%s", field, name), true
	case query.Gt:
		name := varName(idx, 0)
		vars[name] = p.Value
		return fmt.Sprintf("@.%s > $%s", field, name), true
	case query.Gte:
		name := varName(idx, 0)
		vars[name] = p.Value
		return fmt.Sprintf("@.%s >= $%s", field, name), true
	case query.Lt:
		name := varName(idx, 0)
		vars[name] = p.Value
		return fmt.Sprintf("@.%s < $%s", field, name), true
	case query.Lte:
		name := varName(idx, 0)
		vars[name] = p.Value
		return fmt.Sprintf("@.%s <= $%s", field, name), true
	case query.Contains:
		name := varName(idx, 0)
		s, ok := p.Value.(string)
		if !ok {
			return "", false
		}
		vars[name] = ".*" + regexp.QuoteMeta(s) + ".*"
		return fmt.Sprintf(`@.%s like_regex $%s`, field, name), true
	case query.In:
		values, ok := p.Value.([]string)
		if !ok || len(values) == 0 {
			return "", false
		}
		var parts []string
		for j, v := range values {
			name := varName(idx, j)
			vars[name] = v
			parts = append(parts, fmt.Sprintf("@.%s == $%s", field, name))
		}
		return "(" + strings.Join(parts, " || ") + ")", true
	default:
		return "", false
	}
}

func varName(predIdx, valIdx int) string {
	return fmt.Sprintf("p%d_%d", predIdx, valIdx)
}

// marshalVars encodes the bound-variable map as the jsonb parameter
// jsonb_path_exists expects.
func marshalVars(vars map[string]any) ([]byte, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	return json.Marshal(vars)
}
