package query

import (
	"context"
	"strconv"
	"strings"
)

var operators = []struct {
	token string
	op    Op
}{
	// Longest tokens first so ">=" is not matched as ">" with a
	// leftover "=" stuck to the value.
	{">=", Gte},
	{"<=", Lte},
	{"!=", Ne},
	{">", Gt},
	{"<", Lt},
	{"=", Eq},
}

// Parse tokenizes raw on whitespace and turns each non-empty token into a
// Predicate. A token that fails to split on a known operator, whose path
// the catalog does not know, or whose literal fails the catalog's type
// coercion, degrades to a string equality predicate rather than being
// dropped — Parse never returns an error.
func Parse(ctx context.Context, raw string, catalog AttributeCatalog) []Predicate {
	var preds []Predicate
	for _, tok := range strings.Fields(raw) {
		preds = append(preds, parseToken(ctx, tok, catalog))
	}
	return preds
}

func parseToken(ctx context.Context, tok string, catalog AttributeCatalog) Predicate {
	path, op, lit, ok := splitToken(tok)
	if !ok {
		// No recognized operator in the token at all: treat the whole
		// token as a path with an implicit "exists" equality against
		// itself is meaningless, so fall back to a literal string
		// equality predicate keyed by the raw token.
		return Predicate{Path: tok, Op: Eq, Value: tok}
	}

	if strings.Contains(lit, "*") {
		return Predicate{Path: path, Op: Contains, Value: strings.ReplaceAll(lit, "*", "")}
	}

	desc, found := catalog.Lookup(ctx, path)
	if !found {
		return Predicate{Path: path, Op: Eq, Value: lit}
	}

	value, coerced := coerce(lit, desc.Type)
	if !coerced {
		return Predicate{Path: path, Op: Eq, Value: lit}
	}
	return Predicate{Path: path, Op: op, Value: value}
}

// splitToken finds the first recognized operator in tok and splits it
// into path/op/literal. Operators are matched longest-first so ">="
// isn't mistaken for ">" + "=value".
func splitToken(tok string) (path string, op Op, literal string, ok bool) {
	bestIdx := -1
	var bestOp struct {
		token string
		op    Op
	}
	for _, cand := range operators {
		if idx := strings.Index(tok, cand.token); idx > 0 {
			if bestIdx == -1 || idx < bestIdx {
				bestIdx = idx
				bestOp = cand
			}
		}
	}
	if bestIdx == -1 {
		return "", 0, "", false
	}
	path = tok[:bestIdx]
	literal = tok[bestIdx+len(bestOp.token):]
	return path, bestOp.op, literal, true
}

func coerce(lit string, t AttributeType) (any, bool) {
	switch t {
	case AttributeTypeInt:
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	case AttributeTypeFloat:
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	case AttributeTypeBool:
		b, err := strconv.ParseBool(lit)
		if err != nil {
			return nil, false
		}
		return b, true
	default:
		return lit, true
	}
}
