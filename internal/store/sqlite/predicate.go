package sqlite

import (
	"fmt"
	"strings"

	"github.com/theory/jsonpath"

	"github.com/flowpbx/callsearch/internal/query"
)

// evaluator resolves a predicate's field value out of a decoded document
// via a compiled JSONPath query, mirroring how the production adapter
// resolves the same path with Postgres's native jsonpath operators.
type evaluator struct {
	cache map[string]*jsonpath.Path
}

func newEvaluator() *evaluator {
	return &evaluator{cache: make(map[string]*jsonpath.Path)}
}

func (e *evaluator) pathFor(field string) (*jsonpath.Path, error) {
	if p, ok := e.cache[field]; ok {
		return p, nil
	}
	p, err := jsonpath.Parse(fmt.Sprintf("$.%s", field))
	if err != nil {
		return nil, fmt.Errorf("compiling jsonpath for %q: %w", field, err)
	}
	e.cache[field] = p
	return p, nil
}

// matches reports whether raw (the document decoded as generic JSON)
// satisfies every predicate.
func (e *evaluator) matches(raw map[string]any, preds []query.Predicate) (bool, error) {
	for _, p := range preds {
		ok, err := e.matchesOne(raw, p)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *evaluator) matchesOne(raw map[string]any, p query.Predicate) (bool, error) {
	path, err := e.pathFor(p.Field())
	if err != nil {
		return false, err
	}
	nodes := path.Select(raw)
	if len(nodes) == 0 {
		return false, nil
	}
	actual := nodes[0]

	switch p.Op {
	case query.Eq:
		return compareEq(actual, p.Value), nil
	case query.Ne:
		return !compareEq(actual, p.Value), nil
	case query.Contains:
		as, ok1 := actual.(string)
		vs, ok2 := p.Value.(string)
		return ok1 && ok2 && strings.Contains(as, vs), nil
	case query.In:
		return matchesIn(actual, p.Value), nil
	case query.Gt, query.Gte, query.Lt, query.Lte:
		return compareOrdered(actual, p.Value, p.Op), nil
	default:
		return false, nil
	}
}

func compareEq(actual, want any) bool {
	af, aok := toFloat(actual)
	wf, wok := toFloat(want)
	if aok && wok {
		return af == wf
	}
	return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", want)
}

func compareOrdered(actual, want any, op query.Op) bool {
	af, aok := toFloat(actual)
	wf, wok := toFloat(want)
	if !aok || !wok {
		return false
	}
	switch op {
	case query.Gt:
		return af > wf
	case query.Gte:
		return af >= wf
	case query.Lt:
		return af < wf
	case query.Lte:
		return af <= wf
	default:
		return false
	}
}

func matchesIn(actual any, want any) bool {
	values, ok := want.([]string)
	if !ok {
		return false
	}
	as := fmt.Sprintf("%v", actual)
	for _, v := range values {
		if as == v {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
