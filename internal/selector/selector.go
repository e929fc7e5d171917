// Package selector compiles subscription selectors (spec §4.3) into
// closures over a breadcrumb plus its raw context bytes, and maintains
// the inverted (schema_name, tags) index the fanout engine uses to
// prefilter candidates before running the full predicate.
package selector

import (
	"encoding/json"
	"fmt"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/jsonpath"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/tidwall/gjson"
)

// Candidate is what the compiled predicate evaluates against: the
// breadcrumb's metadata plus its raw (untransformed) context bytes.
type Candidate struct {
	Breadcrumb *models.Breadcrumb
	RawContext []byte
}

// Compiled is a selector reduced to a total predicate. Evaluation never
// panics: a clause whose path does not resolve evaluates to false.
type Compiled struct {
	source *models.Selector
	eval   func(Candidate) bool
}

// Matches reports whether c satisfies the compiled selector.
func (p *Compiled) Matches(c Candidate) bool { return p.eval(c) }

// Source returns the selector this predicate was compiled from, for
// diagnostics and re-serialization.
func (p *Compiled) Source() *models.Selector { return p.source }

// Compile validates sel and returns a reusable predicate. Rejects
// syntactically invalid clauses (unknown operator, empty path) up
// front so a bad subscription fails at registration, not at fanout time.
func Compile(sel *models.Selector) (*Compiled, error) {
	if sel == nil {
		return nil, fmt.Errorf("selector: nil selector")
	}

	clauses := make([]func(Candidate) bool, 0, 8)

	if len(sel.AnyTags) > 0 {
		want := sel.AnyTags
		clauses = append(clauses, func(c Candidate) bool {
			return tagsIntersect(c.Breadcrumb.Tags, want)
		})
	}
	if len(sel.AllTags) > 0 {
		want := sel.AllTags
		clauses = append(clauses, func(c Candidate) bool {
			return tagsSuperset(c.Breadcrumb.Tags, want)
		})
	}
	if sel.SchemaName != "" {
		want := sel.SchemaName
		clauses = append(clauses, func(c Candidate) bool {
			return c.Breadcrumb.SchemaName == want
		})
	}
	if sel.OwnerID != "" {
		want := sel.OwnerID
		clauses = append(clauses, func(c Candidate) bool {
			return c.Breadcrumb.Owner == want
		})
	}
	if len(sel.SensitivityIn) > 0 {
		want := sel.SensitivityIn
		clauses = append(clauses, func(c Candidate) bool {
			for _, s := range want {
				if c.Breadcrumb.Sensitivity == s {
					return true
				}
			}
			return false
		})
	}
	if len(sel.VisibilityIn) > 0 {
		want := sel.VisibilityIn
		clauses = append(clauses, func(c Candidate) bool {
			for _, v := range want {
				if c.Breadcrumb.Visibility == v {
					return true
				}
			}
			return false
		})
	}
	for _, clause := range sel.ContextMatch {
		compiled, err := compileContextClause(clause)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, compiled)
	}

	return &Compiled{
		source: sel,
		eval: func(c Candidate) bool {
			for _, clause := range clauses {
				if !clause(c) {
					return false
				}
			}
			return true
		},
	}, nil
}

func compileContextClause(clause models.ContextMatchClause) (func(Candidate) bool, error) {
	if clause.Path == "" {
		return nil, fmt.Errorf("selector: context_match clause missing path")
	}
	switch clause.Op {
	case "eq", "ne", "lt", "gt", "le", "ge", "contains_any", "contains_all", "exists":
	default:
		return nil, fmt.Errorf("selector: unknown context_match operator %q", clause.Op)
	}

	path, op, want := clause.Path, clause.Op, clause.Value
	return func(c Candidate) bool {
		result, exists := jsonpath.Get(c.RawContext, path)
		if op == "exists" {
			return exists
		}
		if !exists {
			return false
		}

		switch op {
		case "eq":
			return valueEqual(result.Value(), want)
		case "ne":
			return !valueEqual(result.Value(), want)
		case "lt", "gt", "le", "ge":
			return compareNumeric(result.Num, want, op)
		case "contains_any":
			return containsAny(result, want)
		case "contains_all":
			return containsAll(result, want)
		}
		return false
	}, nil
}

func tagsIntersect(have, want []string) bool {
	set := toSet(have)
	for _, t := range want {
		if set[t] {
			return true
		}
	}
	return false
}

func tagsSuperset(have, want []string) bool {
	set := toSet(have)
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

func toSet(xs []string) map[string]bool {
	set := make(map[string]bool, len(xs))
	for _, x := range xs {
		set[x] = true
	}
	return set
}

func valueEqual(a, b any) bool {
	aj, err1 := json.Marshal(a)
	bj, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(aj) == string(bj)
}

func compareNumeric(have float64, want any, op string) bool {
	wantNum, ok := toFloat(want)
	if !ok {
		return false
	}
	switch op {
	case "lt":
		return have < wantNum
	case "gt":
		return have > wantNum
	case "le":
		return have <= wantNum
	case "ge":
		return have >= wantNum
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// containsAny reports whether result (expected to be a JSON array) has at
// least one element in common with want (expected to be a []any of
// scalars). Non-array results and non-list want values never match.
func containsAny(result gjson.Result, want any) bool {
	wantList, ok := toStringList(want)
	if !ok || !result.IsArray() {
		return false
	}
	wantSet := toSet(wantList)
	match := false
	result.ForEach(func(_, v gjson.Result) bool {
		if wantSet[v.String()] {
			match = true
			return false
		}
		return true
	})
	return match
}

// containsAll reports whether every element of want appears in result.
func containsAll(result gjson.Result, want any) bool {
	wantList, ok := toStringList(want)
	if !ok || !result.IsArray() {
		return false
	}
	have := make(map[string]bool)
	result.ForEach(func(_, v gjson.Result) bool {
		have[v.String()] = true
		return true
	})
	for _, w := range wantList {
		if !have[w] {
			return false
		}
	}
	return true
}

func toStringList(v any) ([]string, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		switch s := item.(type) {
		case string:
			out = append(out, s)
		default:
			b, err := json.Marshal(s)
			if err != nil {
				return nil, false
			}
			out = append(out, string(b))
		}
	}
	return out, true
}
