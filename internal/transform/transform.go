// Package transform applies a breadcrumb's llm_hints document to its raw
// context on the read path (spec §4.4). The stored context is never
// modified; transforms run per-request against a decoded copy.
package transform

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Spec is the decoded shape of a breadcrumb's llm_hints field.
type Spec struct {
	Transform map[string]Rule `json:"transform,omitempty"`
	Exclude   []string        `json:"exclude,omitempty"`
	Include   []string        `json:"include,omitempty"`
	Mode      string          `json:"mode,omitempty"` // "merge" | "replace"
}

// Rule is one derived-field production. Exactly one of Template,
// Extract, Literal should be set.
type Rule struct {
	Template string `json:"template,omitempty"`
	Extract  string `json:"extract,omitempty"`
	Literal  any    `json:"literal,omitempty"`
}

// Result is the transformed view plus audit markers for any rule that
// referenced a path absent from the context (spec: "must not fail
// silently").
type Result struct {
	Context map[string]any
	Audit   []string
}

var eachRe = regexp.MustCompile(`\{\{#each\s+([^}]+)\}\}(.*?)\{\{/each\}\}`)
var placeholderRe = regexp.MustCompile(`\{\{\s*([^}#/]+?)\s*\}\}`)

// ParseSpec decodes a breadcrumb's llm_hints bytes. A nil/empty document
// is valid and means "no transform" — Apply then returns raw unchanged.
func ParseSpec(raw []byte) (*Spec, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("transform: invalid llm_hints: %w", err)
	}
	if spec.Mode == "" {
		spec.Mode = "merge"
	}
	return &spec, nil
}

// Apply runs spec against rawContext (the breadcrumb's stored JSON
// context) and returns the view to hand back on the context read path.
func Apply(spec *Spec, rawContext []byte) (*Result, error) {
	var base map[string]any
	if len(rawContext) > 0 {
		if err := json.Unmarshal(rawContext, &base); err != nil {
			return nil, fmt.Errorf("transform: invalid context: %w", err)
		}
	}
	if base == nil {
		base = map[string]any{}
	}
	if spec == nil {
		return &Result{Context: base}, nil
	}

	filtered := applyIncludeExclude(base, spec)

	derived := map[string]any{}
	var audit []string
	for key, rule := range spec.Transform {
		value, missing := evalRule(rule, rawContext)
		derived[key] = value
		if missing {
			audit = append(audit, fmt.Sprintf("%s: path not found", key))
		}
	}

	out := filtered
	if spec.Mode == "replace" {
		out = map[string]any{}
	}
	for k, v := range derived {
		out[k] = v
	}

	result := &Result{Context: out}
	if len(audit) > 0 {
		result.Audit = audit
		out["_transform_audit"] = audit
	}
	return result, nil
}

func applyIncludeExclude(base map[string]any, spec *Spec) map[string]any {
	out := make(map[string]any, len(base))
	switch {
	case len(spec.Include) > 0:
		want := toSet(spec.Include)
		for k, v := range base {
			if want[k] {
				out[k] = v
			}
		}
	case len(spec.Exclude) > 0:
		drop := toSet(spec.Exclude)
		for k, v := range base {
			if !drop[k] {
				out[k] = v
			}
		}
	default:
		for k, v := range base {
			out[k] = v
		}
	}
	return out
}

func toSet(xs []string) map[string]bool {
	s := make(map[string]bool, len(xs))
	for _, x := range xs {
		s[x] = true
	}
	return s
}

// evalRule produces a rule's value and reports whether it referenced a
// path that did not resolve (for the audit trail).
func evalRule(rule Rule, rawContext []byte) (any, bool) {
	switch {
	case rule.Extract != "":
		res := gjson.GetBytes(rawContext, normalizePath(rule.Extract))
		if !res.Exists() {
			return "", true
		}
		return res.Value(), false
	case rule.Template != "":
		return expandTemplate(rule.Template, rawContext)
	case rule.Literal != nil:
		return expandLiteral(rule.Literal, rawContext)
	default:
		return nil, true
	}
}

func expandLiteral(lit any, rawContext []byte) (any, bool) {
	switch v := lit.(type) {
	case string:
		return expandTemplate(v, rawContext)
	case map[string]any:
		out := make(map[string]any, len(v))
		missing := false
		for k, val := range v {
			expanded, m := expandLiteral(val, rawContext)
			out[k] = expanded
			missing = missing || m
		}
		return out, missing
	case []any:
		out := make([]any, len(v))
		missing := false
		for i, val := range v {
			expanded, m := expandLiteral(val, rawContext)
			out[i] = expanded
			missing = missing || m
		}
		return out, missing
	default:
		return v, false
	}
}

// expandTemplate resolves {{context.path}} placeholders and {{#each
// expr}}...{{/each}} iteration blocks against rawContext.
func expandTemplate(tmpl string, rawContext []byte) (string, bool) {
	missingAny := false

	tmpl = eachRe.ReplaceAllStringFunc(tmpl, func(block string) string {
		m := eachRe.FindStringSubmatch(block)
		expr, body := strings.TrimSpace(m[1]), m[2]
		res := gjson.GetBytes(rawContext, normalizePath(expr))
		if !res.IsArray() {
			missingAny = true
			return ""
		}
		var sb strings.Builder
		res.ForEach(func(_, item gjson.Result) bool {
			sb.WriteString(expandAgainst(body, item))
			return true
		})
		return sb.String()
	})

	expanded, missing := expandPlaceholders(tmpl, rawContext)
	return expanded, missingAny || missing
}

func expandAgainst(body string, item gjson.Result) string {
	out := placeholderRe.ReplaceAllStringFunc(body, func(m string) string {
		path := strings.TrimSpace(placeholderRe.FindStringSubmatch(m)[1])
		if path == "this" || path == "." {
			return item.String()
		}
		return item.Get(normalizePath(path)).String()
	})
	return out
}

func expandPlaceholders(tmpl string, rawContext []byte) (string, bool) {
	missing := false
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		path := strings.TrimSpace(placeholderRe.FindStringSubmatch(m)[1])
		res := gjson.GetBytes(rawContext, normalizePath(path))
		if !res.Exists() {
			missing = true
			return ""
		}
		return res.String()
	})
	return out, missing
}

func normalizePath(path string) string {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "context.")
	p = strings.TrimPrefix(p, "$.")
	return strings.TrimPrefix(p, "$")
}
